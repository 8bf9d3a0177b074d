// Package quic receives ASF byte streams over QUIC. A publisher opens one
// bidirectional stream per ASF file; the stream starts with the stream key
// (a QUIC varint length followed by UTF-8 bytes) and then carries the file
// until FIN. The server answers with the number of file bytes it queued,
// as a varint, and closes its side.
package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/asfdemux/internal/ingest"
)

// ALPN is the application protocol negotiated by publishers and the server.
const ALPN = "asf-ingest"

// MaxKeyLen bounds the stream key prefix.
const MaxKeyLen = 1024

const readBufferSize = 64 * 1024

const (
	connClosed quicgo.ApplicationErrorCode = 0

	streamCanceled  quicgo.StreamErrorCode = 0
	streamBadKey    quicgo.StreamErrorCode = 1
	streamDuplicate quicgo.StreamErrorCode = 2
	streamFailed    quicgo.StreamErrorCode = 3
)

var (
	ErrKeyTooLong = errors.New("quic: stream key too long")
	// ErrShortAck is returned by Push when the server queued fewer bytes
	// than were sent.
	ErrShortAck = errors.New("quic: server acknowledged fewer bytes than sent")
)

func quicConfig() *quicgo.Config {
	return &quicgo.Config{
		MaxIdleTimeout:     30 * time.Second,
		MaxIncomingStreams: 16,
		KeepAlivePeriod:    10 * time.Second,
	}
}

// Server accepts QUIC publish connections and registers every incoming
// stream with the ingest registry.
type Server struct {
	log      *slog.Logger
	addr     string
	tls      *tls.Config
	registry *ingest.Registry

	ready chan string
}

// NewServer creates a QUIC ingest server. tlsConf must carry a certificate;
// the ALPN is set by the server. If log is nil, slog.Default() is used.
func NewServer(addr string, tlsConf *tls.Config, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	conf := tlsConf.Clone()
	conf.NextProtos = []string{ALPN}
	return &Server{
		log:      log.With("component", "quic-ingest"),
		addr:     addr,
		tls:      conf,
		registry: registry,
		ready:    make(chan string, 1),
	}
}

// Ready yields the bound address once the listener is up.
func (s *Server) Ready() <-chan string { return s.ready }

// Start accepts connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := quicgo.ListenAddr(s.addr, s.tls, quicConfig())
	if err != nil {
		return fmt.Errorf("QUIC listen on %s: %w", s.addr, err)
	}
	defer l.Close()
	s.log.Info("listening", "addr", l.Addr())
	s.ready <- l.Addr().String()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("QUIC accept: %w", err)
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn quicgo.Connection) {
	remote := conn.RemoteAddr().String()
	s.log.Debug("connection", "remote", remote)
	for {
		str, err := conn.AcceptStream(ctx)
		if err != nil {
			s.log.Debug("connection closed", "remote", remote, "error", err)
			return
		}
		go s.handleStream(ctx, str, remote)
	}
}

func (s *Server) handleStream(ctx context.Context, str quicgo.Stream, remote string) {
	reject := func(code quicgo.StreamErrorCode) {
		str.CancelRead(code)
		str.CancelWrite(code)
	}

	br := bufio.NewReaderSize(str, readBufferSize)
	key, err := ReadKey(br)
	if err != nil {
		s.log.Warn("bad stream key", "remote", remote, "error", err)
		reject(streamBadKey)
		return
	}

	stream, ok := s.registry.Register(key, ingest.TransportQUIC)
	if !ok {
		s.log.Warn("stream key already publishing", "stream_key", key, "remote", remote)
		reject(streamDuplicate)
		return
	}
	stream.SetRemoteAddr(remote)
	s.log.Info("publish", "stream_key", key, "remote", remote)

	stop := context.AfterFunc(ctx, func() { reject(streamCanceled) })
	err = receive(br, stream)
	stop()

	stats := stream.IngestStats()
	s.registry.Unregister(key, err)
	if err != nil {
		reject(streamFailed)
	} else {
		str.Write(quicvarint.Append(nil, uint64(stats.BytesReceived)))
		str.Close()
	}
	s.log.Info("stream closed", "stream_key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs, "error", err)
}

// receive copies r into stream. A clean FIN returns nil.
func receive(r io.Reader, stream *ingest.Stream) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := stream.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// AppendKey appends the stream key prefix to b.
func AppendKey(b []byte, key string) []byte {
	b = quicvarint.Append(b, uint64(len(key)))
	return append(b, key...)
}

// ReadKey reads a stream key prefix.
func ReadKey(r *bufio.Reader) (string, error) {
	n, err := quicvarint.Read(r)
	if err != nil {
		return "", fmt.Errorf("read key length: %w", err)
	}
	if n == 0 {
		return "", errors.New("quic: empty stream key")
	}
	if n > MaxKeyLen {
		return "", ErrKeyTooLong
	}
	key := make([]byte, n)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return string(key), nil
}

// Push dials addr and sends src as one stream under key. It returns the
// number of bytes sent once the server has acknowledged all of them.
func Push(ctx context.Context, addr string, tlsConf *tls.Config, key string, src io.Reader) (int64, error) {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{ALPN}

	conn, err := quicgo.DialAddr(ctx, addr, conf, quicConfig())
	if err != nil {
		return 0, fmt.Errorf("QUIC dial %s: %w", addr, err)
	}
	defer conn.CloseWithError(connClosed, "")

	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return 0, fmt.Errorf("open stream: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		str.CancelWrite(streamCanceled)
		str.CancelRead(streamCanceled)
	})
	defer stop()

	if _, err := str.Write(AppendKey(nil, key)); err != nil {
		return 0, fmt.Errorf("write key: %w", err)
	}
	n, err := io.Copy(str, src)
	if err != nil {
		str.CancelWrite(streamCanceled)
		return n, fmt.Errorf("send: %w", err)
	}
	if err := str.Close(); err != nil {
		return n, err
	}

	acked, err := quicvarint.Read(bufio.NewReader(str))
	if err != nil {
		return n, fmt.Errorf("read ack: %w", err)
	}
	if int64(acked) != n {
		return n, fmt.Errorf("%w: sent %d, queued %d", ErrShortAck, n, acked)
	}
	return n, nil
}
