// Package ingest tracks network-fed ASF streams. Each registered stream owns
// a QueueSource that the transport receiver appends to and a demux session
// reads from.
package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/asfdemux/internal/source"
)

// Transport names the receiver that registered a stream.
type Transport string

const (
	TransportSRT  Transport = "srt"
	TransportQUIC Transport = "quic"
)

// IngestStats captures connection-level metrics for an ingest stream.
type IngestStats struct {
	Transport     Transport `json:"transport"`
	BytesReceived int64     `json:"bytesReceived"`
	ReadCount     int64     `json:"readCount"`
	ConnectedAt   int64     `json:"connectedAt"`
	UptimeMs      int64     `json:"uptimeMs"`
	RemoteAddr    string    `json:"remoteAddr"`
}

// Stream is one active ingest connection. Bytes handed to Write are
// appended to the queue the demux session reads.
type Stream struct {
	Key       string
	StartedAt time.Time
	Transport Transport

	queue *source.QueueSource
	done  chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// Write appends p to the stream's queue and records the read.
func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.queue.Write(p)
	if n > 0 {
		s.bytesReceived.Add(int64(n))
		s.readCount.Add(1)
	}
	return n, err
}

func (s *Stream) Queue() *source.QueueSource { return s.queue }

// Done is closed once the stream is unregistered.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// IngestStats returns a snapshot of connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		Transport:     s.Transport,
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active ingest streams by key and hands each new stream
// to the onStream callback, which typically starts a demux session on the
// queue.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream func(s *Stream)
}

// NewRegistry creates a Registry. onStream, if non-nil, is invoked
// asynchronously for every registered stream.
func NewRegistry(onStream func(s *Stream)) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a stream for key. It returns false if key is already
// being received.
func (r *Registry) Register(key string, transport Transport) (*Stream, bool) {
	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Transport: transport,
		queue:     source.NewQueueSource(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.streams[key]; exists {
		r.mu.Unlock()
		return nil, false
	}
	r.streams[key] = stream
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(stream)
	}
	return stream, true
}

// Unregister removes the stream for key and closes its queue. A non-nil
// err is reported to the reader in place of a clean end of stream.
func (r *Registry) Unregister(key string, err error) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.queue.CloseWithError(err)
		close(stream.done)
	}
}

func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns a snapshot of every active stream's stats, keyed by stream
// key.
func (r *Registry) List() map[string]IngestStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]IngestStats, len(r.streams))
	for k, s := range r.streams {
		out[k] = s.IngestStats()
	}
	return out
}
