package quic

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/asfdemux/internal/asftest"
	"github.com/zsiec/asfdemux/internal/certs"
	"github.com/zsiec/asfdemux/internal/ingest"
)

func TestKeyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []byte
		want    string
		wantErr bool
	}{
		{name: "simple", in: AppendKey(nil, "camera1"), want: "camera1"},
		{name: "nested", in: AppendKey(nil, "studio/cam"), want: "studio/cam"},
		{name: "empty", in: AppendKey(nil, ""), wantErr: true},
		{name: "truncated", in: AppendKey(nil, "camera1")[:4], wantErr: true},
		{name: "no length", in: nil, wantErr: true},
		{name: "too long", in: quicvarint.Append(nil, MaxKeyLen+1), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ReadKey(bufio.NewReader(bytes.NewReader(tc.in)))
			if (err != nil) != tc.wantErr {
				t.Fatalf("ReadKey err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ReadKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReadKeyLeavesPayload(t *testing.T) {
	t.Parallel()

	br := bufio.NewReader(bytes.NewReader(append(AppendKey(nil, "k"), 0xAA, 0xBB)))
	if _, err := ReadKey(br); err != nil {
		t.Fatal(err)
	}
	rest, _ := io.ReadAll(br)
	if !bytes.Equal(rest, []byte{0xAA, 0xBB}) {
		t.Errorf("payload %x", rest)
	}
}

func startServer(t *testing.T, reg *ingest.Registry) (string, *certs.CertInfo) {
	t.Helper()
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer("127.0.0.1:0", cert.ServerTLS(), reg, nil)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	select {
	case addr := <-srv.Ready():
		return addr, cert
	case err := <-errc:
		t.Fatalf("server exited: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}
	return "", nil
}

func TestPushLoopback(t *testing.T) {
	t.Parallel()

	streams := make(chan *ingest.Stream, 1)
	reg := ingest.NewRegistry(func(s *ingest.Stream) { streams <- s })
	addr, cert := startServer(t, reg)

	data := asftest.Build(asftest.AV(3000))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := Push(ctx, addr, certs.PinnedTLS(cert.Fingerprint), "live/cam", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("pushed %d bytes, want %d", n, len(data))
	}

	var s *ingest.Stream
	select {
	case s = <-streams:
	case <-ctx.Done():
		t.Fatal("stream never registered")
	}
	if s.Key != "live/cam" || s.Transport != ingest.TransportQUIC {
		t.Errorf("stream %q over %q", s.Key, s.Transport)
	}
	<-s.Done()

	q := s.Queue()
	got := make([]byte, q.Len())
	if err := q.ReadExact(got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("queued bytes differ from the pushed file")
	}
}

func TestPushRejectsWrongCertificate(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, ingest.NewRegistry(nil))
	other, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := Push(ctx, addr, certs.PinnedTLS(other.Fingerprint), "k", bytes.NewReader([]byte{1})); err == nil {
		t.Fatal("Push succeeded against an unpinned certificate")
	}
}

func TestPushDuplicateKey(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil)
	if _, ok := reg.Register("busy", ingest.TransportSRT); !ok {
		t.Fatal("Register failed")
	}
	addr, cert := startServer(t, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Push(ctx, addr, certs.PinnedTLS(cert.Fingerprint), "busy", bytes.NewReader(make([]byte, 100)))
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Push = %v, want a stream reset", err)
	}
}
