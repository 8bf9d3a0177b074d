package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, ok := r.Register("test-stream", TransportSRT)
	if !ok {
		t.Fatal("Register returned false for a new key")
	}
	if stream.Key != "test-stream" || stream.Transport != TransportSRT {
		t.Fatalf("got %q/%q", stream.Key, stream.Transport)
	}
	if stream.Queue() == nil {
		t.Fatal("queue is nil")
	}

	got, ok := r.Get("test-stream")
	if !ok || got != stream {
		t.Fatal("Get did not return the registered stream")
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("Get returned true for missing stream")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	r.Register("dup", TransportSRT)
	if _, ok := r.Register("dup", TransportQUIC); ok {
		t.Fatal("second Register for the same key succeeded")
	}
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _ := r.Register("stream1", TransportSRT)
	stream.Write([]byte{1, 2, 3})
	r.Unregister("stream1", nil)
	r.Unregister("nonexistent", nil)

	if _, ok := r.Get("stream1"); ok {
		t.Fatal("stream still found after Unregister")
	}
	select {
	case <-stream.Done():
	default:
		t.Fatal("Done not closed")
	}

	q := stream.Queue()
	if q.Size() != 3 {
		t.Fatalf("Size = %d, want 3 once closed", q.Size())
	}
	buf := make([]byte, 3)
	if err := q.ReadExact(buf); err != nil {
		t.Fatal(err)
	}
	if err := q.ReadExact(buf[:1]); err != io.EOF {
		t.Fatalf("expected EOF after Unregister, got %v", err)
	}
	if _, err := stream.Write([]byte{4}); err == nil {
		t.Fatal("write after Unregister succeeded")
	}
}

func TestRegistryUnregisterWithError(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _ := r.Register("s", TransportQUIC)
	reset := errors.New("peer reset")
	r.Unregister("s", reset)

	if err := stream.Queue().ReadExact(make([]byte, 1)); !errors.Is(err, reset) {
		t.Fatalf("got %v, want %v", err, reset)
	}
}

func TestRegistryOnStreamCallback(t *testing.T) {
	t.Parallel()

	got := make(chan *Stream, 1)
	r := NewRegistry(func(s *Stream) { got <- s })
	stream, _ := r.Register("cb-stream", TransportQUIC)

	select {
	case s := <-got:
		if s != stream {
			t.Fatal("callback got a different stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onStream callback not called within timeout")
	}
}

func TestStreamWriteFeedsQueue(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _ := r.Register("s1", TransportSRT)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	waited := make(chan error, 1)
	go func() { waited <- stream.Queue().Wait(ctx, 300) }()

	stream.Write(make([]byte, 100))
	stream.Write(make([]byte, 200))
	if err := <-waited; err != nil {
		t.Fatal(err)
	}

	stats := stream.IngestStats()
	if stats.BytesReceived != 300 || stats.ReadCount != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Transport != TransportSRT {
		t.Fatalf("Transport = %q", stats.Transport)
	}
}

func TestStreamSetRemoteAddr(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _ := r.Register("s1", TransportSRT)
	stream.SetRemoteAddr("192.168.1.1:5000")

	if got := r.List()["s1"].RemoteAddr; got != "192.168.1.1:5000" {
		t.Fatalf("RemoteAddr = %q", got)
	}
}

func TestStreamIngestStatsUptime(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _ := r.Register("s1", TransportSRT)
	time.Sleep(10 * time.Millisecond)

	stats := stream.IngestStats()
	if stats.UptimeMs < 10 {
		t.Fatalf("UptimeMs = %d, expected at least 10", stats.UptimeMs)
	}
	if stats.ConnectedAt == 0 {
		t.Fatal("ConnectedAt is zero")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "stream-" + string(rune('A'+n%26))
			if s, ok := r.Register(key, TransportSRT); ok {
				s.Write([]byte{byte(n)})
			}
			r.Get(key)
			r.List()
			r.Unregister(key, nil)
		}(i)
	}
	wg.Wait()
}
