package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMemorySourceReadPeekSeek(t *testing.T) {
	t.Parallel()

	s := NewMemorySource([]byte{1, 2, 3, 4, 5})

	p := make([]byte, 2)
	if err := s.Peek(p); err != nil {
		t.Fatal(err)
	}
	if s.Position() != 0 {
		t.Fatalf("Peek advanced position to %d", s.Position())
	}
	if err := s.ReadExact(p); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, []byte{1, 2}) {
		t.Fatalf("got %v", p)
	}

	big := make([]byte, 4)
	if err := s.ReadExact(big); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want ErrUnexpectedEOF", err)
	}
	if s.Position() != 2 {
		t.Fatalf("failed read moved position to %d", s.Position())
	}

	if _, err := s.Seek(-1, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	if err := s.ReadExact(p[:1]); err != nil || p[0] != 5 {
		t.Fatalf("read at end: %v %v", p[0], err)
	}
	if !s.Eof() {
		t.Error("expected Eof")
	}
	if err := s.ReadExact(p[:1]); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want EOF", err)
	}
}

func TestFileSourcePeekDoesNotAdvance(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xAB}, fileReadBufferSize+100)
	data[fileReadBufferSize+50] = 0x01
	s := NewFileSource(bytes.NewReader(data), int64(len(data)))

	big := make([]byte, fileReadBufferSize+60)
	if err := s.Peek(big); err != nil {
		t.Fatal(err)
	}
	if s.Position() != 0 {
		t.Fatalf("position = %d after Peek", s.Position())
	}
	if big[fileReadBufferSize+50] != 0x01 {
		t.Fatal("peek content mismatch")
	}

	if _, err := s.Seek(int64(fileReadBufferSize+50), io.SeekStart); err != nil {
		t.Fatal(err)
	}
	b := make([]byte, 1)
	if err := s.ReadExact(b); err != nil || b[0] != 0x01 {
		t.Fatalf("read after seek: %x %v", b, err)
	}
	if !IsPositionAvailable(s, int64(len(data))) {
		t.Error("end of file should be available")
	}
	if IsPositionAvailable(s, int64(len(data))+1) {
		t.Error("past end of file should not be available")
	}
}

func TestQueueSourceNotEnoughDataThenAppend(t *testing.T) {
	t.Parallel()

	q := NewQueueSource()
	q.Write([]byte{1, 2, 3})

	p := make([]byte, 5)
	if err := q.ReadExact(p); !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("got %v, want ErrNotEnoughData", err)
	}
	if q.Position() != 0 {
		t.Fatalf("position moved to %d", q.Position())
	}
	if IsPositionAvailable(q, 5) {
		t.Error("position 5 should not be available yet")
	}

	q.Write([]byte{4, 5, 6})
	if err := q.ReadExact(p); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("got %v", p)
	}
	if q.Size() != -1 {
		t.Errorf("Size before close = %d, want -1", q.Size())
	}

	q.Close()
	if q.Size() != 6 {
		t.Errorf("Size after close = %d, want 6", q.Size())
	}
	if err := q.ReadExact(p[:2]); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want ErrUnexpectedEOF", err)
	}
	if _, err := q.Write([]byte{7}); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("write after close: %v", err)
	}
}

func TestQueueSourceWait(t *testing.T) {
	t.Parallel()

	q := NewQueueSource()
	done := make(chan error, 1)
	go func() {
		done <- q.Wait(context.Background(), 4)
	}()

	q.Write([]byte{1, 2})
	select {
	case err := <-done:
		t.Fatalf("Wait returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	q.Write([]byte{3, 4})
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after data arrived")
	}
}

func TestQueueSourceWaitContext(t *testing.T) {
	t.Parallel()

	q := NewQueueSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Wait(ctx, 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestQueueSourceCloseWithError(t *testing.T) {
	t.Parallel()

	q := NewQueueSource()
	boom := errors.New("connection reset")
	q.CloseWithError(boom)
	if err := q.ReadExact(make([]byte, 1)); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
}
