package source

import (
	"context"
	"io"
	"sync"
)

// QueueSource is an append-only byte queue fed by an asynchronous producer
// (a network receiver) and consumed by a single reader. All bytes written
// are retained so the reader can seek backwards.
//
// Reads never block: when the requested range has not arrived yet they
// return ErrNotEnoughData. Callers that want to wait use Wait.
type QueueSource struct {
	mu     sync.Mutex
	buf    []byte
	pos    int64
	closed bool
	err    error
	// signal is closed and replaced on every append or close.
	signal chan struct{}
}

// NewQueueSource returns an empty, open queue.
func NewQueueSource() *QueueSource {
	return &QueueSource{signal: make(chan struct{})}
}

// Write appends p. It implements io.Writer for the producer side.
func (q *QueueSource) Write(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, io.ErrClosedPipe
	}
	q.buf = append(q.buf, p...)
	q.broadcast()
	return len(p), nil
}

// Close marks the end of the stream.
func (q *QueueSource) Close() error {
	return q.CloseWithError(nil)
}

// CloseWithError ends the stream. A nil err means a clean end; otherwise
// reads past the available data return err.
func (q *QueueSource) CloseWithError(err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.err = err
	q.broadcast()
	return nil
}

func (q *QueueSource) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Len returns the number of bytes received so far.
func (q *QueueSource) Len() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.buf))
}

// Wait blocks until pos bytes are available, the queue is closed, or ctx is
// done.
func (q *QueueSource) Wait(ctx context.Context, pos int64) error {
	for {
		q.mu.Lock()
		if int64(len(q.buf)) >= pos || q.closed {
			q.mu.Unlock()
			return nil
		}
		ch := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (q *QueueSource) ReadExact(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.peekLocked(p); err != nil {
		return err
	}
	q.pos += int64(len(p))
	return nil
}

func (q *QueueSource) Peek(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peekLocked(p)
}

func (q *QueueSource) peekLocked(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	avail := int64(len(q.buf))
	end := q.pos + int64(len(p))
	if end <= avail {
		copy(p, q.buf[q.pos:end])
		return nil
	}
	if !q.closed {
		return ErrNotEnoughData
	}
	if q.err != nil {
		return q.err
	}
	if q.pos >= avail {
		return io.EOF
	}
	return io.ErrUnexpectedEOF
}

// Seek may move past the received data; subsequent reads then report
// ErrNotEnoughData until the bytes arrive.
func (q *QueueSource) Seek(offset int64, whence int) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos, err := resolveSeek(q.pos, q.sizeLocked(), offset, whence)
	if err != nil {
		return q.pos, err
	}
	q.pos = pos
	return pos, nil
}

func (q *QueueSource) Position() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pos
}

func (q *QueueSource) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

func (q *QueueSource) sizeLocked() int64 {
	if q.closed {
		return int64(len(q.buf))
	}
	return -1
}

func (q *QueueSource) LastAvailablePosition() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.buf))
}

func (q *QueueSource) Eof() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && q.pos >= int64(len(q.buf))
}
