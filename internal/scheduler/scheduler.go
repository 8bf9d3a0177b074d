// Package scheduler serializes every call into a demuxer onto one worker
// goroutine. Requests are ordered by priority (open, then seek, then frame
// requests by stream type) and run to completion one at a time; results are
// delivered through callbacks on the worker goroutine.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zsiec/asfdemux/internal/media"
)

var (
	// ErrSuperseded is passed to the callback of a queued seek replaced by
	// a newer one.
	ErrSuperseded = errors.New("scheduler: seek superseded")
	// ErrClosed is returned for requests submitted after Close, and passed
	// to the callbacks of requests still queued when the scheduler stops.
	ErrClosed = errors.New("scheduler: closed")
)

// Priority orders queued requests. Lower values run first.
type Priority int

const (
	PriorityOpen Priority = iota
	PrioritySeek
	PriorityAudio
	PriorityVideo
	PriorityCommand
	PriorityOther
)

func (p Priority) String() string {
	switch p {
	case PriorityOpen:
		return "open"
	case PrioritySeek:
		return "seek"
	case PriorityAudio:
		return "audio"
	case PriorityVideo:
		return "video"
	case PriorityCommand:
		return "command"
	default:
		return "other"
	}
}

// PriorityFor returns the frame request priority of a stream kind.
func PriorityFor(k media.Kind) Priority {
	switch k {
	case media.KindAudio:
		return PriorityAudio
	case media.KindVideo:
		return PriorityVideo
	case media.KindCommand:
		return PriorityCommand
	default:
		return PriorityOther
	}
}

type request struct {
	prio  Priority
	seq   uint64
	task  func() error
	done  func(error)
	index int
}

// requestQueue is a container/heap min-heap on (prio, seq).
type requestQueue []*request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].prio != q[j].prio {
		return q[i].prio < q[j].prio
	}
	return q[i].seq < q[j].seq
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x any) {
	r := x.(*request)
	r.index = len(*q)
	*q = append(*q, r)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*q = old[:n-1]
	return r
}

// Scheduler owns one worker goroutine, started by Run.
type Scheduler struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   requestQueue
	seq     uint64
	seek    *request   // the queued seek, if any
	retired []*request // superseded seeks awaiting their callback
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// New creates a Scheduler. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:     log.With("component", "scheduler"),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Submit queues task at priority p. done, if non-nil, receives the task's
// result on the worker goroutine. A seek replaces any seek still queued.
func (s *Scheduler) Submit(p Priority, task func() error, done func(error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	r := &request{prio: p, seq: s.seq, task: task, done: done}
	s.seq++

	if p == PrioritySeek {
		if old := s.seek; old != nil {
			heap.Remove(&s.queue, old.index)
			s.retired = append(s.retired, old)
			s.log.Debug("seek superseded", "seq", old.seq)
		}
		s.seek = r
	}
	heap.Push(&s.queue, r)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued requests.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) next() *request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	r := heap.Pop(&s.queue).(*request)
	if r == s.seek {
		s.seek = nil
	}
	return r
}

// Run executes requests until ctx is done or Close is called. Requests
// still queued at that point are completed with ErrClosed.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.drain()
	for {
		s.retire()
		if r := s.next(); r != nil {
			err := r.task()
			if r.done != nil {
				r.done(err)
			}
			continue
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// Close stops accepting requests. Run returns once the requests queued so
// far have run.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}

// retire completes superseded seeks with ErrSuperseded.
func (s *Scheduler) retire() {
	s.mu.Lock()
	retired := s.retired
	s.retired = nil
	s.mu.Unlock()

	for _, r := range retired {
		if r.done != nil {
			r.done(ErrSuperseded)
		}
	}
}

func (s *Scheduler) drain() {
	s.retire()
	s.mu.Lock()
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.seek = nil
	s.mu.Unlock()

	for _, r := range pending {
		if r.done != nil {
			r.done(ErrClosed)
		}
	}
}
