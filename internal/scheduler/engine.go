package scheduler

import "github.com/zsiec/asfdemux/internal/media"

// Engine is the single-threaded demuxer surface the scheduler drives. None
// of its methods block: a method that needs bytes not yet received returns
// the engine's not-enough-data error and is resubmitted by the caller.
type Engine interface {
	Open() error
	Seek(pts uint64) error
	NextFrame(streamID uint8) (*media.Frame, error)
	StreamKind(streamID uint8) media.Kind
}

// Open queues e.Open at the highest priority.
func (s *Scheduler) Open(e Engine, done func(error)) error {
	return s.Submit(PriorityOpen, e.Open, done)
}

// Seek queues e.Seek, replacing any seek still waiting.
func (s *Scheduler) Seek(e Engine, pts uint64, done func(error)) error {
	return s.Submit(PrioritySeek, func() error { return e.Seek(pts) }, done)
}

// RequestFrame queues a frame request for one stream at its stream-type
// priority. done owns the frame it receives.
func (s *Scheduler) RequestFrame(e Engine, streamID uint8, done func(*media.Frame, error)) error {
	var f *media.Frame
	// StreamKind runs on the caller's goroutine; engines answer it from
	// header facts that no longer change once Open has succeeded.
	p := PriorityFor(e.StreamKind(streamID))
	return s.Submit(p, func() error {
		var err error
		f, err = e.NextFrame(streamID)
		return err
	}, func(err error) {
		if err != nil && f != nil {
			f.Release()
			f = nil
		}
		done(f, err)
	})
}
