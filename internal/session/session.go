// Package session drives one demuxing session: a byte source is opened
// through the scheduler, every playable stream is selected, and frames are
// pumped in presentation order into a framewire sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/asfdemux/internal/asf"
	"github.com/zsiec/asfdemux/internal/framewire"
	"github.com/zsiec/asfdemux/internal/media"
	"github.com/zsiec/asfdemux/internal/report"
	"github.com/zsiec/asfdemux/internal/scheduler"
	"github.com/zsiec/asfdemux/internal/source"
)

// ErrNoStreams is returned when a file has no stream that can be delivered.
var ErrNoStreams = errors.New("session: no playable streams")

// State is the lifecycle state of a Session.
type State int32

const (
	StateOpening State = iota
	StateRunning
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

// Config describes one session.
type Config struct {
	Key    string
	Source source.Source
	// Queue is set for network-fed sources. When the demuxer runs out of
	// bytes the session waits on it and resubmits the request; without a
	// queue, running out of bytes ends the session with an error.
	Queue *source.QueueSource
	Sink  io.Writer

	// SeekTo, when non-zero, is a presentation time (100-ns units) to seek
	// to before the first frame.
	SeekTo uint64

	Options []asf.Option
	Log     *slog.Logger
}

type streamStats struct {
	frames atomic.Int64
	bytes  atomic.Int64
	last   atomic.Int64
}

// StreamStats is a point-in-time snapshot of one stream's delivery.
type StreamStats struct {
	ID      uint8  `json:"id"`
	Kind    string `json:"kind"`
	Codec   string `json:"codec"`
	Frames  int64  `json:"frames"`
	Bytes   int64  `json:"bytes"`
	LastPTS int64  `json:"lastPts"`
}

// Stats is a point-in-time snapshot of a session.
type Stats struct {
	Key       string        `json:"key"`
	State     string        `json:"state"`
	StartedAt int64         `json:"startedAt"`
	UptimeMs  int64         `json:"uptimeMs"`
	Error     string        `json:"error,omitempty"`
	Streams   []StreamStats `json:"streams"`
}

// Session pumps frames from one source. Run it once.
type Session struct {
	cfg       Config
	log       *slog.Logger
	sched     *scheduler.Scheduler
	eng       *engine
	out       *framewire.Writer
	startedAt time.Time

	state atomic.Int32
	// gen counts committed seeks. It is only written on the scheduler's
	// worker goroutine, so a frame tagged with gen g was produced after
	// exactly g seeks.
	gen   atomic.Uint64
	stats [128]streamStats

	mu     sync.Mutex
	err    error
	report *report.Report
}

func New(cfg Config) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "session", "key", cfg.Key)
	sink := cfg.Sink
	if sink == nil {
		sink = io.Discard
	}
	return &Session{
		cfg:       cfg,
		log:       log,
		sched:     scheduler.New(log),
		eng:       newEngine(cfg.Source, log, cfg.Options...),
		out:       framewire.NewWriter(sink),
		startedAt: time.Now(),
	}
}

func (s *Session) Key() string { return s.cfg.Key }

func (s *Session) State() State { return State(s.state.Load()) }

// Report returns the probe report once the header has been read.
func (s *Session) Report() (report.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return report.Report{}, false
	}
	return *s.report, true
}

// Stats returns a snapshot of delivery counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Key:       s.cfg.Key,
		State:     s.State().String(),
		StartedAt: s.startedAt.UnixMilli(),
		UptimeMs:  time.Since(s.startedAt).Milliseconds(),
	}
	s.mu.Lock()
	if s.err != nil {
		st.Error = s.err.Error()
	}
	var streams []report.Stream
	if s.report != nil {
		streams = s.report.Streams
	}
	s.mu.Unlock()

	for _, rs := range streams {
		c := &s.stats[rs.ID&0x7f]
		st.Streams = append(st.Streams, StreamStats{
			ID:      rs.ID,
			Kind:    media.Kind(rs.Kind).String(),
			Codec:   rs.Codec,
			Frames:  c.frames.Load(),
			Bytes:   c.bytes.Load(),
			LastPTS: c.last.Load(),
		})
	}
	return st
}

// Run opens the source and pumps frames until every stream has ended, an
// error occurs, or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.sched.Run(gctx)
	})
	g.Go(func() error {
		defer s.sched.Close()
		return s.pump(gctx)
	})
	err := g.Wait()

	if err != nil {
		s.state.Store(int32(StateFailed))
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return err
	}
	s.state.Store(int32(StateDone))
	return nil
}

// Seek asks the running session to reposition. A seek still queued when a
// newer one arrives is dropped and its done receives scheduler.ErrSuperseded.
func (s *Session) Seek(pts uint64, done func(error)) error {
	return s.sched.Seek(s.eng, pts, func(err error) {
		if err == nil {
			s.gen.Add(1)
		}
		if done != nil {
			done(err)
		}
	})
}

// call submits one request and waits for its result, resubmitting after
// more bytes arrive whenever the demuxer reports ErrNotEnoughData.
func (s *Session) call(ctx context.Context, submit func(done func(error)) error) error {
	for {
		mark := s.queueLen()
		res := make(chan error, 1)
		if err := submit(func(err error) { res <- err }); err != nil {
			return err
		}
		var err error
		select {
		case err = <-res:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !errors.Is(err, asf.ErrNotEnoughData) {
			return err
		}
		if err := s.waitForData(ctx, mark); err != nil {
			return err
		}
	}
}

func (s *Session) queueLen() int64 {
	if s.cfg.Queue == nil {
		return 0
	}
	return s.cfg.Queue.Len()
}

func (s *Session) waitForData(ctx context.Context, mark int64) error {
	q := s.cfg.Queue
	if q == nil {
		return fmt.Errorf("session %s: source exhausted: %w", s.cfg.Key, asf.ErrNotEnoughData)
	}
	return q.Wait(ctx, mark+1)
}

func (s *Session) open(ctx context.Context) error {
	err := s.call(ctx, func(done func(error)) error {
		return s.sched.Open(s.eng, done)
	})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	r := report.FromFacts(s.eng.facts)
	s.mu.Lock()
	s.report = &r
	s.mu.Unlock()

	for _, rs := range r.Streams {
		if s.eng.readers[rs.ID] == nil {
			continue
		}
		info := framewire.StreamInfo{ID: rs.ID, Kind: media.Kind(rs.Kind), Codec: rs.Codec}
		if err := s.out.WriteStream(info); err != nil {
			return err
		}
	}
	s.log.Info("session opened", "streams", len(s.eng.ids), "packets", r.PacketCount, "protected", r.Protected)
	return nil
}

type fetched struct {
	id  uint8
	f   *media.Frame
	gen uint64
	err error
}

// fetch requests the next frame of each stream in ids. The scheduler runs
// the requests in stream-type priority order.
func (s *Session) fetch(ctx context.Context, ids []uint8) ([]fetched, error) {
	pending := ids
	var out []fetched
	for len(pending) > 0 {
		mark := s.queueLen()
		res := make(chan fetched, len(pending))
		for _, id := range pending {
			err := s.sched.RequestFrame(s.eng, id, func(f *media.Frame, err error) {
				res <- fetched{id: id, f: f, gen: s.gen.Load(), err: err}
			})
			if err != nil {
				releaseAll(out)
				return nil, err
			}
		}

		var retry []uint8
		var failed error
		for range pending {
			var r fetched
			select {
			case r = <-res:
			case <-ctx.Done():
				releaseAll(out)
				return nil, ctx.Err()
			}
			switch {
			case errors.Is(r.err, asf.ErrNotEnoughData):
				retry = append(retry, r.id)
			case r.err != nil && !errors.Is(r.err, asf.ErrNoMoreData) && failed == nil:
				failed = fmt.Errorf("stream %d: %w", r.id, r.err)
				out = append(out, r)
			default:
				out = append(out, r)
			}
		}
		if failed != nil {
			releaseAll(out)
			return nil, failed
		}
		if len(retry) > 0 {
			if err := s.waitForData(ctx, mark); err != nil {
				releaseAll(out)
				return nil, err
			}
		}
		pending = retry
	}
	return out, nil
}

func releaseAll(rs []fetched) {
	for _, r := range rs {
		if r.f != nil {
			r.f.Release()
		}
	}
}

type head struct {
	f   *media.Frame
	gen uint64
}

// pump delivers frames across streams in presentation order: it keeps one
// head frame per stream and always writes the earliest.
func (s *Session) pump(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	if s.cfg.SeekTo > 0 {
		err := s.call(ctx, func(done func(error)) error {
			return s.Seek(s.cfg.SeekTo, done)
		})
		if err != nil {
			return fmt.Errorf("seek: %w", err)
		}
	}
	s.state.Store(int32(StateRunning))

	heads := make(map[uint8]head)
	ended := make(map[uint8]uint64) // stream -> gen at which it ended
	defer func() {
		for _, h := range heads {
			h.f.Release()
		}
	}()

	for {
		gen := s.gen.Load()
		var need []uint8
		for _, id := range s.eng.ids {
			if h, ok := heads[id]; ok && h.gen != gen {
				h.f.Release()
				delete(heads, id)
			}
			if g, ok := ended[id]; ok && g == gen {
				continue
			}
			if _, ok := heads[id]; !ok {
				need = append(need, id)
			}
		}

		got, err := s.fetch(ctx, need)
		if err != nil {
			return err
		}
		for _, r := range got {
			switch {
			case r.f != nil:
				heads[r.id] = head{f: r.f, gen: r.gen}
			case errors.Is(r.err, asf.ErrNoMoreData):
				ended[r.id] = r.gen
			}
		}

		best, ok := earliest(heads, s.gen.Load())
		if !ok {
			if len(need) == 0 || allEnded(s.eng.ids, ended, s.gen.Load()) {
				s.log.Info("session finished")
				return nil
			}
			continue
		}
		h := heads[best]
		delete(heads, best)
		err = s.out.WriteFrame(h.f)
		c := &s.stats[best]
		c.frames.Add(1)
		c.bytes.Add(int64(len(h.f.Data)))
		c.last.Store(h.f.PTS)
		h.f.Release()
		if err != nil {
			return err
		}
	}
}

// earliest returns the stream whose head frame of generation gen has the
// lowest pts, ties broken by stream id.
func earliest(heads map[uint8]head, gen uint64) (uint8, bool) {
	ids := make([]uint8, 0, len(heads))
	for id, h := range heads {
		if h.gen == gen {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, false
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := heads[ids[i]].f, heads[ids[j]].f
		if a.PTS != b.PTS {
			return a.PTS < b.PTS
		}
		return ids[i] < ids[j]
	})
	return ids[0], true
}

func allEnded(ids []uint8, ended map[uint8]uint64, gen uint64) bool {
	for _, id := range ids {
		if g, ok := ended[id]; !ok || g != gen {
			return false
		}
	}
	return true
}
