package session

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/asfdemux/internal/asf"
	"github.com/zsiec/asfdemux/internal/media"
	"github.com/zsiec/asfdemux/internal/source"
)

// engine adapts an asf.Demuxer to scheduler.Engine. Every method except
// StreamKind runs on the scheduler's worker goroutine.
type engine struct {
	log     *slog.Logger
	d       *asf.Demuxer
	readers [128]*asf.FrameReader
	kinds   [128]media.Kind
	ids     []uint8
	facts   *asf.Facts
}

func newEngine(src source.Source, log *slog.Logger, opts ...asf.Option) *engine {
	opts = append([]asf.Option{asf.WithLogger(log)}, opts...)
	return &engine{log: log, d: asf.NewDemuxer(src, opts...)}
}

// Open reads the header and selects every stream that is not encrypted.
func (e *engine) Open() error {
	if e.facts != nil {
		return nil
	}
	facts, err := e.d.Open()
	if err != nil {
		return err
	}
	var ids []uint8
	for _, sp := range facts.Streams {
		if sp.Encrypted {
			e.log.Info("skipping encrypted stream", "stream", sp.ID)
			continue
		}
		r, err := e.d.CreateReader(sp.ID)
		if err != nil {
			return err
		}
		e.readers[sp.ID] = r
		e.kinds[sp.ID] = sp.MediaKind()
		ids = append(ids, sp.ID)
	}
	if len(ids) == 0 {
		return ErrNoStreams
	}
	e.ids = ids
	e.facts = facts
	return nil
}

func (e *engine) Seek(pts uint64) error {
	return e.d.Seek(pts)
}

func (e *engine) NextFrame(id uint8) (*media.Frame, error) {
	r := e.readers[id&0x7f]
	if r == nil {
		return nil, fmt.Errorf("stream %d is not selected", id)
	}
	if err := r.Advance(); err != nil {
		return nil, err
	}
	return r.Frame(), nil
}

func (e *engine) StreamKind(id uint8) media.Kind {
	return e.kinds[id&0x7f]
}
