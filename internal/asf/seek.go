package asf

import (
	"errors"
	"io"
	"math"

	"github.com/zsiec/asfdemux/internal/media"
)

type seekCandidate struct {
	found  bool
	pts    uint64
	packet uint64
	above  bool
}

// Seek repositions every selected stream so that its next frame is the
// latest key frame at or before target (100-ns units, preroll removed).
//
// The starting packet comes from the seek index when it has observations
// for a stream, else from a constant-bitrate estimate. A backward scan
// finds each stream's key frame candidate; a stream with none down to
// packet 0 is assumed to start at pts 0 there. A forward scan then looks
// for better candidates until every stream has shown a frame past target.
// Delivery resumes at the lowest candidate packet, not the highest, so no
// stream's key frame is skipped, and each stream drops frames below its own
// candidate pts.
//
// Seek changes nothing unless it succeeds; ErrNotEnoughData can be retried.
func (d *Demuxer) Seek(target uint64) error {
	if err := d.parser.LastError(); err != nil {
		return err
	}
	f := d.parser.Facts()
	if f == nil {
		return ErrNotOpen
	}
	var sel []*streamState
	for _, st := range d.streams {
		if st != nil {
			sel = append(sel, st)
		}
	}
	if len(sel) == 0 {
		return newError(InvalidStreamReference, "seek", "no streams selected")
	}
	if f.File.Broadcast() || f.PacketCount == 0 {
		return newError(UnsupportedFeature, "seek", "file is not seekable")
	}

	start := uint64(math.MaxUint64)
	for _, st := range sel {
		start = min(start, d.estimatePacket(st.id, target, f))
	}
	start = min(start, f.PacketCount-1)

	src := d.parser.src
	pos := src.Position()
	savedNext := d.parser.next
	restore := func() {
		_, _ = src.Seek(pos, io.SeekStart)
		d.parser.next = savedNext
	}

	cands := make(map[uint8]*seekCandidate, len(sel))
	for _, st := range sel {
		cands[st.id] = &seekCandidate{}
	}
	observe := func(pkt *Packet) {
		for _, pl := range pkt.Payloads {
			d.index.Record(pl.StreamID, pkt.Index, pl.Pts)
			c := cands[pl.StreamID]
			if c == nil {
				continue
			}
			if pl.Pts > target {
				c.above = true
				continue
			}
			if pl.Offset != 0 {
				continue
			}
			if !pl.KeyFrame && d.streams[pl.StreamID].kind != media.KindAudio {
				continue
			}
			if !c.found || pl.Pts > c.pts {
				c.found, c.pts, c.packet = true, pl.Pts, pkt.Index
			}
		}
	}

	for i := start; ; i-- {
		pkt, err := d.parser.ReadPacketAt(i)
		switch {
		case err == nil:
			observe(pkt)
		case skippable(err):
		default:
			restore()
			return err
		}
		if allCandidates(cands, func(c *seekCandidate) bool { return c.found }) || i == 0 {
			break
		}
	}
	for _, c := range cands {
		if !c.found {
			c.found, c.pts, c.packet = true, 0, 0
		}
	}

	for i := start + 1; i < f.PacketCount; i++ {
		if allCandidates(cands, func(c *seekCandidate) bool { return c.above }) {
			break
		}
		pkt, err := d.parser.ReadPacketAt(i)
		if errors.Is(err, ErrNoMoreData) {
			break
		}
		switch {
		case err == nil:
			observe(pkt)
		case skippable(err):
		default:
			restore()
			return err
		}
	}

	resume := uint64(math.MaxUint64)
	for _, c := range cands {
		resume = min(resume, c.packet)
	}
	for _, st := range sel {
		st.reset()
		st.floor = cands[st.id].pts
		st.waitKey = true
	}
	d.next = resume
	d.parser.next = resume
	d.log.Debug("seek", "target", target, "start", start, "resume", resume)
	return nil
}

func (d *Demuxer) estimatePacket(id uint8, target uint64, f *Facts) uint64 {
	est := proportionalPacket(target, f.Duration, f.PacketCount)
	pkt, found, covered := d.index.Estimate(id, target)
	switch {
	case covered:
		return pkt
	case found && pkt > est:
		return pkt
	}
	if ceil, ok := d.index.Ceiling(id, target); ok && ceil < est {
		return ceil
	}
	return est
}

func skippable(err error) bool {
	var pe *PacketError
	return errors.As(err, &pe) || errors.Is(err, ErrNoMoreData)
}

func allCandidates(cands map[uint8]*seekCandidate, ok func(*seekCandidate) bool) bool {
	for _, c := range cands {
		if !ok(c) {
			return false
		}
	}
	return true
}
