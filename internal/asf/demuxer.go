package asf

import (
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/asfdemux/internal/media"
	"github.com/zsiec/asfdemux/internal/source"
)

// streamState is the reassembly state of one selected stream.
type streamState struct {
	id      uint8
	kind    media.Kind
	queue   []*Payload
	floor   uint64
	waitKey bool
	reader  *FrameReader
	dropped uint64
}

// frameSpan returns how many queued payloads make up the head frame and
// whether that frame is known to be complete. A frame ends at a payload
// with a different media object number, after a compressed sibling, or
// once the declared media object size has been reached.
func (st *streamState) frameSpan() (int, bool) {
	if len(st.queue) == 0 {
		return 0, false
	}
	head := st.queue[0]
	if head.Compressed {
		return 1, true
	}
	got := uint64(len(head.Data))
	for i := 1; i < len(st.queue); i++ {
		if head.MediaObjectSize > 0 && got >= uint64(head.MediaObjectSize) {
			return i, true
		}
		p := st.queue[i]
		if p.Compressed || p.MediaObjectNumber != head.MediaObjectNumber {
			return i, true
		}
		got += uint64(len(p.Data))
	}
	if head.MediaObjectSize > 0 && got >= uint64(head.MediaObjectSize) {
		return len(st.queue), true
	}
	return len(st.queue), false
}

func (st *streamState) pop(n int) []*Payload {
	out := make([]*Payload, n)
	copy(out, st.queue[:n])
	clear(st.queue[:n])
	st.queue = st.queue[n:]
	return out
}

// accept applies the drop policies to a complete frame.
func (st *streamState) accept(frame []*Payload) (bool, string) {
	first := frame[0]
	if first.Offset != 0 {
		return false, "orphaned fragment"
	}
	if first.Pts < st.floor {
		return false, "below seek floor"
	}
	if st.waitKey {
		if !first.KeyFrame && st.kind != media.KindAudio {
			return false, "waiting for key frame"
		}
		st.waitKey = false
	}
	return true, ""
}

func (st *streamState) reset() {
	clear(st.queue)
	st.queue = st.queue[:0]
	st.floor = 0
	st.waitKey = false
	if st.reader != nil {
		st.reader.clear()
	}
}

// Demuxer turns the packets read by a Parser into complete frames per
// selected stream and implements timestamp seeking. Like the Parser it is
// not safe for concurrent use; callers serialize access (see the scheduler
// package).
type Demuxer struct {
	cfg     config
	log     *slog.Logger
	parser  *Parser
	index   *SeekIndex
	streams [128]*streamState

	// next is the packet index the next read will decode.
	next uint64
}

func NewDemuxer(src source.Source, opts ...Option) *Demuxer {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Demuxer{
		cfg:    cfg,
		log:    cfg.log.With("component", "asf-demuxer"),
		parser: NewParser(src, opts...),
		index:  NewSeekIndex(cfg.indexCapacity),
	}
}

// Open reads the header. It may be called again after ErrNotEnoughData and
// is a no-op once it has succeeded.
func (d *Demuxer) Open() (*Facts, error) {
	return d.parser.OpenHeader()
}

func (d *Demuxer) Parser() *Parser    { return d.parser }
func (d *Demuxer) Index() *SeekIndex  { return d.index }
func (d *Demuxer) LastError() error   { return d.parser.LastError() }
func (d *Demuxer) NextPacket() uint64 { return d.next }

// CreateReader selects stream id for delivery and returns its reader.
// Calling it twice for one stream returns the same reader.
func (d *Demuxer) CreateReader(id uint8) (*FrameReader, error) {
	if d.parser.Facts() == nil {
		return nil, ErrNotOpen
	}
	sp := d.parser.GetStream(int(id))
	if sp == nil {
		return nil, newError(InvalidStreamReference, "create reader", "stream %d is not declared", id)
	}
	if st := d.streams[id]; st != nil {
		return st.reader, nil
	}
	st := &streamState{id: id, kind: sp.MediaKind()}
	st.reader = &FrameReader{d: d, st: st}
	d.streams[id] = st
	return st.reader, nil
}

// Selected returns the ids of streams with a reader.
func (d *Demuxer) Selected() []uint8 {
	var ids []uint8
	for id, st := range d.streams {
		if st != nil {
			ids = append(ids, uint8(id))
		}
	}
	return ids
}

// Dropped returns how many payloads or frames of stream id were discarded
// by the drop policies or the queue cap.
func (d *Demuxer) Dropped(id uint8) uint64 {
	if st := d.streams[id&0x7f]; st != nil {
		return st.dropped
	}
	return 0
}

// readMore decodes the next packet into the stream queues. Undecodable
// packets are skipped.
func (d *Demuxer) readMore() error {
	pkt, err := d.parser.ReadPacketAt(d.next)
	if err != nil {
		var pe *PacketError
		if errors.As(err, &pe) {
			d.log.Debug("skipping packet", "packet", pe.Index, "error", pe.Err)
			d.next = pe.Index + 1
			return nil
		}
		return err
	}
	d.next = pkt.Index + 1
	d.distribute(pkt)
	return nil
}

func (d *Demuxer) distribute(pkt *Packet) {
	for _, pl := range pkt.Payloads {
		d.index.Record(pl.StreamID, pkt.Index, pl.Pts)
		st := d.streams[pl.StreamID]
		if st == nil {
			continue
		}
		if pl.Pts < st.floor {
			st.dropped++
			continue
		}
		if len(st.queue) >= d.cfg.queueCapacity {
			d.log.Debug("stream queue full, dropping oldest payload", "stream", st.id, "packet", pkt.Index)
			st.queue[0] = nil
			st.queue = st.queue[1:]
			st.dropped++
		}
		st.queue = append(st.queue, pl)
	}
}

// FrameReader delivers the frames of one stream in order.
type FrameReader struct {
	d  *Demuxer
	st *streamState

	valid bool
	pts   uint64
	key   bool
	mon   uint32
	data  []byte
}

func (r *FrameReader) StreamID() uint8  { return r.st.id }
func (r *FrameReader) Kind() media.Kind { return r.st.kind }

func (r *FrameReader) clear() {
	r.valid = false
	r.data = nil
}

// Advance moves to the next frame, reading packets as needed. It returns
// ErrNotEnoughData when the source must grow first (call again later; no
// queued payload is lost) and ErrNoMoreData after the last frame.
func (r *FrameReader) Advance() error {
	d := r.d
	if err := d.parser.LastError(); err != nil {
		return err
	}
	r.clear()
	st := r.st
	for {
		n, complete := st.frameSpan()
		if !complete {
			err := d.readMore()
			switch {
			case err == nil:
				continue
			case errors.Is(err, ErrNoMoreData) && n > 0:
				// End of data closes the last frame.
			default:
				return err
			}
		}
		frame := st.pop(n)
		if ok, reason := st.accept(frame); !ok {
			st.dropped++
			d.log.Debug("dropping frame", "stream", st.id, "reason", reason,
				"object", frame[0].MediaObjectNumber, "pts", frame[0].Pts)
			continue
		}
		return r.assemble(frame)
	}
}

func (r *FrameReader) assemble(frame []*Payload) error {
	total := 0
	for _, p := range frame {
		total += len(p.Data)
	}
	if total > r.d.cfg.maxFrameSize {
		return r.d.parser.fail(newError(OutOfMemory, "advance", "stream %d frame of %d bytes exceeds ceiling %d", r.st.id, total, r.d.cfg.maxFrameSize))
	}
	data := make([]byte, 0, total)
	for _, p := range frame {
		data = append(data, p.Data...)
	}
	first := frame[0]
	r.valid = true
	r.pts = first.Pts
	r.key = first.KeyFrame || r.st.kind == media.KindAudio
	r.mon = first.MediaObjectNumber
	r.data = data
	return nil
}

// Size returns the current frame's length in bytes.
func (r *FrameReader) Size() int { return len(r.data) }

// Pts returns the current frame's presentation time in 100-ns units.
func (r *FrameReader) Pts() uint64 { return r.pts }

func (r *FrameReader) IsKeyFrame() bool { return r.key }

// Write copies the current frame into dst.
func (r *FrameReader) Write(dst []byte) (int, error) {
	if !r.valid {
		return 0, io.EOF
	}
	if len(dst) < len(r.data) {
		return 0, io.ErrShortBuffer
	}
	return copy(dst, r.data), nil
}

// Frame hands the current frame off as a reference-counted media.Frame.
// The reader does not reuse the buffer, so the frame stays valid after the
// next Advance.
func (r *FrameReader) Frame() *media.Frame {
	if !r.valid {
		return nil
	}
	f := media.NewFrame(r.st.id, r.st.kind, int64(r.pts), r.key, r.data, nil)
	f.MediaObject = r.mon
	return f
}
