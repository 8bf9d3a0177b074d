// Package framewire serializes reconstructed frames onto a byte stream so a
// decode pipeline in another process (or a file) can consume them.
//
// Wire format: the magic "ASFW" and a version varint, then records. Each
// record is [type (varint)] followed by its fields; integers are QUIC
// variable-length integers and byte strings are varint-length prefixed.
//
//	stream: id, kind, codec
//	frame:  stream id, flags (bit 0: key frame), pts, media object, data
package framewire

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/asfdemux/internal/media"
)

const (
	magic   = "ASFW"
	Version = 1

	// DefaultMaxRecordSize bounds the data a reader accepts for one frame.
	DefaultMaxRecordSize = 64 << 20
)

// Record types.
const (
	RecordStream uint64 = 0x01
	RecordFrame  uint64 = 0x02
)

const flagKeyFrame = 0x01

var (
	ErrBadMagic   = errors.New("framewire: bad magic")
	ErrBadVersion = errors.New("framewire: unsupported version")
)

// StreamInfo announces a stream before its first frame.
type StreamInfo struct {
	ID    uint8
	Kind  media.Kind
	Codec string
}

// Writer writes records to an underlying io.Writer. Each record is emitted
// with a single Write call. A Writer is not safe for concurrent use.
type Writer struct {
	w           io.Writer
	wroteHeader bool
	buf         []byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) begin(typ uint64) {
	w.buf = w.buf[:0]
	if !w.wroteHeader {
		w.buf = append(w.buf, magic...)
		w.buf = quicvarint.Append(w.buf, Version)
	}
	w.buf = quicvarint.Append(w.buf, typ)
}

func (w *Writer) flush() error {
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("framewire: write: %w", err)
	}
	w.wroteHeader = true
	return nil
}

// WriteStream announces a stream.
func (w *Writer) WriteStream(s StreamInfo) error {
	w.begin(RecordStream)
	w.buf = quicvarint.Append(w.buf, uint64(s.ID))
	w.buf = quicvarint.Append(w.buf, uint64(s.Kind))
	w.buf = appendBytes(w.buf, []byte(s.Codec))
	return w.flush()
}

// WriteFrame writes f. The caller keeps its reference.
func (w *Writer) WriteFrame(f *media.Frame) error {
	pts := uint64(max(f.PTS, 0))
	if pts > quicvarint.Max {
		return fmt.Errorf("framewire: pts %d out of range", pts)
	}
	w.begin(RecordFrame)
	var flags uint64
	if f.IsKeyframe {
		flags |= flagKeyFrame
	}
	w.buf = quicvarint.Append(w.buf, uint64(f.StreamID))
	w.buf = quicvarint.Append(w.buf, flags)
	w.buf = quicvarint.Append(w.buf, pts)
	w.buf = quicvarint.Append(w.buf, uint64(f.MediaObject))
	w.buf = appendBytes(w.buf, f.Data)
	return w.flush()
}

func appendBytes(buf, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	return append(buf, data...)
}

// Record is one decoded record. Exactly one of Stream and Frame is set,
// according to Type.
type Record struct {
	Type   uint64
	Stream StreamInfo
	Frame  *media.Frame
}

// Reader decodes records written by a Writer. Frames take the kind of the
// last stream record announced for their id.
type Reader struct {
	r       *bufio.Reader
	maxSize uint64
	header  bool
	kinds   [128]media.Kind
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: DefaultMaxRecordSize}
}

// SetMaxRecordSize changes the largest frame payload Next accepts.
func (r *Reader) SetMaxRecordSize(n uint64) { r.maxSize = n }

func (r *Reader) readHeader() error {
	var m [len(magic)]byte
	if _, err := io.ReadFull(r.r, m[:]); err != nil {
		return err
	}
	if string(m[:]) != magic {
		return ErrBadMagic
	}
	v, err := quicvarint.Read(r.r)
	if err != nil {
		return fmt.Errorf("framewire: read version: %w", err)
	}
	if v != Version {
		return fmt.Errorf("%w %d", ErrBadVersion, v)
	}
	r.header = true
	return nil
}

// Next returns the next record. It returns io.EOF at a clean end of input
// and io.ErrUnexpectedEOF when the input stops inside a record.
func (r *Reader) Next() (Record, error) {
	if !r.header {
		if err := r.readHeader(); err != nil {
			return Record{}, err
		}
	}
	typ, err := quicvarint.Read(r.r)
	if err != nil {
		return Record{}, err
	}
	switch typ {
	case RecordStream:
		return r.readStream()
	case RecordFrame:
		return r.readFrame()
	default:
		return Record{}, fmt.Errorf("framewire: unknown record type %#x", typ)
	}
}

func (r *Reader) varint(field string) (uint64, error) {
	v, err := quicvarint.Read(r.r)
	if err != nil {
		return 0, fmt.Errorf("framewire: read %s: %w", field, noEOF(err))
	}
	return v, nil
}

func (r *Reader) bytes(field string, limit uint64) ([]byte, error) {
	n, err := r.varint(field + " length")
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("framewire: %s of %d bytes exceeds %d", field, n, limit)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, fmt.Errorf("framewire: read %s: %w", field, noEOF(err))
	}
	return b, nil
}

func (r *Reader) streamID() (uint8, error) {
	id, err := r.varint("stream id")
	if err != nil {
		return 0, err
	}
	if id == 0 || id > 127 {
		return 0, fmt.Errorf("framewire: stream id %d out of range", id)
	}
	return uint8(id), nil
}

func (r *Reader) readStream() (Record, error) {
	id, err := r.streamID()
	if err != nil {
		return Record{}, err
	}
	kind, err := r.varint("kind")
	if err != nil {
		return Record{}, err
	}
	codec, err := r.bytes("codec", 255)
	if err != nil {
		return Record{}, err
	}
	r.kinds[id] = media.Kind(kind)
	return Record{Type: RecordStream, Stream: StreamInfo{ID: id, Kind: media.Kind(kind), Codec: string(codec)}}, nil
}

func (r *Reader) readFrame() (Record, error) {
	id, err := r.streamID()
	if err != nil {
		return Record{}, err
	}
	flags, err := r.varint("flags")
	if err != nil {
		return Record{}, err
	}
	pts, err := r.varint("pts")
	if err != nil {
		return Record{}, err
	}
	mon, err := r.varint("media object")
	if err != nil {
		return Record{}, err
	}
	data, err := r.bytes("data", r.maxSize)
	if err != nil {
		return Record{}, err
	}
	f := media.NewFrame(id, r.kinds[id], int64(pts), flags&flagKeyFrame != 0, data, nil)
	f.MediaObject = uint32(mon)
	return Record{Type: RecordFrame, Frame: f}, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
