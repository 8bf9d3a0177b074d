package asf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/asfdemux/internal/source"
)

// ErrNotOpen is returned by packet reads before OpenHeader has succeeded.
var ErrNotOpen = errors.New("asf: header not opened")

const dataObjectHeaderSize = 50

// Facts is the result of a successful OpenHeader. It is immutable and safe
// to share between goroutines.
type Facts struct {
	Header *HeaderObject
	Data   *DataObject
	File   *FileProperties

	// Streams is ordered by stream id; Extended likewise.
	Streams  []*StreamProperties
	Extended []*ExtendedStreamProperties

	Content        *ContentDescription
	Metadata       []ContentDescriptor
	Codecs         []CodecEntry
	Markers        []Marker
	ScriptCommands []ScriptCommand
	Bitrates       []BitrateRecord
	Protected      bool

	PacketSize  uint32
	PacketCount uint64 // 0 when unknown
	DataOffset  int64  // absolute position of packet 0
	Duration    uint64 // 100-ns units, 0 when unknown
}

// Parser reads the header object tree and the packets of the data section
// from a Source. It is not safe for concurrent use.
type Parser struct {
	cfg config
	log *slog.Logger
	src source.Source

	facts    *Facts
	streams  [128]*StreamProperties
	extended [128]*ExtendedStreamProperties

	next    uint64
	lastErr error
}

func NewParser(src source.Source, opts ...Option) *Parser {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Parser{
		cfg: cfg,
		log: cfg.log.With("component", "asf-parser"),
		src: src,
	}
}

// fail records the first fatal error; later ones are returned but not kept.
func (p *Parser) fail(err error) error {
	if p.lastErr == nil {
		p.lastErr = err
	}
	return err
}

// LastError returns the first fatal error, if any. Once set, the parser
// must be discarded.
func (p *Parser) LastError() error {
	return p.lastErr
}

// OpenHeader reads and validates the header object and the data object
// prefix. The source is peeked until the whole header is known to be
// present and valid; only then is it advanced, so ErrNotEnoughData leaves
// the source untouched. A second call after success returns the same facts.
func (p *Parser) OpenHeader() (*Facts, error) {
	if p.facts != nil {
		return p.facts, nil
	}
	if p.lastErr != nil {
		return nil, p.lastErr
	}

	start := p.src.Position()
	var prefix [30]byte
	if err := p.src.Peek(prefix[:]); err != nil {
		return nil, p.openErr(err)
	}
	r := newByteReader(prefix[:], "header prefix")
	guid := r.guid()
	size := r.u64()
	if guid != GUIDHeader {
		return nil, p.fail(corruptf("open", "not an ASF header object: %s", guid))
	}
	if size < minObjectSize(KindHeader) {
		return nil, p.fail(corruptf("open", "header size %d below minimum", size))
	}
	if size > p.cfg.maxHeaderSize {
		return nil, p.fail(newError(OutOfMemory, "open", "header size %d exceeds ceiling %d", size, p.cfg.maxHeaderSize))
	}

	buf := make([]byte, size+dataObjectHeaderSize)
	if err := p.src.Peek(buf); err != nil {
		return nil, p.openErr(err)
	}
	facts, err := p.parseHeader(buf, size, start)
	if err != nil {
		p.streams = [128]*StreamProperties{}
		p.extended = [128]*ExtendedStreamProperties{}
		return nil, p.fail(err)
	}
	if err := p.src.ReadExact(buf); err != nil {
		return nil, p.openErr(err)
	}

	p.facts = facts
	p.next = 0
	p.log.Debug("header opened",
		"streams", len(facts.Streams),
		"packet_size", facts.PacketSize,
		"packets", facts.PacketCount,
		"protected", facts.Protected)
	return facts, nil
}

func (p *Parser) openErr(err error) error {
	switch {
	case errors.Is(err, ErrNotEnoughData):
		return ErrNotEnoughData
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return p.fail(corruptf("open", "truncated header"))
	default:
		return p.fail(fmt.Errorf("asf: open: %w", err))
	}
}

func (p *Parser) parseHeader(buf []byte, size uint64, start int64) (*Facts, error) {
	op := &objectParser{log: p.log, maxSize: p.cfg.maxHeaderSize}
	obj, err := op.readObject(newByteReader(buf[:size], "file"))
	if err != nil {
		return nil, err
	}
	hdr, ok := obj.(*HeaderObject)
	if !ok {
		return nil, corruptf("open", "root is a %s object", obj.Kind())
	}

	dr := newByteReader(buf[size:], "data object")
	data := &DataObject{objectBase: objectBase{hdr: ObjectHeader{GUID: dr.guid(), Size: dr.u64()}}}
	data.FileID = dr.guid()
	data.TotalPackets = dr.u64()
	dr.skip(2)
	if dr.err != nil {
		return nil, dr.err
	}
	if data.hdr.GUID != GUIDData {
		return nil, corruptf("open", "expected data object after header, found %s", data.hdr.GUID)
	}

	f := &Facts{Header: hdr, Data: data}
	if err := p.collect(f, hdr.Children); err != nil {
		return nil, err
	}
	if f.File == nil {
		return nil, corruptf("open", "missing file properties object")
	}
	if data.FileID != f.File.FileID {
		return nil, corruptf("open", "data object file id %s != file properties %s", data.FileID, f.File.FileID)
	}
	if !f.File.Broadcast() && data.hdr.Size < dataObjectHeaderSize {
		return nil, corruptf("open", "data object size %d below minimum", data.hdr.Size)
	}

	for id := 1; id < len(p.streams); id++ {
		if s := p.streams[id]; s != nil {
			f.Streams = append(f.Streams, s)
			if s.Encrypted {
				f.Protected = true
			}
		}
		if e := p.extended[id]; e != nil {
			f.Extended = append(f.Extended, e)
		}
	}
	if len(f.Streams) == 0 {
		return nil, corruptf("open", "no stream properties objects")
	}

	f.PacketSize = f.File.MinPacketSize
	f.DataOffset = start + int64(size) + dataObjectHeaderSize
	f.Duration = f.File.Duration()
	switch {
	case f.File.Broadcast():
	case f.File.PacketCount > 0:
		f.PacketCount = f.File.PacketCount
	case data.TotalPackets > 0:
		f.PacketCount = data.TotalPackets
	case data.hdr.Size > dataObjectHeaderSize:
		f.PacketCount = (data.hdr.Size - dataObjectHeaderSize) / uint64(f.PacketSize)
	}
	return f, nil
}

func (p *Parser) collect(f *Facts, objs []Object) error {
	for _, obj := range objs {
		switch o := obj.(type) {
		case *FileProperties:
			if f.File != nil {
				return corruptf("open", "duplicate file properties object")
			}
			f.File = o
		case *StreamProperties:
			if err := p.addStream(o); err != nil {
				return err
			}
		case *HeaderExtension:
			if err := p.collect(f, o.Children); err != nil {
				return err
			}
		case *ExtendedStreamProperties:
			if p.extended[o.StreamID] != nil {
				return corruptf("open", "duplicate extended stream properties for stream %d", o.StreamID)
			}
			p.extended[o.StreamID] = o
			if o.Stream != nil {
				if err := p.addStream(o.Stream); err != nil {
					return err
				}
			}
		case *ContentDescription:
			f.Content = o
		case *ExtendedContentDescription:
			f.Metadata = append(f.Metadata, o.Descriptors...)
		case *CodecList:
			f.Codecs = append(f.Codecs, o.Codecs...)
		case *MarkerList:
			f.Markers = append(f.Markers, o.Markers...)
		case *ScriptCommandList:
			f.ScriptCommands = append(f.ScriptCommands, o.Commands...)
		case *StreamBitrateProperties:
			f.Bitrates = append(f.Bitrates, o.Records...)
		case *ContentEncryption, *ExtendedContentEncryption:
			f.Protected = true
		case *UnsupportedObject:
			if o.kind == KindDigitalSignature {
				f.Protected = true
			}
		}
	}
	return nil
}

func (p *Parser) addStream(s *StreamProperties) error {
	if p.streams[s.ID] != nil {
		return corruptf("open", "duplicate stream properties for stream %d", s.ID)
	}
	p.streams[s.ID] = s
	return nil
}

// Facts returns the opened header facts, or nil before OpenHeader succeeds.
func (p *Parser) Facts() *Facts {
	return p.facts
}

// GetStream returns the stream properties for id, or nil. A non-nil result
// implies 1 <= id <= 127.
func (p *Parser) GetStream(id int) *StreamProperties {
	if id < 1 || id >= len(p.streams) {
		return nil
	}
	return p.streams[id]
}

func (p *Parser) GetExtendedStream(id int) *ExtendedStreamProperties {
	if id < 1 || id >= len(p.extended) {
		return nil
	}
	return p.extended[id]
}

// IsValidStream reports whether id was declared in the header.
func (p *Parser) IsValidStream(id uint8) bool {
	return p.GetStream(int(id)) != nil
}

func (p *Parser) StreamCount() int {
	if p.facts == nil {
		return 0
	}
	return len(p.facts.Streams)
}

func (p *Parser) Streams() []*StreamProperties {
	if p.facts == nil {
		return nil
	}
	return p.facts.Streams
}

func (p *Parser) Markers() []Marker {
	if p.facts == nil {
		return nil
	}
	return p.facts.Markers
}

func (p *Parser) ScriptCommands() []ScriptCommand {
	if p.facts == nil {
		return nil
	}
	return p.facts.ScriptCommands
}

func (p *Parser) Codecs() []CodecEntry {
	if p.facts == nil {
		return nil
	}
	return p.facts.Codecs
}

func (p *Parser) Metadata() []ContentDescriptor {
	if p.facts == nil {
		return nil
	}
	return p.facts.Metadata
}

// Protected reports whether the file carries DRM. Protected payloads are
// delivered as-is; nothing is decrypted.
func (p *Parser) Protected() bool {
	return p.facts != nil && p.facts.Protected
}

// PacketOffset returns the absolute source position of packet index.
func (p *Parser) PacketOffset(index uint64) int64 {
	return p.facts.DataOffset + int64(index)*int64(p.facts.PacketSize)
}

// ReadPacket reads the packet after the one last read.
func (p *Parser) ReadPacket() (*Packet, error) {
	return p.ReadPacketAt(p.next)
}

// ReadPacketAt reads and decodes packet index. A packet that cannot be
// decoded yields a *PacketError and the sequential cursor moves past it.
// ErrNotEnoughData leaves the cursor unchanged.
func (p *Parser) ReadPacketAt(index uint64) (*Packet, error) {
	if p.lastErr != nil {
		return nil, p.lastErr
	}
	f := p.facts
	if f == nil {
		return nil, ErrNotOpen
	}
	if f.PacketCount > 0 && index >= f.PacketCount {
		return nil, ErrNoMoreData
	}

	off := p.PacketOffset(index)
	if p.src.Position() != off {
		if _, err := p.src.Seek(off, io.SeekStart); err != nil {
			return nil, p.fail(fmt.Errorf("asf: seek to packet %d: %w", index, err))
		}
	}
	buf := make([]byte, f.PacketSize)
	if err := p.src.ReadExact(buf); err != nil {
		switch {
		case errors.Is(err, ErrNotEnoughData):
			return nil, ErrNotEnoughData
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrNoMoreData
		default:
			return nil, p.fail(fmt.Errorf("asf: read packet %d: %w", index, err))
		}
	}
	p.next = index + 1

	pkt, err := decodePacket(buf, f.PacketSize, p.IsValidStream)
	if err != nil {
		return nil, &PacketError{Index: index, Err: err}
	}
	pkt.Index = index
	for _, pl := range pkt.Payloads {
		pl.Pts = msToPts(uint64(pl.PresentationTime), f.File.Preroll)
	}
	return pkt, nil
}

// msToPts converts a millisecond wire time to 100-ns units relative to the
// preroll, clamping at zero.
func msToPts(ms, preroll uint64) uint64 {
	if ms <= preroll {
		return 0
	}
	return (ms - preroll) * 10000
}
