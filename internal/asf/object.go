package asf

import (
	"log/slog"
)

// Nesting: header, header extension, extended stream properties, stream
// properties.
const maxObjectDepth = 4

// objectParser reads the header object tree out of an in-memory buffer.
type objectParser struct {
	log     *slog.Logger
	maxSize uint64
	depth   int
}

// readObject reads one object from r. The declared size is checked against
// the kind's floor, the absolute ceiling and the bytes remaining in r before
// anything past the 24-byte header is touched.
func (p *objectParser) readObject(r *byteReader) (Object, error) {
	if !r.need(objectHeaderSize) {
		return nil, r.err
	}
	at := r.pos
	hdr := ObjectHeader{GUID: r.guid(), Size: r.u64()}
	kind := KindOf(hdr.GUID)

	if floor := minObjectSize(kind); hdr.Size < floor {
		return nil, corruptf("object", "%s object at %d: size %d below minimum %d", kind, at, hdr.Size, floor)
	}
	if hdr.Size > p.maxSize {
		return nil, newError(OutOfMemory, "object", "%s object at %d: size %d exceeds ceiling %d", kind, at, hdr.Size, p.maxSize)
	}
	bodyLen := hdr.Size - objectHeaderSize
	if bodyLen > uint64(r.remaining()) {
		return nil, corruptf("object", "%s object at %d: size %d overruns %s (%d bytes left)", kind, at, hdr.Size, r.region, r.remaining())
	}

	if p.depth >= maxObjectDepth {
		return nil, corruptf("object", "%s object at %d: nested too deeply", kind, at)
	}
	p.depth++
	defer func() { p.depth-- }()

	body := r.sub(int(bodyLen), kind.String())
	obj, err := p.parseBody(kind, objectBase{hdr: hdr}, body)
	if err != nil {
		return nil, err
	}
	if body.err != nil {
		return nil, body.err
	}
	return obj, nil
}

func (p *objectParser) parseBody(kind ObjectKind, base objectBase, r *byteReader) (Object, error) {
	switch kind {
	case KindHeader:
		if p.depth > 1 {
			return nil, corruptf("object", "header object nested inside the header")
		}
		return p.parseHeader(base, r)
	case KindData:
		return nil, corruptf("object", "data object inside the header")
	case KindFileProperties:
		return parseFileProperties(base, r)
	case KindStreamProperties:
		return parseStreamProperties(base, r)
	case KindHeaderExtension:
		return p.parseHeaderExtension(base, r)
	case KindExtendedStreamProperties:
		return p.parseExtendedStreamProperties(base, r)
	case KindCodecList:
		return parseCodecList(base, r), nil
	case KindScriptCommand:
		return parseScriptCommand(base, r), nil
	case KindMarker:
		return parseMarker(base, r), nil
	case KindBitrateMutualExclusion:
		return parseBitrateMutualExclusion(base, r)
	case KindErrorCorrection:
		return &ErrorCorrection{objectBase: base, Type: r.guid(), Data: r.bytes(int(r.u32()))}, nil
	case KindContentDescription:
		return parseContentDescription(base, r), nil
	case KindExtendedContentDescription:
		return parseExtendedContentDescription(base, r), nil
	case KindStreamBitrateProperties:
		return parseStreamBitrateProperties(base, r)
	case KindContentEncryption:
		return parseContentEncryption(base, r), nil
	case KindExtendedContentEncryption:
		return &ExtendedContentEncryption{objectBase: base, Data: r.bytes(int(r.u32()))}, nil
	case KindPadding:
		r.skip(r.remaining())
		return &Padding{objectBase: base}, nil
	case KindOpaque:
		p.log.Debug("opaque object", "guid", base.hdr.GUID, "size", base.hdr.Size)
		return &OpaqueObject{objectBase: base, Data: r.bytes(r.remaining())}, nil
	default:
		p.log.Debug("unsupported object", "kind", kind, "size", base.hdr.Size)
		return &UnsupportedObject{objectBase: base, kind: kind, Data: r.bytes(r.remaining())}, nil
	}
}

func (p *objectParser) parseHeader(base objectBase, r *byteReader) (*HeaderObject, error) {
	h := &HeaderObject{
		objectBase:  base,
		ObjectCount: r.u32(),
		Reserved1:   r.u8(),
		Reserved2:   r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	h.Children = make([]Object, 0, boundedCap(int(h.ObjectCount), r.remaining(), objectHeaderSize))
	for i := uint32(0); i < h.ObjectCount; i++ {
		child, err := p.readObject(r)
		if err != nil {
			return nil, err
		}
		h.Children = append(h.Children, child)
	}
	if r.remaining() != 0 {
		return nil, corruptf("header", "%d bytes after %d objects", r.remaining(), h.ObjectCount)
	}
	return h, nil
}

const (
	minPacketSize = 32
	maxPacketSize = 1 << 20
)

func parseFileProperties(base objectBase, r *byteReader) (*FileProperties, error) {
	f := &FileProperties{
		objectBase:    base,
		FileID:        r.guid(),
		FileSize:      r.u64(),
		CreationDate:  r.u64(),
		PacketCount:   r.u64(),
		PlayDuration:  r.u64(),
		SendDuration:  r.u64(),
		Preroll:       r.u64(),
		Flags:         r.u32(),
		MinPacketSize: r.u32(),
		MaxPacketSize: r.u32(),
		MaxBitrate:    r.u32(),
	}
	if r.err != nil {
		return nil, r.err
	}
	if f.MinPacketSize != f.MaxPacketSize {
		return nil, corruptf("file properties", "min packet size %d != max packet size %d", f.MinPacketSize, f.MaxPacketSize)
	}
	if f.MinPacketSize < minPacketSize || f.MinPacketSize > maxPacketSize {
		return nil, corruptf("file properties", "packet size %d out of range [%d, %d]", f.MinPacketSize, minPacketSize, maxPacketSize)
	}
	return f, nil
}

func validStreamID(id uint16) bool {
	return id >= 1 && id <= 127
}

func parseStreamProperties(base objectBase, r *byteReader) (*StreamProperties, error) {
	s := &StreamProperties{
		objectBase:          base,
		StreamType:          r.guid(),
		ErrorCorrectionType: r.guid(),
		TimeOffset:          r.u64(),
	}
	tsLen := r.u32()
	ecLen := r.u32()
	s.Flags = r.u16()
	r.skip(4)
	if r.err != nil {
		return nil, r.err
	}
	if uint64(tsLen)+uint64(ecLen) > uint64(r.remaining()) {
		return nil, corruptf("stream properties", "type-specific %d + error correction %d bytes overrun %d", tsLen, ecLen, r.remaining())
	}
	s.TypeSpecific = r.bytes(int(tsLen))
	s.ErrorCorrectionData = r.bytes(int(ecLen))

	id := s.Flags & 0x7f
	if !validStreamID(id) {
		return nil, corruptf("stream properties", "stream id %d out of range", id)
	}
	s.ID = uint8(id)
	s.Encrypted = s.Flags&0x8000 != 0

	var err error
	switch s.StreamType {
	case GUIDAudioMedia:
		s.Audio, err = parseAudioFormat(s.TypeSpecific)
	case GUIDVideoMedia:
		s.Video, err = parseVideoFormat(s.TypeSpecific)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// parseAudioFormat accepts a plain 16-byte WAVEFORMAT (no cbSize) as well as
// WAVEFORMATEX.
func parseAudioFormat(b []byte) (*AudioFormat, error) {
	if len(b) == 0 {
		return nil, nil
	}
	r := newByteReader(b, "audio format")
	a := &AudioFormat{
		FormatTag:      r.u16(),
		Channels:       r.u16(),
		SampleRate:     r.u32(),
		AvgBytesPerSec: r.u32(),
		BlockAlign:     r.u16(),
		BitsPerSample:  r.u16(),
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() >= 2 {
		n := int(r.u16())
		a.CodecData = r.bytes(n)
		if r.err != nil {
			return nil, r.err
		}
	}
	return a, nil
}

const bitmapInfoHeaderSize = 40

func parseVideoFormat(b []byte) (*VideoFormat, error) {
	if len(b) == 0 {
		return nil, nil
	}
	r := newByteReader(b, "video format")
	v := &VideoFormat{
		EncodedWidth:  r.u32(),
		EncodedHeight: r.u32(),
	}
	r.skip(1)
	size := int(r.u16())
	if r.err != nil {
		return nil, r.err
	}
	if size < bitmapInfoHeaderSize {
		return nil, corruptf("video format", "format data size %d below %d", size, bitmapInfoHeaderSize)
	}
	bi := r.sub(size, "bitmap info header")
	bi.skip(4)
	v.Width = int32(bi.u32())
	v.Height = int32(bi.u32())
	bi.skip(2)
	v.BitCount = bi.u16()
	v.Compression = bi.u32()
	v.ImageSize = bi.u32()
	bi.skip(16)
	v.CodecData = bi.bytes(bi.remaining())
	if bi.err != nil {
		return nil, bi.err
	}
	return v, nil
}

func (p *objectParser) parseHeaderExtension(base objectBase, r *byteReader) (*HeaderExtension, error) {
	h := &HeaderExtension{
		objectBase: base,
		Reserved1:  r.guid(),
		Reserved2:  r.u16(),
	}
	size := r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if uint64(size) != uint64(r.remaining()) {
		return nil, corruptf("header extension", "data size %d, object holds %d", size, r.remaining())
	}
	data := r.sub(int(size), "header extension data")
	for data.remaining() > 0 {
		child, err := p.readObject(data)
		if err != nil {
			return nil, err
		}
		h.Children = append(h.Children, child)
	}
	return h, nil
}

func (p *objectParser) parseExtendedStreamProperties(base objectBase, r *byteReader) (*ExtendedStreamProperties, error) {
	e := &ExtendedStreamProperties{
		objectBase:               base,
		StartTime:                r.u64(),
		EndTime:                  r.u64(),
		DataBitrate:              r.u32(),
		BufferSize:               r.u32(),
		InitialBufferFullness:    r.u32(),
		AltDataBitrate:           r.u32(),
		AltBufferSize:            r.u32(),
		AltInitialBufferFullness: r.u32(),
		MaxObjectSize:            r.u32(),
		Flags:                    r.u32(),
	}
	id := r.u16()
	e.LanguageIndex = r.u16()
	e.AvgTimePerFrame = r.u64()
	nameCount := int(r.u16())
	extCount := int(r.u16())
	if r.err != nil {
		return nil, r.err
	}
	if !validStreamID(id) {
		return nil, corruptf("extended stream properties", "stream id %d out of range", id)
	}
	e.StreamID = uint8(id)

	e.Names = make([]StreamName, 0, boundedCap(nameCount, r.remaining(), 4))
	for i := 0; i < nameCount && r.err == nil; i++ {
		lang := r.u16()
		n := int(r.u16())
		e.Names = append(e.Names, StreamName{LanguageIndex: lang, Name: r.utf16(n)})
	}
	e.PayloadExtensions = make([]PayloadExtensionSystem, 0, boundedCap(extCount, r.remaining(), 22))
	for i := 0; i < extCount && r.err == nil; i++ {
		pe := PayloadExtensionSystem{ID: r.guid(), DataSize: r.u16()}
		pe.Info = r.bytes(int(r.u32()))
		e.PayloadExtensions = append(e.PayloadExtensions, pe)
	}
	if r.err != nil {
		return nil, r.err
	}

	// An embedded stream properties object may follow.
	if r.remaining() >= objectHeaderSize {
		child, err := p.readObject(r)
		if err != nil {
			return nil, err
		}
		sp, ok := child.(*StreamProperties)
		if !ok {
			return nil, corruptf("extended stream properties", "embedded %s object", child.Kind())
		}
		if sp.ID != e.StreamID {
			return nil, corruptf("extended stream properties", "embedded stream id %d != %d", sp.ID, e.StreamID)
		}
		e.Stream = sp
	}
	return e, nil
}

func parseCodecList(base objectBase, r *byteReader) *CodecList {
	c := &CodecList{objectBase: base, Reserved: r.guid()}
	count := int(r.u32())
	c.Codecs = make([]CodecEntry, 0, boundedCap(count, r.remaining(), 8))
	for i := 0; i < count && r.err == nil; i++ {
		var e CodecEntry
		e.Type = r.u16()
		e.Name = r.utf16(int(r.u16()) * 2)
		e.Description = r.utf16(int(r.u16()) * 2)
		e.Info = r.bytes(int(r.u16()))
		c.Codecs = append(c.Codecs, e)
	}
	return c
}

func parseScriptCommand(base objectBase, r *byteReader) *ScriptCommandList {
	s := &ScriptCommandList{objectBase: base, Reserved: r.guid()}
	cmdCount := int(r.u16())
	typeCount := int(r.u16())
	s.Types = make([]string, 0, boundedCap(typeCount, r.remaining(), 2))
	for i := 0; i < typeCount && r.err == nil; i++ {
		s.Types = append(s.Types, r.utf16(int(r.u16())*2))
	}
	s.Commands = make([]ScriptCommand, 0, boundedCap(cmdCount, r.remaining(), 8))
	for i := 0; i < cmdCount && r.err == nil; i++ {
		c := ScriptCommand{Time: r.u32(), TypeIndex: r.u16()}
		c.Name = r.utf16(int(r.u16()) * 2)
		if int(c.TypeIndex) < len(s.Types) {
			c.Type = s.Types[c.TypeIndex]
		}
		s.Commands = append(s.Commands, c)
	}
	return s
}

func parseMarker(base objectBase, r *byteReader) *MarkerList {
	m := &MarkerList{objectBase: base, Reserved: r.guid()}
	count := int(r.u32())
	r.skip(2)
	m.Name = r.utf16(int(r.u16()))
	m.Markers = make([]Marker, 0, boundedCap(count, r.remaining(), 30))
	for i := 0; i < count && r.err == nil; i++ {
		mk := Marker{Offset: r.u64(), PresentationTime: r.u64()}
		r.skip(2)
		mk.SendTime = r.u32()
		mk.Flags = r.u32()
		mk.Description = r.utf16(int(r.u32()) * 2)
		m.Markers = append(m.Markers, mk)
	}
	return m
}

func parseBitrateMutualExclusion(base objectBase, r *byteReader) (*BitrateMutualExclusion, error) {
	b := &BitrateMutualExclusion{objectBase: base, ExclusionType: r.guid()}
	count := int(r.u16())
	b.StreamIDs = make([]uint8, 0, boundedCap(count, r.remaining(), 2))
	for i := 0; i < count && r.err == nil; i++ {
		id := r.u16()
		if r.err == nil && !validStreamID(id) {
			return nil, corruptf("bitrate mutual exclusion", "stream id %d out of range", id)
		}
		b.StreamIDs = append(b.StreamIDs, uint8(id))
	}
	return b, nil
}

func parseContentDescription(base objectBase, r *byteReader) *ContentDescription {
	var lens [5]int
	for i := range lens {
		lens[i] = int(r.u16())
	}
	return &ContentDescription{
		objectBase:  base,
		Title:       r.utf16(lens[0]),
		Author:      r.utf16(lens[1]),
		Copyright:   r.utf16(lens[2]),
		Description: r.utf16(lens[3]),
		Rating:      r.utf16(lens[4]),
	}
}

func parseExtendedContentDescription(base objectBase, r *byteReader) *ExtendedContentDescription {
	e := &ExtendedContentDescription{objectBase: base}
	count := int(r.u16())
	e.Descriptors = make([]ContentDescriptor, 0, boundedCap(count, r.remaining(), 6))
	for i := 0; i < count && r.err == nil; i++ {
		d := ContentDescriptor{Name: r.utf16(int(r.u16()))}
		d.Type = r.u16()
		v := r.sub(int(r.u16()), "descriptor value")
		d.Value = descriptorValue(d.Type, v)
		e.Descriptors = append(e.Descriptors, d)
	}
	return e
}

// descriptorValue decodes a typed value. Short fixed-width values read as
// zero rather than failing the whole object.
func descriptorValue(typ uint16, v *byteReader) any {
	if v.err != nil {
		return nil
	}
	switch typ {
	case DescriptorUnicode:
		return v.utf16(v.remaining())
	case DescriptorBool:
		if v.remaining() >= 4 {
			return v.u32() != 0
		}
		return v.remaining() > 0 && v.u8() != 0
	case DescriptorDword:
		if v.remaining() >= 4 {
			return v.u32()
		}
		return uint32(0)
	case DescriptorQword:
		if v.remaining() >= 8 {
			return v.u64()
		}
		return uint64(0)
	case DescriptorWord:
		if v.remaining() >= 2 {
			return v.u16()
		}
		return uint16(0)
	default:
		return v.bytes(v.remaining())
	}
}

func parseStreamBitrateProperties(base objectBase, r *byteReader) (*StreamBitrateProperties, error) {
	s := &StreamBitrateProperties{objectBase: base}
	count := int(r.u16())
	s.Records = make([]BitrateRecord, 0, boundedCap(count, r.remaining(), 6))
	for i := 0; i < count && r.err == nil; i++ {
		id := r.u16() & 0x7f
		rec := BitrateRecord{StreamID: uint8(id), AverageBitrate: r.u32()}
		if r.err == nil && !validStreamID(id) {
			return nil, corruptf("stream bitrate properties", "stream id %d out of range", id)
		}
		s.Records = append(s.Records, rec)
	}
	return s, nil
}

func parseContentEncryption(base objectBase, r *byteReader) *ContentEncryption {
	c := &ContentEncryption{objectBase: base}
	c.SecretData = r.bytes(int(r.u32()))
	c.ProtectionType = r.ascii(int(r.u32()))
	c.KeyID = r.ascii(int(r.u32()))
	c.LicenseURL = r.ascii(int(r.u32()))
	return c
}
