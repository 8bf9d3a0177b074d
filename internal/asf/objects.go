package asf

import (
	"fmt"

	"github.com/zsiec/asfdemux/internal/media"
)

const objectHeaderSize = 24

// ObjectHeader is the {GUID, size} prefix of every object. Size includes
// the header itself.
type ObjectHeader struct {
	GUID GUID
	Size uint64
}

// Object is one parsed node of the header tree. The concrete types below
// form a closed set; unrecognized GUIDs become *OpaqueObject.
type Object interface {
	Header() ObjectHeader
	Kind() ObjectKind
}

type objectBase struct {
	hdr ObjectHeader
}

func (o objectBase) Header() ObjectHeader { return o.hdr }

// HeaderObject is the root of the tree.
type HeaderObject struct {
	objectBase
	ObjectCount uint32
	Reserved1   uint8
	Reserved2   uint8
	Children    []Object
}

func (*HeaderObject) Kind() ObjectKind { return KindHeader }

// DataObject is the fixed prefix of the data section that precedes the
// first packet.
type DataObject struct {
	objectBase
	FileID       GUID
	TotalPackets uint64
}

func (*DataObject) Kind() ObjectKind { return KindData }

// File properties flags.
const (
	FileFlagBroadcast = 1 << 0
	FileFlagSeekable  = 1 << 1
)

type FileProperties struct {
	objectBase
	FileID        GUID
	FileSize      uint64
	CreationDate  uint64
	PacketCount   uint64
	PlayDuration  uint64 // 100-ns units, preroll included
	SendDuration  uint64
	Preroll       uint64 // milliseconds
	Flags         uint32
	MinPacketSize uint32
	MaxPacketSize uint32
	MaxBitrate    uint32
}

func (*FileProperties) Kind() ObjectKind { return KindFileProperties }

func (f *FileProperties) Broadcast() bool { return f.Flags&FileFlagBroadcast != 0 }
func (f *FileProperties) Seekable() bool  { return f.Flags&FileFlagSeekable != 0 }

// Duration is the playable duration in 100-ns units with preroll removed,
// or 0 when unknown.
func (f *FileProperties) Duration() uint64 {
	preroll := f.Preroll * 10000
	if f.Broadcast() || f.PlayDuration <= preroll {
		return 0
	}
	return f.PlayDuration - preroll
}

// AudioFormat is the WAVEFORMATEX block of an audio stream.
type AudioFormat struct {
	FormatTag      uint16
	Channels       uint16
	SampleRate     uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CodecData      []byte
}

// VideoFormat is the type-specific block of a video stream: encoded
// dimensions followed by a BITMAPINFOHEADER.
type VideoFormat struct {
	EncodedWidth  uint32
	EncodedHeight uint32
	Width         int32
	Height        int32
	BitCount      uint16
	Compression   uint32
	ImageSize     uint32
	CodecData     []byte
}

// FourCC renders the compression tag as four characters.
func (v *VideoFormat) FourCC() string {
	c := v.Compression
	b := []byte{byte(c), byte(c >> 8), byte(c >> 16), byte(c >> 24)}
	for i, ch := range b {
		if ch < 0x20 || ch > 0x7e {
			b[i] = '.'
		}
	}
	return string(b)
}

type StreamProperties struct {
	objectBase
	StreamType          GUID
	ErrorCorrectionType GUID
	TimeOffset          uint64
	Flags               uint16
	ID                  uint8
	Encrypted           bool
	TypeSpecific        []byte
	ErrorCorrectionData []byte

	// Decoded TypeSpecific for audio and video streams, when present.
	Audio *AudioFormat
	Video *VideoFormat
}

func (*StreamProperties) Kind() ObjectKind { return KindStreamProperties }

// MediaKind maps the stream type GUID onto a media kind.
func (s *StreamProperties) MediaKind() media.Kind {
	switch s.StreamType {
	case GUIDAudioMedia:
		return media.KindAudio
	case GUIDVideoMedia:
		return media.KindVideo
	case GUIDCommandMedia:
		return media.KindCommand
	}
	return media.KindOther
}

// Codec is a short human-readable codec tag.
func (s *StreamProperties) Codec() string {
	switch {
	case s.Audio != nil:
		return fmt.Sprintf("0x%04x", s.Audio.FormatTag)
	case s.Video != nil:
		return s.Video.FourCC()
	}
	return ""
}

type HeaderExtension struct {
	objectBase
	Reserved1 GUID
	Reserved2 uint16
	Children  []Object
}

func (*HeaderExtension) Kind() ObjectKind { return KindHeaderExtension }

type StreamName struct {
	LanguageIndex uint16
	Name          string
}

type PayloadExtensionSystem struct {
	ID       GUID
	DataSize uint16
	Info     []byte
}

type ExtendedStreamProperties struct {
	objectBase
	StartTime                uint64
	EndTime                  uint64
	DataBitrate              uint32
	BufferSize               uint32
	InitialBufferFullness    uint32
	AltDataBitrate           uint32
	AltBufferSize            uint32
	AltInitialBufferFullness uint32
	MaxObjectSize            uint32
	Flags                    uint32
	StreamID                 uint8
	LanguageIndex            uint16
	AvgTimePerFrame          uint64 // 100-ns units
	Names                    []StreamName
	PayloadExtensions        []PayloadExtensionSystem

	// Stream is the embedded stream properties object, if any. Its ID
	// always equals StreamID.
	Stream *StreamProperties
}

func (*ExtendedStreamProperties) Kind() ObjectKind { return KindExtendedStreamProperties }

// Codec entry types.
const (
	CodecVideo   = 0x0001
	CodecAudio   = 0x0002
	CodecUnknown = 0xffff
)

type CodecEntry struct {
	Type        uint16
	Name        string
	Description string
	Info        []byte
}

type CodecList struct {
	objectBase
	Reserved GUID
	Codecs   []CodecEntry
}

func (*CodecList) Kind() ObjectKind { return KindCodecList }

type ScriptCommand struct {
	Time      uint32 // milliseconds
	TypeIndex uint16
	Type      string
	Name      string
}

type ScriptCommandList struct {
	objectBase
	Reserved GUID
	Types    []string
	Commands []ScriptCommand
}

func (*ScriptCommandList) Kind() ObjectKind { return KindScriptCommand }

type Marker struct {
	Offset           uint64
	PresentationTime uint64 // 100-ns units
	SendTime         uint32
	Flags            uint32
	Description      string
}

type MarkerList struct {
	objectBase
	Reserved GUID
	Name     string
	Markers  []Marker
}

func (*MarkerList) Kind() ObjectKind { return KindMarker }

type BitrateMutualExclusion struct {
	objectBase
	ExclusionType GUID
	StreamIDs     []uint8
}

func (*BitrateMutualExclusion) Kind() ObjectKind { return KindBitrateMutualExclusion }

type ErrorCorrection struct {
	objectBase
	Type GUID
	Data []byte
}

func (*ErrorCorrection) Kind() ObjectKind { return KindErrorCorrection }

type ContentDescription struct {
	objectBase
	Title       string
	Author      string
	Copyright   string
	Description string
	Rating      string
}

func (*ContentDescription) Kind() ObjectKind { return KindContentDescription }

// Descriptor value types.
const (
	DescriptorUnicode = 0
	DescriptorBytes   = 1
	DescriptorBool    = 2
	DescriptorDword   = 3
	DescriptorQword   = 4
	DescriptorWord    = 5
)

// ContentDescriptor is one name/value pair of the extended content
// description. Value holds a string, []byte, bool, uint32, uint64 or uint16
// according to Type.
type ContentDescriptor struct {
	Name  string
	Type  uint16
	Value any
}

func (d ContentDescriptor) String() string {
	if b, ok := d.Value.([]byte); ok {
		return fmt.Sprintf("%d bytes", len(b))
	}
	return fmt.Sprint(d.Value)
}

type ExtendedContentDescription struct {
	objectBase
	Descriptors []ContentDescriptor
}

func (*ExtendedContentDescription) Kind() ObjectKind { return KindExtendedContentDescription }

type BitrateRecord struct {
	StreamID       uint8
	AverageBitrate uint32
}

type StreamBitrateProperties struct {
	objectBase
	Records []BitrateRecord
}

func (*StreamBitrateProperties) Kind() ObjectKind { return KindStreamBitrateProperties }

// ContentEncryption marks DRM-protected content. It is recorded for
// detection only.
type ContentEncryption struct {
	objectBase
	SecretData     []byte
	ProtectionType string
	KeyID          string
	LicenseURL     string
}

func (*ContentEncryption) Kind() ObjectKind { return KindContentEncryption }

type ExtendedContentEncryption struct {
	objectBase
	Data []byte
}

func (*ExtendedContentEncryption) Kind() ObjectKind { return KindExtendedContentEncryption }

type Padding struct {
	objectBase
}

func (*Padding) Kind() ObjectKind { return KindPadding }

// UnsupportedObject is a recognized kind whose contents are not
// interpreted.
type UnsupportedObject struct {
	objectBase
	kind ObjectKind
	Data []byte
}

func (o *UnsupportedObject) Kind() ObjectKind { return o.kind }

// OpaqueObject is an object with an unrecognized GUID.
type OpaqueObject struct {
	objectBase
	Data []byte
}

func (*OpaqueObject) Kind() ObjectKind { return KindOpaque }
