package asf

import (
	"bytes"
	"encoding/binary"
)

// wbuf assembles little-endian test fixtures.
type wbuf struct{ b []byte }

func (w *wbuf) u8(v uint8) *wbuf   { w.b = append(w.b, v); return w }
func (w *wbuf) u16(v uint16) *wbuf { w.b = binary.LittleEndian.AppendUint16(w.b, v); return w }
func (w *wbuf) u32(v uint32) *wbuf { w.b = binary.LittleEndian.AppendUint32(w.b, v); return w }
func (w *wbuf) u64(v uint64) *wbuf { w.b = binary.LittleEndian.AppendUint64(w.b, v); return w }
func (w *wbuf) guid(g GUID) *wbuf  { w.b = append(w.b, g[:]...); return w }
func (w *wbuf) raw(p []byte) *wbuf { w.b = append(w.b, p...); return w }

func utf16z(s string) []byte {
	w := &wbuf{}
	for _, r := range s {
		w.u16(uint16(r))
	}
	return w.u16(0).b
}

func testObject(g GUID, body []byte) []byte {
	w := &wbuf{}
	return w.guid(g).u64(uint64(objectHeaderSize + len(body))).raw(body).b
}

var testFileID = guidFromString("01234567-89AB-CDEF-0123-456789ABCDEF")

type fileSpec struct {
	packetSize    uint32
	maxPacketSize uint32 // 0: same as packetSize
	packets       uint64 // 0: number of packets built
	preroll       uint64 // ms
	durationMs    uint64 // preroll excluded
	flags         uint32
}

func filePropertiesObject(s fileSpec) []byte {
	maxSize := s.maxPacketSize
	if maxSize == 0 {
		maxSize = s.packetSize
	}
	w := &wbuf{}
	w.guid(testFileID).u64(0).u64(0).u64(s.packets).
		u64((s.durationMs+s.preroll)*10000).u64(0).u64(s.preroll).
		u32(s.flags).u32(s.packetSize).u32(maxSize).u32(0)
	return testObject(GUIDFileProperties, w.b)
}

func streamPropertiesObject(id uint8, typ GUID, ts []byte, flags uint16) []byte {
	w := &wbuf{}
	w.guid(typ).guid(GUIDNoErrorCorrection).u64(0).
		u32(uint32(len(ts))).u32(0).u16(uint16(id)|flags).u32(0).raw(ts)
	return testObject(GUIDStreamProperties, w.b)
}

func waveFormat() []byte {
	w := &wbuf{}
	return w.u16(0x0161).u16(2).u32(44100).u32(16000).u16(2).u16(16).u16(0).b
}

func videoFormat(width, height uint32, fourcc string) []byte {
	w := &wbuf{}
	w.u32(width).u32(height).u8(2).u16(bitmapInfoHeaderSize)
	w.u32(bitmapInfoHeaderSize).u32(width).u32(height).u16(1).u16(24).raw([]byte(fourcc))
	return w.u32(width * height * 3).u32(0).u32(0).u32(0).u32(0).b
}

func audioStream(id uint8) []byte {
	return streamPropertiesObject(id, GUIDAudioMedia, waveFormat(), 0)
}

func videoStream(id uint8) []byte {
	return streamPropertiesObject(id, GUIDVideoMedia, videoFormat(320, 240, "WMV3"), 0)
}

func headerObject(children ...[]byte) []byte {
	w := &wbuf{}
	w.u32(uint32(len(children))).u8(1).u8(2)
	for _, c := range children {
		w.raw(c)
	}
	return testObject(GUIDHeader, w.b)
}

func headerExtensionObject(children ...[]byte) []byte {
	data := bytes.Join(children, nil)
	w := &wbuf{}
	w.guid(GUIDHeaderExtensionReserved).u16(6).u32(uint32(len(data))).raw(data)
	return testObject(GUIDHeaderExtension, w.b)
}

func extendedStreamPropertiesObject(id uint8, name string, nested []byte) []byte {
	w := &wbuf{}
	w.u64(0).u64(0).u32(128000).u32(3000).u32(3000).u32(0).u32(0).u32(0).u32(4096).u32(0)
	w.u16(uint16(id)).u16(0).u64(333333)
	if name == "" {
		w.u16(0).u16(0)
	} else {
		n := utf16z(name)
		w.u16(1).u16(0).u16(0).u16(uint16(len(n))).raw(n)
	}
	w.raw(nested)
	return testObject(GUIDExtendedStreamProperties, w.b)
}

func contentDescriptionObject(title, author string) []byte {
	t, a := utf16z(title), utf16z(author)
	w := &wbuf{}
	w.u16(uint16(len(t))).u16(uint16(len(a))).u16(0).u16(0).u16(0).raw(t).raw(a)
	return testObject(GUIDContentDescription, w.b)
}

func dataObject(packetSize uint32, packets [][]byte) []byte {
	w := &wbuf{}
	w.guid(GUIDData).u64(uint64(dataObjectHeaderSize + len(packets)*int(packetSize))).
		guid(testFileID).u64(uint64(len(packets))).u16(0x0101)
	for _, p := range packets {
		w.raw(p)
	}
	return w.b
}

func buildFile(fsp fileSpec, streams [][]byte, packets [][]byte, extra ...[]byte) []byte {
	if fsp.packets == 0 {
		fsp.packets = uint64(len(packets))
	}
	children := append([][]byte{filePropertiesObject(fsp)}, streams...)
	children = append(children, extra...)
	return append(headerObject(children...), dataObject(fsp.packetSize, packets)...)
}

type payloadSpec struct {
	stream  uint8
	key     bool
	mon     uint32
	offset  uint32
	objSize uint32
	ptsMs   uint32
	data    []byte
}

// buildPacket lays payloads out with the multiple-payloads flag: byte media
// object numbers, dword offsets, 8 bytes of replicated data and word payload
// lengths, padded to size.
func buildPacket(size int, sendMs uint32, payloads ...payloadSpec) []byte {
	w := &wbuf{}
	w.u8(0x11).u8(0x5d)
	padAt := len(w.b)
	w.u16(0).u32(sendMs).u16(0)
	w.u8(0x80 | uint8(len(payloads)))
	for _, p := range payloads {
		sid := p.stream
		if p.key {
			sid |= 0x80
		}
		w.u8(sid).u8(uint8(p.mon)).u32(p.offset).u8(8).u32(p.objSize).u32(p.ptsMs)
		w.u16(uint16(len(p.data))).raw(p.data)
	}
	if len(w.b) > size {
		panic("payloads overflow packet")
	}
	pad := size - len(w.b)
	binary.LittleEndian.PutUint16(w.b[padAt:], uint16(pad))
	return append(w.b, make([]byte, pad)...)
}

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// fragments splits one media object into n payloads.
func fragments(p payloadSpec, n int) []payloadSpec {
	p.objSize = uint32(len(p.data))
	chunk := (len(p.data) + n - 1) / n
	var out []payloadSpec
	for off := 0; off < len(p.data); off += chunk {
		end := min(off+chunk, len(p.data))
		f := p
		f.offset = uint32(off)
		f.data = p.data[off:end]
		out = append(out, f)
	}
	return out
}

const (
	avPacketSize = 1024
	avPreroll    = 3000
)

// avFile builds n packets; packet i carries video frame i (a key frame
// every fourth) at i*500ms and audio frame i at i*500ms+250ms.
func avFile(n int) []byte {
	var packets [][]byte
	for i := 0; i < n; i++ {
		t := uint32(avPreroll + i*500)
		packets = append(packets, buildPacket(avPacketSize, t,
			payloadSpec{stream: 1, key: i%4 == 0, mon: uint32(i), objSize: 40, ptsMs: t, data: fill(40, byte(i))},
			payloadSpec{stream: 2, mon: uint32(i), objSize: 20, ptsMs: t + 250, data: fill(20, byte(i))},
		))
	}
	fsp := fileSpec{
		packetSize: avPacketSize,
		preroll:    avPreroll,
		durationMs: uint64(n * 500),
		flags:      FileFlagSeekable,
	}
	return buildFile(fsp, [][]byte{videoStream(1), audioStream(2)}, packets)
}
