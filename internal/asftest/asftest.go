// Package asftest synthesizes small, valid ASF files for tests and the
// push tool. Frames carry deterministic bytes so a consumer can verify
// reassembly: every byte of frame n of stream s is byte(s*16 + n).
package asftest

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/zsiec/asfdemux/internal/asf"
	"github.com/zsiec/asfdemux/internal/media"
)

// Stream describes one synthetic elementary stream.
type Stream struct {
	ID         uint8
	Kind       media.Kind // KindAudio or KindVideo
	FrameBytes int
	FrameMs    uint32
	KeyEvery   int // video only; 0 means every frame
}

// File describes a synthetic file.
type File struct {
	PacketSize int
	PrerollMs  uint32
	DurationMs uint32
	Title      string
	Streams    []Stream
}

// Frame is one media object as laid into the file.
type Frame struct {
	Stream uint8
	Number uint32
	PtsMs  uint32 // preroll excluded
	Key    bool
	Data   []byte
}

// FileID is the file id every synthesized file carries.
var FileID = asf.GUID{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, 0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}

const (
	packetOverhead  = 11
	payloadOverhead = 17
	maxPayloads     = 63
)

// AV returns a two-stream file: 320x240 video on stream 1 (a key frame
// every fourth frame, 500ms apart) and audio on stream 2, offset by 250ms.
func AV(durationMs uint32) File {
	return File{
		PacketSize: 1024,
		PrerollMs:  3000,
		DurationMs: durationMs,
		Streams: []Stream{
			{ID: 1, Kind: media.KindVideo, FrameBytes: 1500, FrameMs: 500, KeyEvery: 4},
			{ID: 2, Kind: media.KindAudio, FrameBytes: 200, FrameMs: 500},
		},
	}
}

// Frames lists the frames of f in the order they are written.
func (f File) Frames() []Frame {
	var out []Frame
	for _, s := range f.Streams {
		var offset uint32
		if s.Kind == media.KindAudio {
			offset = s.FrameMs / 2
		}
		for n := uint32(0); n*s.FrameMs+offset < f.DurationMs; n++ {
			key := s.Kind != media.KindVideo || s.KeyEvery <= 1 || int(n)%s.KeyEvery == 0
			out = append(out, Frame{
				Stream: s.ID,
				Number: n,
				PtsMs:  n*s.FrameMs + offset,
				Key:    key,
				Data:   bytes.Repeat([]byte{byte(uint32(s.ID)*16 + n)}, s.FrameBytes),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PtsMs < out[j].PtsMs })
	return out
}

type wbuf struct{ b []byte }

func (w *wbuf) u8(v uint8) *wbuf      { w.b = append(w.b, v); return w }
func (w *wbuf) u16(v uint16) *wbuf    { w.b = binary.LittleEndian.AppendUint16(w.b, v); return w }
func (w *wbuf) u32(v uint32) *wbuf    { w.b = binary.LittleEndian.AppendUint32(w.b, v); return w }
func (w *wbuf) u64(v uint64) *wbuf    { w.b = binary.LittleEndian.AppendUint64(w.b, v); return w }
func (w *wbuf) guid(g asf.GUID) *wbuf { w.b = append(w.b, g[:]...); return w }
func (w *wbuf) raw(p []byte) *wbuf    { w.b = append(w.b, p...); return w }
func (w *wbuf) object(g asf.GUID, body []byte) *wbuf {
	return w.guid(g).u64(uint64(24 + len(body))).raw(body)
}

func utf16z(s string) []byte {
	w := &wbuf{}
	for _, r := range s {
		w.u16(uint16(r))
	}
	return w.u16(0).b
}

type fragment struct {
	frame  *Frame
	offset int
	data   []byte
}

// Build lays f out as an ASF file.
func Build(f File) []byte {
	frames := f.Frames()
	packets := packetize(f, frames)

	var children [][]byte
	fp := &wbuf{}
	fp.guid(FileID).u64(0).u64(0).u64(uint64(len(packets))).
		u64(uint64(f.DurationMs+f.PrerollMs) * 10000).u64(0).u64(uint64(f.PrerollMs)).
		u32(asf.FileFlagSeekable).u32(uint32(f.PacketSize)).u32(uint32(f.PacketSize)).u32(0)
	children = append(children, (&wbuf{}).object(asf.GUIDFileProperties, fp.b).b)
	for _, s := range f.Streams {
		children = append(children, streamProperties(s))
	}
	if f.Title != "" {
		t, a := utf16z(f.Title), utf16z("")
		cd := &wbuf{}
		cd.u16(uint16(len(t))).u16(uint16(len(a))).u16(0).u16(0).u16(0).raw(t).raw(a)
		children = append(children, (&wbuf{}).object(asf.GUIDContentDescription, cd.b).b)
	}

	hdr := &wbuf{}
	hdr.u32(uint32(len(children))).u8(1).u8(2)
	for _, c := range children {
		hdr.raw(c)
	}
	out := (&wbuf{}).object(asf.GUIDHeader, hdr.b)

	out.guid(asf.GUIDData).u64(uint64(50 + len(packets)*f.PacketSize)).
		guid(FileID).u64(uint64(len(packets))).u16(0x0101)
	for _, p := range packets {
		out.raw(p)
	}
	return out.b
}

func streamProperties(s Stream) []byte {
	ts := &wbuf{}
	typ := asf.GUIDAudioMedia
	if s.Kind == media.KindVideo {
		typ = asf.GUIDVideoMedia
		ts.u32(320).u32(240).u8(2).u16(40)
		ts.u32(40).u32(320).u32(240).u16(1).u16(24).raw([]byte("WMV3"))
		ts.u32(320 * 240 * 3).u32(0).u32(0).u32(0).u32(0)
	} else {
		ts.u16(0x0161).u16(2).u32(44100).u32(16000).u16(2).u16(16).u16(0)
	}
	w := &wbuf{}
	w.guid(typ).guid(asf.GUIDNoErrorCorrection).u64(0).
		u32(uint32(len(ts.b))).u32(0).u16(uint16(s.ID)).u32(0).raw(ts.b)
	return (&wbuf{}).object(asf.GUIDStreamProperties, w.b).b
}

// packetize splits frames into payload fragments and fills fixed-size
// packets in order.
func packetize(f File, frames []Frame) [][]byte {
	var frags []fragment
	for i := range frames {
		fr := &frames[i]
		if len(fr.Data) == 0 {
			frags = append(frags, fragment{frame: fr})
			continue
		}
		for off := 0; off < len(fr.Data); {
			room := f.PacketSize - packetOverhead - payloadOverhead
			end := min(off+room, len(fr.Data))
			frags = append(frags, fragment{frame: fr, offset: off, data: fr.Data[off:end]})
			off = end
		}
	}

	var packets [][]byte
	for len(frags) > 0 {
		w := &wbuf{}
		w.u8(0x11).u8(0x5d)
		padAt := len(w.b)
		first := frags[0].frame
		w.u16(0).u32(first.PtsMs + f.PrerollMs).u16(0)
		countAt := len(w.b)
		w.u8(0)

		n := 0
		for len(frags) > 0 && n < maxPayloads {
			fr := frags[0]
			free := f.PacketSize - len(w.b) - payloadOverhead
			if free <= 0 {
				break
			}
			data := fr.data
			if len(data) > free {
				// Split the fragment at the packet boundary.
				data = data[:free]
				frags[0].data = fr.data[free:]
				frags[0].offset += free
			} else {
				frags = frags[1:]
			}
			sid := fr.frame.Stream
			if fr.frame.Key {
				sid |= 0x80
			}
			w.u8(sid).u8(uint8(fr.frame.Number)).u32(uint32(fr.offset)).u8(8).
				u32(uint32(len(fr.frame.Data))).u32(fr.frame.PtsMs + f.PrerollMs)
			w.u16(uint16(len(data))).raw(data)
			n++
		}
		w.b[countAt] = 0x80 | uint8(n)
		pad := f.PacketSize - len(w.b)
		binary.LittleEndian.PutUint16(w.b[padAt:], uint16(pad))
		packets = append(packets, append(w.b, make([]byte, pad)...))
	}
	return packets
}
