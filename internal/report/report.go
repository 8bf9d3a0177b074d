// Package report summarizes the facts of an opened ASF file and encodes the
// summary as a protobuf message, so probe results can be consumed by tools
// in any language without a generated schema on the producing side.
//
// Message layout (proto3 field numbers):
//
//	Report  { 1 file_id string; 2 packet_size uint32; 3 packet_count uint64;
//	          4 duration uint64; 5 preroll_ms uint64; 6 broadcast bool;
//	          7 seekable bool; 8 protected bool; 9 repeated Stream streams;
//	          10 title string; 11 author string; 12 repeated Marker markers;
//	          13 repeated Tag metadata }
//	Stream  { 1 id uint32; 2 kind uint32; 3 codec string; 4 type string;
//	          5 width uint32; 6 height uint32; 7 channels uint32;
//	          8 sample_rate uint32; 9 bitrate uint32; 10 encrypted bool;
//	          11 name string; 12 avg_time_per_frame uint64 }
//	Marker  { 1 name string; 2 pts uint64 }
//	Tag     { 1 name string; 2 value string }
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zsiec/asfdemux/internal/asf"
)

type Stream struct {
	ID              uint8
	Kind            uint32
	Codec           string
	Type            string
	Width           uint32
	Height          uint32
	Channels        uint32
	SampleRate      uint32
	Bitrate         uint32
	Encrypted       bool
	Name            string
	AvgTimePerFrame uint64
}

type Marker struct {
	Name string
	Pts  uint64
}

type Tag struct {
	Name  string
	Value string
}

// Report is the probe summary of one file.
type Report struct {
	FileID      string
	PacketSize  uint32
	PacketCount uint64
	Duration    uint64 // 100-ns units
	PrerollMs   uint64
	Broadcast   bool
	Seekable    bool
	Protected   bool
	Streams     []Stream
	Title       string
	Author      string
	Markers     []Marker
	Metadata    []Tag
}

// FromFacts builds a Report from an opened parser's facts.
func FromFacts(f *asf.Facts) Report {
	r := Report{
		FileID:      f.File.FileID.String(),
		PacketSize:  f.PacketSize,
		PacketCount: f.PacketCount,
		Duration:    f.Duration,
		PrerollMs:   f.File.Preroll,
		Broadcast:   f.File.Broadcast(),
		Seekable:    f.File.Seekable(),
		Protected:   f.Protected,
	}
	if f.Content != nil {
		r.Title = f.Content.Title
		r.Author = f.Content.Author
	}

	bitrates := make(map[uint8]uint32, len(f.Bitrates))
	for _, b := range f.Bitrates {
		bitrates[b.StreamID] = b.AverageBitrate
	}
	ext := make(map[uint8]*asf.ExtendedStreamProperties, len(f.Extended))
	for _, e := range f.Extended {
		ext[e.StreamID] = e
	}
	for _, sp := range f.Streams {
		s := Stream{
			ID:        sp.ID,
			Kind:      uint32(sp.MediaKind()),
			Codec:     sp.Codec(),
			Type:      sp.StreamType.String(),
			Bitrate:   bitrates[sp.ID],
			Encrypted: sp.Encrypted,
		}
		if v := sp.Video; v != nil {
			s.Width, s.Height = v.EncodedWidth, v.EncodedHeight
		}
		if a := sp.Audio; a != nil {
			s.Channels, s.SampleRate = uint32(a.Channels), a.SampleRate
		}
		if e := ext[sp.ID]; e != nil {
			s.AvgTimePerFrame = e.AvgTimePerFrame
			if len(e.Names) > 0 {
				s.Name = e.Names[0].Name
			}
			if s.Bitrate == 0 {
				s.Bitrate = e.DataBitrate
			}
		}
		r.Streams = append(r.Streams, s)
	}
	for _, m := range f.Markers {
		r.Markers = append(r.Markers, Marker{Name: m.Description, Pts: m.PresentationTime})
	}
	for _, d := range f.Metadata {
		r.Metadata = append(r.Metadata, Tag{Name: d.Name, Value: d.String()})
	}
	return r
}

// WriteText writes a human-readable rendering of r.
func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "file id:   %s\n", r.FileID)
	fmt.Fprintf(&b, "duration:  %s (preroll %dms)\n", time.Duration(r.Duration*100), r.PrerollMs)
	fmt.Fprintf(&b, "packets:   %d x %d bytes\n", r.PacketCount, r.PacketSize)
	var flags []string
	if r.Broadcast {
		flags = append(flags, "broadcast")
	}
	if r.Seekable {
		flags = append(flags, "seekable")
	}
	if r.Protected {
		flags = append(flags, "protected")
	}
	if len(flags) > 0 {
		fmt.Fprintf(&b, "flags:     %s\n", strings.Join(flags, ", "))
	}
	if r.Title != "" || r.Author != "" {
		fmt.Fprintf(&b, "title:     %s\nauthor:    %s\n", r.Title, r.Author)
	}
	for _, s := range r.Streams {
		fmt.Fprintf(&b, "stream %d:  %s", s.ID, s.Codec)
		switch {
		case s.Width > 0:
			fmt.Fprintf(&b, " %dx%d", s.Width, s.Height)
		case s.SampleRate > 0:
			fmt.Fprintf(&b, " %dHz %dch", s.SampleRate, s.Channels)
		}
		if s.Bitrate > 0 {
			fmt.Fprintf(&b, " %dkbps", s.Bitrate/1000)
		}
		if s.Name != "" {
			fmt.Fprintf(&b, " %q", s.Name)
		}
		if s.Encrypted {
			b.WriteString(" encrypted")
		}
		b.WriteByte('\n')
	}
	for _, m := range r.Markers {
		fmt.Fprintf(&b, "marker:    %s %q\n", time.Duration(m.Pts*100), m.Name)
	}
	for _, t := range r.Metadata {
		fmt.Fprintf(&b, "tag:       %s = %s\n", t.Name, t.Value)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
