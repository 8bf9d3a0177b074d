package report

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/zsiec/asfdemux/internal/asf"
	"github.com/zsiec/asfdemux/internal/media"
)

func testFacts() *asf.Facts {
	return &asf.Facts{
		File: &asf.FileProperties{
			PacketCount:  20,
			PlayDuration: 130_000_000,
			Preroll:      3000,
			Flags:        asf.FileFlagSeekable,
		},
		Streams: []*asf.StreamProperties{
			{ID: 1, StreamType: asf.GUIDVideoMedia, Video: &asf.VideoFormat{EncodedWidth: 320, EncodedHeight: 240, Compression: 0x33564d57}},
			{ID: 2, StreamType: asf.GUIDAudioMedia, Audio: &asf.AudioFormat{FormatTag: 0x161, Channels: 2, SampleRate: 44100}, Encrypted: true},
		},
		Extended: []*asf.ExtendedStreamProperties{
			{StreamID: 1, DataBitrate: 500_000, AvgTimePerFrame: 333_333, Names: []asf.StreamName{{Name: "main"}}},
		},
		Content:     &asf.ContentDescription{Title: "clip", Author: "someone"},
		Metadata:    []asf.ContentDescriptor{{Name: "WM/Year", Value: "2009"}},
		Markers:     []asf.Marker{{PresentationTime: 50_000_000, Description: "chapter 2"}},
		Bitrates:    []asf.BitrateRecord{{StreamID: 2, AverageBitrate: 128_000}},
		Protected:   true,
		PacketSize:  1024,
		PacketCount: 20,
		Duration:    100_000_000,
	}
}

func TestFromFacts(t *testing.T) {
	t.Parallel()

	r := FromFacts(testFacts())
	if len(r.Streams) != 2 {
		t.Fatalf("got %d streams", len(r.Streams))
	}
	v, a := r.Streams[0], r.Streams[1]
	if v.Codec != "WMV3" || v.Width != 320 || v.Bitrate != 500_000 || v.Name != "main" || v.Kind != uint32(media.KindVideo) {
		t.Errorf("video stream = %+v", v)
	}
	if a.SampleRate != 44100 || a.Channels != 2 || a.Bitrate != 128_000 || !a.Encrypted {
		t.Errorf("audio stream = %+v", a)
	}
	if !r.Seekable || r.Broadcast || !r.Protected || r.PrerollMs != 3000 {
		t.Errorf("flags = %+v", r)
	}
	if len(r.Markers) != 1 || r.Markers[0].Pts != 50_000_000 || len(r.Metadata) != 1 || r.Metadata[0].Value != "2009" {
		t.Errorf("markers %v metadata %v", r.Markers, r.Metadata)
	}
}

func TestWireRoundTrip(t *testing.T) {
	t.Parallel()

	want := FromFacts(testFacts())
	got, err := Unmarshal(Marshal(want))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, want)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	t.Parallel()

	b := Marshal(Report{Title: "x"})
	// Field 99, fixed32.
	b = append(b, 0x9d, 0x06, 1, 2, 3, 4)
	r, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if r.Title != "x" {
		t.Errorf("title %q", r.Title)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	t.Parallel()

	b := Marshal(FromFacts(testFacts()))
	if _, err := Unmarshal(b[:len(b)-3]); err == nil {
		t.Fatal("expected an error")
	}
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteText(&buf, FromFacts(testFacts())); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"duration:  10s", "seekable, protected", "320x240", "44100Hz 2ch", "\"chapter 2\"", "WM/Year = 2009"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}
