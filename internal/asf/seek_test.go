package asf

import (
	"errors"
	"testing"

	"github.com/zsiec/asfdemux/internal/source"
)

type delivered struct {
	pts uint64
	key bool
}

func drain(t *testing.T, r *FrameReader) []delivered {
	t.Helper()
	var out []delivered
	for {
		err := r.Advance()
		if errors.Is(err, ErrNoMoreData) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, delivered{r.Pts(), r.IsKeyFrame()})
	}
}

func checkAfterSeek(t *testing.T, name string, got []delivered, target, first uint64) {
	t.Helper()
	if len(got) == 0 {
		t.Fatalf("%s: nothing delivered", name)
	}
	if got[0].pts != first || !got[0].key {
		t.Errorf("%s: first frame %+v, want key frame at %d", name, got[0], first)
	}
	if got[0].pts > target {
		t.Errorf("%s: first frame %d is past target %d", name, got[0].pts, target)
	}
	for i := 1; i < len(got); i++ {
		if got[i].pts < got[i-1].pts {
			t.Fatalf("%s: pts went back from %d to %d", name, got[i-1].pts, got[i].pts)
		}
	}
	if got[len(got)-1].pts <= target {
		t.Errorf("%s: never delivered past target", name)
	}
}

func TestSeek(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     uint64
		resume     uint64
		video      uint64
		audio      uint64
		sequential bool // play the file first so the index is populated
	}{
		{name: "near start", target: 5_000_000, resume: 0, video: 0, audio: 2_500_000},
		{name: "middle", target: 52_000_000, resume: 8, video: 40_000_000, audio: 47_500_000},
		{name: "middle with index", target: 52_000_000, resume: 8, video: 40_000_000, audio: 47_500_000, sequential: true},
		{name: "on key frame", target: 60_000_000, resume: 11, video: 60_000_000, audio: 57_500_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := openAV(t, 20)
			video := reader(t, d, 1)
			audio := reader(t, d, 2)
			if tt.sequential {
				drain(t, video)
				if d.Index().Len(1) != 20 {
					t.Fatalf("index holds %d packets", d.Index().Len(1))
				}
			}

			if err := d.Seek(tt.target); err != nil {
				t.Fatal(err)
			}
			if d.NextPacket() != tt.resume {
				t.Errorf("resume at packet %d, want %d", d.NextPacket(), tt.resume)
			}
			checkAfterSeek(t, "video", drain(t, video), tt.target, tt.video)
			checkAfterSeek(t, "audio", drain(t, audio), tt.target, tt.audio)
		})
	}
}

func TestSeekTwice(t *testing.T) {
	t.Parallel()

	d := openAV(t, 20)
	video := reader(t, d, 1)
	if err := d.Seek(80_000_000); err != nil {
		t.Fatal(err)
	}
	if err := video.Advance(); err != nil || video.Pts() != 80_000_000 {
		t.Fatalf("after first seek: %v pts %d", err, video.Pts())
	}
	// Seeking backwards clears the floor.
	if err := d.Seek(0); err != nil {
		t.Fatal(err)
	}
	if err := video.Advance(); err != nil || video.Pts() != 0 {
		t.Fatalf("after second seek: %v pts %d", err, video.Pts())
	}
}

func TestSeekBackIntoUnindexedRange(t *testing.T) {
	t.Parallel()

	d := openAV(t, 20)
	video := reader(t, d, 1)
	if err := d.Seek(80_000_000); err != nil {
		t.Fatal(err)
	}
	drain(t, video)

	// Only packets past the target are indexed; the start estimate must
	// not fall back to the beginning of the file.
	if _, found, covered := d.Index().Estimate(1, 52_000_000); found || covered {
		t.Fatalf("estimate found=%v covered=%v with no packet at or below target", found, covered)
	}
	if got := d.estimatePacket(1, 52_000_000, d.parser.Facts()); got != 10 {
		t.Errorf("start estimate %d, want 10", got)
	}
	if err := d.Seek(52_000_000); err != nil {
		t.Fatal(err)
	}
	if d.NextPacket() != 8 {
		t.Errorf("resume at packet %d, want 8", d.NextPacket())
	}
	checkAfterSeek(t, "video", drain(t, video), 52_000_000, 40_000_000)
}

func TestSeekRejects(t *testing.T) {
	t.Parallel()

	t.Run("no streams selected", func(t *testing.T) {
		t.Parallel()
		d := openAV(t, 4)
		if err := d.Seek(0); ErrorKindOf(err) != InvalidStreamReference {
			t.Fatalf("got %v, want invalid stream reference", err)
		}
	})
	t.Run("broadcast", func(t *testing.T) {
		t.Parallel()
		packets := [][]byte{buildPacket(256, 0, payloadSpec{stream: 1, key: true, objSize: 4, data: fill(4, 1)})}
		data := buildFile(fileSpec{packetSize: 256, flags: FileFlagBroadcast}, [][]byte{videoStream(1)}, packets)
		d := openDemuxer(t, data)
		reader(t, d, 1)
		if err := d.Seek(0); ErrorKindOf(err) != UnsupportedFeature {
			t.Fatalf("got %v, want unsupported feature", err)
		}
	})
	t.Run("not open", func(t *testing.T) {
		t.Parallel()
		d := NewDemuxer(source.NewMemorySource(avFile(1)))
		if err := d.Seek(0); !errors.Is(err, ErrNotOpen) {
			t.Fatalf("got %v, want ErrNotOpen", err)
		}
	})
}

func TestSeekNotEnoughDataChangesNothing(t *testing.T) {
	t.Parallel()

	data := avFile(20)
	hdrEnd := len(data) - 20*avPacketSize
	q := source.NewQueueSource()
	q.Write(data[:hdrEnd+5*avPacketSize])
	d := NewDemuxer(q)
	if _, err := d.Open(); err != nil {
		t.Fatal(err)
	}
	video := reader(t, d, 1)
	pos := q.Position()

	if err := d.Seek(52_000_000); !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("got %v, want ErrNotEnoughData", err)
	}
	if q.Position() != pos || d.NextPacket() != 0 || d.LastError() != nil {
		t.Fatalf("state changed: position %d, next packet %d, error %v", q.Position(), d.NextPacket(), d.LastError())
	}
	if err := video.Advance(); err != nil || video.Pts() != 0 {
		t.Fatalf("advance after failed seek: %v pts %d", err, video.Pts())
	}

	// Once the data has arrived the same seek succeeds.
	q.Write(data[hdrEnd+5*avPacketSize:])
	q.Close()
	if err := d.Seek(52_000_000); err != nil {
		t.Fatal(err)
	}
	if err := video.Advance(); err != nil || video.Pts() != 40_000_000 {
		t.Fatalf("after seek: %v pts %d", err, video.Pts())
	}
}
