package asftest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/asfdemux/internal/asf"
	"github.com/zsiec/asfdemux/internal/source"
)

func TestBuildDemuxes(t *testing.T) {
	t.Parallel()

	f := AV(5000)
	f.Title = "synthetic"
	d := asf.NewDemuxer(source.NewMemorySource(Build(f)))
	facts, err := d.Open()
	if err != nil {
		t.Fatal(err)
	}
	if facts.Content == nil || facts.Content.Title != "synthetic" {
		t.Errorf("content description = %+v", facts.Content)
	}
	if facts.Duration != 5000*10000 {
		t.Errorf("duration %d", facts.Duration)
	}

	want := make(map[uint8][]Frame)
	for _, fr := range f.Frames() {
		want[fr.Stream] = append(want[fr.Stream], fr)
	}
	readers := make(map[uint8]*asf.FrameReader)
	for _, s := range f.Streams {
		r, err := d.CreateReader(s.ID)
		if err != nil {
			t.Fatal(err)
		}
		readers[s.ID] = r
	}
	for _, s := range f.Streams {
		r := readers[s.ID]
		for i, fr := range want[s.ID] {
			if err := r.Advance(); err != nil {
				t.Fatalf("stream %d frame %d: %v", s.ID, i, err)
			}
			buf := make([]byte, r.Size())
			r.Write(buf)
			if !bytes.Equal(buf, fr.Data) || r.Pts() != uint64(fr.PtsMs)*10000 || r.IsKeyFrame() != fr.Key {
				t.Fatalf("stream %d frame %d: pts %d key %v size %d", s.ID, i, r.Pts(), r.IsKeyFrame(), len(buf))
			}
		}
		if err := r.Advance(); !errors.Is(err, asf.ErrNoMoreData) {
			t.Fatalf("stream %d: got %v after last frame", s.ID, err)
		}
	}
}
