// Package media defines the frame type handed from the demuxer to the
// decode pipeline.
package media

import "sync/atomic"

// FrameBufferSize is the channel depth used between a session's pump and
// its sink.
const FrameBufferSize = 64

// Kind is the media type of an elementary stream.
type Kind uint8

const (
	KindOther Kind = iota
	KindAudio
	KindVideo
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindCommand:
		return "command"
	}
	return "other"
}

// Frame is one reconstructed media object. PTS is in 100-ns units with the
// file preroll already removed.
//
// Frames are reference counted so that the demuxer, scheduler callbacks and
// sinks running on different goroutines can share one without copying. A
// new Frame holds one reference; every Retain must be paired with a Release.
type Frame struct {
	StreamID    uint8
	Kind        Kind
	PTS         int64
	IsKeyframe  bool
	MediaObject uint32
	Data        []byte

	refs      atomic.Int32
	onRelease func(*Frame)
}

// NewFrame returns a frame holding one reference. onRelease, if non-nil,
// runs once when the last reference is dropped.
func NewFrame(streamID uint8, kind Kind, pts int64, key bool, data []byte, onRelease func(*Frame)) *Frame {
	f := &Frame{
		StreamID:   streamID,
		Kind:       kind,
		PTS:        pts,
		IsKeyframe: key,
		Data:       data,
		onRelease:  onRelease,
	}
	f.refs.Store(1)
	return f
}

// Retain adds a reference and returns f for chaining.
func (f *Frame) Retain() *Frame {
	if f.refs.Add(1) <= 1 {
		panic("media: Retain on released frame")
	}
	return f
}

// Release drops a reference. The frame's data must not be used after the
// caller's last Release.
func (f *Frame) Release() {
	switch n := f.refs.Add(-1); {
	case n == 0:
		if f.onRelease != nil {
			f.onRelease(f)
		}
		f.Data = nil
	case n < 0:
		panic("media: Release on released frame")
	}
}

// Refs returns the current reference count.
func (f *Frame) Refs() int32 {
	return f.refs.Load()
}
