// Package source defines the byte source contract consumed by the ASF
// demuxer and provides file, memory and network-fed implementations.
//
// All reads are all-or-nothing: a read that cannot be satisfied with the
// bytes currently available returns [ErrNotEnoughData] and leaves the
// position unchanged, so the caller can retry the same call later.
package source

import (
	"errors"
	"io"
)

// ErrNotEnoughData is returned when the requested bytes are not available
// yet. It is never returned once the source has reached its end.
var ErrNotEnoughData = errors.New("source: not enough data")

// Source is a seekable, peekable byte source. Implementations are not safe
// for concurrent readers.
type Source interface {
	// ReadExact fills p completely and advances the position, or returns an
	// error without advancing.
	ReadExact(p []byte) error
	// Peek fills p from the current position without advancing.
	Peek(p []byte) error
	Seek(offset int64, whence int) (int64, error)
	Position() int64
	// Size returns the total size in bytes, or -1 when unknown.
	Size() int64
	// LastAvailablePosition returns the highest readable offset for
	// streaming sources, or -1 when the whole source is available or the
	// bound is unknown.
	LastAvailablePosition() int64
	Eof() bool
}

// IsPositionAvailable reports whether pos can be read from s without
// waiting for more data.
func IsPositionAvailable(s Source, pos int64) bool {
	if last := s.LastAvailablePosition(); last >= 0 && pos <= last {
		return true
	}
	if size := s.Size(); size >= 0 && pos <= size {
		return true
	}
	return false
}

func resolveSeek(cur, size, offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = cur + offset
	case io.SeekEnd:
		if size < 0 {
			return cur, errors.New("source: seek from end with unknown size")
		}
		pos = size + offset
	default:
		return cur, errors.New("source: invalid whence")
	}
	if pos < 0 {
		return cur, errors.New("source: negative position")
	}
	return pos, nil
}
