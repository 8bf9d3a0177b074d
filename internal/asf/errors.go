package asf

import (
	"errors"
	"fmt"

	"github.com/zsiec/asfdemux/internal/source"
)

// Sentinel results. ErrNotEnoughData is recoverable by calling again once
// more bytes are available; ErrNoMoreData marks a clean end of data.
var (
	ErrNotEnoughData = source.ErrNotEnoughData
	ErrNoMoreData    = errors.New("asf: no more data")
)

// ErrorKind classifies fatal failures.
type ErrorKind uint8

const (
	// StructuralCorruption: an invariant of the container was violated.
	StructuralCorruption ErrorKind = iota + 1
	// UnsupportedFeature: a recognized construct that is not handled.
	UnsupportedFeature
	// OutOfMemory: an allocation ceiling was exceeded.
	OutOfMemory
	// InvalidStreamReference: a field names an undeclared stream.
	InvalidStreamReference
)

func (k ErrorKind) String() string {
	switch k {
	case StructuralCorruption:
		return "structural corruption"
	case UnsupportedFeature:
		return "unsupported feature"
	case OutOfMemory:
		return "out of memory"
	case InvalidStreamReference:
		return "invalid stream reference"
	}
	return "unknown"
}

// Error is a classified failure of one operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := "asf: " + e.Op + ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func corruptf(op, format string, args ...any) *Error {
	return newError(StructuralCorruption, op, format, args...)
}

// PacketError reports a packet that could not be decoded. It is
// recoverable: the packet is skipped and reading continues with the next.
type PacketError struct {
	Index uint64
	Err   error
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("asf: packet %d: %v", e.Index, e.Err)
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

// ErrorKindOf reports the ErrorKind carried by err, or 0 when err is not a
// classified failure.
func ErrorKindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsFatal reports whether err leaves the demuxer unusable. Not-enough-data,
// end of data and skippable packet errors are not fatal.
func IsFatal(err error) bool {
	if err == nil || errors.Is(err, ErrNotEnoughData) || errors.Is(err, ErrNoMoreData) {
		return false
	}
	var pe *PacketError
	return !errors.As(err, &pe)
}
