package asf

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// byteReader is a bounded little-endian reader over one region (an object
// body, a packet, a sub-field). Every read checks the remaining length of
// the region first. The first failure is sticky: later reads return zero
// values and err holds the corruption report.
type byteReader struct {
	data   []byte
	pos    int
	region string
	err    error
}

func newByteReader(data []byte, region string) *byteReader {
	return &byteReader{data: data, region: region}
}

func (r *byteReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || n > r.remaining() {
		r.err = corruptf("read", "%s: need %d bytes at offset %d, %d remain", r.region, n, r.pos, r.remaining())
		return false
	}
	return true
}

func (r *byteReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *byteReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *byteReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *byteReader) guid() GUID {
	var g GUID
	if !r.need(len(g)) {
		return g
	}
	copy(g[:], r.data[r.pos:])
	r.pos += len(g)
	return g
}

// coded reads a field whose width is selected by a 2-bit length-type code:
// 0 absent, 1 byte, 2 word, 3 dword.
func (r *byteReader) coded(code uint8) uint32 {
	switch code & 3 {
	case 1:
		return uint32(r.u8())
	case 2:
		return uint32(r.u16())
	case 3:
		return r.u32()
	}
	return 0
}

func codedWidth(code uint8) int {
	switch code & 3 {
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 4
	}
	return 0
}

// view returns the next n bytes without copying. The slice aliases the
// region and is only valid while the region's buffer is.
func (r *byteReader) view(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b
}

// bytes returns an owned copy of the next n bytes. The length is checked
// against the region before allocating.
func (r *byteReader) bytes(n int) []byte {
	b := r.view(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *byteReader) skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}

// sub returns a reader bounded to the next n bytes and advances past them.
func (r *byteReader) sub(n int, region string) *byteReader {
	b := r.view(n)
	if b == nil {
		return &byteReader{region: region, err: r.err}
	}
	return newByteReader(b, region)
}

// utf16 decodes n bytes of UTF-16LE text, dropping trailing NULs.
func (r *byteReader) utf16(n int) string {
	b := r.view(n)
	if len(b) == 0 {
		return ""
	}
	return decodeUTF16(b)
}

// ascii reads n bytes of NUL-terminated 8-bit text.
func (r *byteReader) ascii(n int) string {
	b := r.view(n)
	return strings.TrimRight(string(b), "\x00")
}

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func decodeUTF16(b []byte) string {
	if len(b)%2 == 1 {
		b = b[:len(b)-1]
	}
	out, err := utf16LE.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\x00")
}

// boundedCap limits a declared element count to what the remaining bytes
// could possibly hold, so a hostile count cannot size an allocation.
func boundedCap(count, remaining, minEntry int) int {
	if minEntry <= 0 {
		return 0
	}
	if limit := remaining / minEntry; count > limit {
		return limit
	}
	return count
}
