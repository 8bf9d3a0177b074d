package report

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes r in the protobuf wire format. Zero-valued scalar fields
// are omitted as in proto3.
func Marshal(r Report) []byte {
	var b []byte
	b = appendString(b, 1, r.FileID)
	b = appendVarint(b, 2, uint64(r.PacketSize))
	b = appendVarint(b, 3, r.PacketCount)
	b = appendVarint(b, 4, r.Duration)
	b = appendVarint(b, 5, r.PrerollMs)
	b = appendBool(b, 6, r.Broadcast)
	b = appendBool(b, 7, r.Seekable)
	b = appendBool(b, 8, r.Protected)
	for _, s := range r.Streams {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalStream(s))
	}
	b = appendString(b, 10, r.Title)
	b = appendString(b, 11, r.Author)
	for _, m := range r.Markers {
		var mb []byte
		mb = appendString(mb, 1, m.Name)
		mb = appendVarint(mb, 2, m.Pts)
		b = protowire.AppendTag(b, 12, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	for _, t := range r.Metadata {
		var tb []byte
		tb = appendString(tb, 1, t.Name)
		tb = appendString(tb, 2, t.Value)
		b = protowire.AppendTag(b, 13, protowire.BytesType)
		b = protowire.AppendBytes(b, tb)
	}
	return b
}

func marshalStream(s Stream) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(s.ID))
	b = appendVarint(b, 2, uint64(s.Kind))
	b = appendString(b, 3, s.Codec)
	b = appendString(b, 4, s.Type)
	b = appendVarint(b, 5, uint64(s.Width))
	b = appendVarint(b, 6, uint64(s.Height))
	b = appendVarint(b, 7, uint64(s.Channels))
	b = appendVarint(b, 8, uint64(s.SampleRate))
	b = appendVarint(b, 9, uint64(s.Bitrate))
	b = appendBool(b, 10, s.Encrypted)
	b = appendString(b, 11, s.Name)
	b = appendVarint(b, 12, s.AvgTimePerFrame)
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// field is one decoded top-level field. Unknown fields are skipped.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	u     uint64
	bytes []byte
}

func eachField(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("report: %w", protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("report: field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal decodes a message produced by Marshal.
func Unmarshal(b []byte) (Report, error) {
	var r Report
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			r.FileID = string(f.bytes)
		case 2:
			r.PacketSize = uint32(f.u)
		case 3:
			r.PacketCount = f.u
		case 4:
			r.Duration = f.u
		case 5:
			r.PrerollMs = f.u
		case 6:
			r.Broadcast = f.u != 0
		case 7:
			r.Seekable = f.u != 0
		case 8:
			r.Protected = f.u != 0
		case 9:
			s, err := unmarshalStream(f.bytes)
			if err != nil {
				return err
			}
			r.Streams = append(r.Streams, s)
		case 10:
			r.Title = string(f.bytes)
		case 11:
			r.Author = string(f.bytes)
		case 12:
			var m Marker
			err := eachField(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					m.Name = string(f.bytes)
				case 2:
					m.Pts = f.u
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Markers = append(r.Markers, m)
		case 13:
			var t Tag
			err := eachField(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					t.Name = string(f.bytes)
				case 2:
					t.Value = string(f.bytes)
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Metadata = append(r.Metadata, t)
		}
		return nil
	})
	return r, err
}

func unmarshalStream(b []byte) (Stream, error) {
	var s Stream
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			s.ID = uint8(f.u)
		case 2:
			s.Kind = uint32(f.u)
		case 3:
			s.Codec = string(f.bytes)
		case 4:
			s.Type = string(f.bytes)
		case 5:
			s.Width = uint32(f.u)
		case 6:
			s.Height = uint32(f.u)
		case 7:
			s.Channels = uint32(f.u)
		case 8:
			s.SampleRate = uint32(f.u)
		case 9:
			s.Bitrate = uint32(f.u)
		case 10:
			s.Encrypted = f.u != 0
		case 11:
			s.Name = string(f.bytes)
		case 12:
			s.AvgTimePerFrame = f.u
		}
		return nil
	})
	return s, err
}
