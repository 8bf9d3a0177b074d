package asf

// Packet is one decoded physical packet of the data section.
type Packet struct {
	Index         uint64
	Length        uint32
	Sequence      uint32
	PaddingLength uint32
	SendTime      uint32 // milliseconds
	Duration      uint16 // milliseconds
	Payloads      []*Payload
}

// Payload is one stream's contribution to a packet.
type Payload struct {
	StreamID          uint8
	KeyFrame          bool
	MediaObjectNumber uint32
	Offset            uint32 // offset into the media object
	MediaObjectSize   uint32 // 0 when unknown
	ReplicatedData    []byte
	Data              []byte

	// PresentationTime is the wire time in milliseconds: from replicated
	// data, the compressed group's base plus delta, or the packet send
	// time when neither is present.
	PresentationTime uint32
	// Pts is PresentationTime in 100-ns units with the preroll removed.
	Pts uint64

	// Compressed marks a sibling expanded from a compressed group. Each
	// sibling is a complete media object on its own.
	Compressed bool
}

// Length-type flags.
const (
	flagMultiplePayloads = 0x01
	flagErrorCorrection  = 0x80
)

type packetFields struct {
	lenType, seqType, padType uint8
	repType, offType, monType uint8
	ecBytes                   int
}

// decodePacket decodes one packet held in buf. valid reports whether a
// stream id was declared in the header. Payload data aliases buf.
func decodePacket(buf []byte, packetSize uint32, valid func(uint8) bool) (*Packet, error) {
	r := newByteReader(buf, "packet")
	var pf packetFields

	flags := r.u8()
	if flags&flagErrorCorrection != 0 {
		// The error correction flags byte; two data bytes follow and the
		// length-type flags come after them.
		r.skip(2)
		pf.ecBytes = 3
		flags = r.u8()
	}
	props := r.u8()

	pf.lenType = (flags >> 5) & 3
	pf.seqType = (flags >> 1) & 3
	pf.padType = (flags >> 3) & 3
	pf.repType = props & 3
	pf.offType = (props >> 2) & 3
	pf.monType = (props >> 4) & 3

	pkt := &Packet{}
	pkt.Length = r.coded(pf.lenType)
	pkt.Sequence = r.coded(pf.seqType)
	pkt.PaddingLength = r.coded(pf.padType)
	pkt.SendTime = r.u32()
	pkt.Duration = r.u16()
	if r.err != nil {
		return nil, r.err
	}

	if pf.lenType == 0 {
		pkt.Length = packetSize
	}
	if pkt.Length > uint32(len(buf)) {
		return nil, corruptf("packet", "packet length %d exceeds packet size %d", pkt.Length, len(buf))
	}
	if uint64(r.pos)+uint64(pkt.PaddingLength) > uint64(pkt.Length) {
		return nil, corruptf("packet", "padding %d overruns packet length %d", pkt.PaddingLength, pkt.Length)
	}

	// Payloads live between the parsing information and the padding.
	body := newByteReader(buf[:pkt.Length-pkt.PaddingLength], "packet payloads")
	body.pos = r.pos

	if flags&flagMultiplePayloads == 0 {
		pl, err := decodeSinglePayload(body, pkt, pf)
		if err != nil {
			return nil, err
		}
		pkt.Payloads = pl
	} else {
		pflags := body.u8()
		count := int(pflags & 0x3f)
		lenType := (pflags >> 6) & 3
		if body.err != nil {
			return nil, body.err
		}
		if count == 0 {
			return nil, corruptf("packet", "multiple payloads flag with zero payloads")
		}
		for i := 0; i < count; i++ {
			h, err := readPayloadHeader(body, pf)
			if err != nil {
				return nil, err
			}
			n := int(body.coded(lenType))
			if body.err != nil {
				return nil, body.err
			}
			pl, err := h.finish(body, n, pkt)
			if err != nil {
				return nil, err
			}
			pkt.Payloads = append(pkt.Payloads, pl...)
		}
	}

	for _, pl := range pkt.Payloads {
		if !valid(pl.StreamID) {
			return nil, newError(InvalidStreamReference, "packet", "payload for undeclared stream %d", pl.StreamID)
		}
	}
	return pkt, nil
}

type payloadHeader struct {
	streamID uint8
	key      bool
	mon      uint32
	offset   uint32
	rep      []byte
}

func readPayloadHeader(r *byteReader, pf packetFields) (payloadHeader, error) {
	var h payloadHeader
	sid := r.u8()
	h.streamID = sid & 0x7f
	h.key = sid&0x80 != 0
	h.mon = r.coded(pf.monType)
	h.offset = r.coded(pf.offType)
	repLen := r.coded(pf.repType)
	if r.err != nil {
		return h, r.err
	}
	if repLen >= 2 && repLen < 8 {
		return h, corruptf("payload", "replicated data length %d", repLen)
	}
	h.rep = r.view(int(repLen))
	return h, r.err
}

// decodeSinglePayload handles a packet without the multiple-payloads flag.
// The data length is not on the wire: it is the packet length minus every
// field that precedes the data and minus the padding.
func decodeSinglePayload(r *byteReader, pkt *Packet, pf packetFields) ([]*Payload, error) {
	h, err := readPayloadHeader(r, pf)
	if err != nil {
		return nil, err
	}
	used := pf.ecBytes + 2 +
		codedWidth(pf.lenType) + codedWidth(pf.seqType) + codedWidth(pf.padType) +
		4 + 2 + // send time, duration
		1 + // stream number
		codedWidth(pf.monType) + codedWidth(pf.offType) + codedWidth(pf.repType) +
		len(h.rep)
	n := int64(pkt.Length) - int64(used) - int64(pkt.PaddingLength)
	if n < 0 {
		return nil, corruptf("payload", "inferred data length %d", n)
	}
	return h.finish(r, int(n), pkt)
}

// finish reads n data bytes and builds the payload, expanding a compressed
// group into its sub-payloads.
func (h payloadHeader) finish(r *byteReader, n int, pkt *Packet) ([]*Payload, error) {
	data := r.view(n)
	if r.err != nil {
		return nil, r.err
	}

	if len(h.rep) == 1 {
		return expandCompressed(h, data)
	}

	pl := &Payload{
		StreamID:          h.streamID,
		KeyFrame:          h.key,
		MediaObjectNumber: h.mon,
		Offset:            h.offset,
		ReplicatedData:    h.rep,
		Data:              data,
		PresentationTime:  pkt.SendTime,
	}
	if len(h.rep) >= 8 {
		rr := newByteReader(h.rep, "replicated data")
		pl.MediaObjectSize = rr.u32()
		pl.PresentationTime = rr.u32()
	}
	return []*Payload{pl}, nil
}

// expandCompressed splits a compressed group. The offset field carries the
// base presentation time and the single replicated byte the per-unit delta.
func expandCompressed(h payloadHeader, data []byte) ([]*Payload, error) {
	delta := uint32(h.rep[0])
	r := newByteReader(data, "compressed payload")
	var out []*Payload
	for i := uint32(0); r.remaining() > 0; i++ {
		n := r.u8()
		sub := r.view(int(n))
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, &Payload{
			StreamID:          h.streamID,
			KeyFrame:          h.key,
			MediaObjectNumber: h.mon,
			MediaObjectSize:   uint32(n),
			Data:              sub,
			PresentationTime:  h.offset + i*delta,
			Compressed:        true,
		})
	}
	return out, nil
}
