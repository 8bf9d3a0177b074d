package asf

import "math"

type ptsRange struct {
	min, max uint64
	set      bool
}

// SeekIndex records, per stream and per packet index, the range of
// presentation times observed in that packet. It is filled lazily as
// packets are read and never shrinks. Packets at or beyond the capacity
// are not recorded.
type SeekIndex struct {
	capacity uint64
	streams  [128][]ptsRange
}

func NewSeekIndex(capacity uint64) *SeekIndex {
	return &SeekIndex{capacity: capacity}
}

// Record notes that stream id carried a payload with pts in packet.
func (x *SeekIndex) Record(id uint8, packet, pts uint64) {
	if id == 0 || int(id) >= len(x.streams) || packet >= x.capacity {
		return
	}
	s := x.streams[id]
	if uint64(len(s)) <= packet {
		s = append(s, make([]ptsRange, packet+1-uint64(len(s)))...)
		x.streams[id] = s
	}
	r := &s[packet]
	if !r.set {
		*r = ptsRange{min: pts, max: pts, set: true}
		return
	}
	if pts < r.min {
		r.min = pts
	}
	if pts > r.max {
		r.max = pts
	}
}

// Len returns the number of packet slots tracked for stream id.
func (x *SeekIndex) Len(id uint8) int {
	if int(id) >= len(x.streams) {
		return 0
	}
	return len(x.streams[id])
}

// Estimate returns the last recorded packet whose minimum pts is at or
// below target. covered is true when that packet is followed by a recorded
// packet reaching target, i.e. the answer is bracketed by observations
// rather than a lower bound. covered implies found.
func (x *SeekIndex) Estimate(id uint8, target uint64) (packet uint64, found, covered bool) {
	if int(id) >= len(x.streams) {
		return 0, false, false
	}
	for i, r := range x.streams[id] {
		if !r.set {
			continue
		}
		if r.min <= target {
			packet, found = uint64(i), true
		}
		if r.max >= target {
			return packet, found, found
		}
	}
	return packet, found, false
}

// Ceiling returns the first recorded packet whose minimum pts is above
// target. Frames at or before target lie in earlier packets.
func (x *SeekIndex) Ceiling(id uint8, target uint64) (uint64, bool) {
	if int(id) >= len(x.streams) {
		return 0, false
	}
	for i, r := range x.streams[id] {
		if r.set && r.min > target {
			return uint64(i), true
		}
	}
	return 0, false
}

// proportionalPacket estimates the packet holding target by assuming a
// constant bitrate over the file.
func proportionalPacket(target, duration, packets uint64) uint64 {
	if packets == 0 || duration == 0 {
		return 0
	}
	if target >= duration {
		return packets - 1
	}
	est := math.Floor(float64(target) / float64(duration) * float64(packets))
	if est >= float64(packets) {
		return packets - 1
	}
	return uint64(est)
}
