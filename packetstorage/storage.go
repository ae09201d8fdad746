// Package packetstorage keeps the last N frames' packets on the
// sender so a NACK can be answered with a bit-exact retransmit
// (spec.md §3 PacketStorage).
package packetstorage

import (
	"github.com/bluenviron/castcore/modarith"
)

// Storage is a FIFO ring of recent frames, each a map from packet_id
// to the exact bytes that were sent on the wire.
type Storage struct {
	capacity int
	frames   map[modarith.FrameID]map[modarith.PacketID][]byte
	order    []modarith.FrameID // oldest first
}

// New allocates a Storage retaining up to capacity frames.
func New(capacity int) *Storage {
	return &Storage{
		capacity: capacity,
		frames:   make(map[modarith.FrameID]map[modarith.PacketID][]byte),
	}
}

// StorePacket records the exact bytes sent for (frameID, packetID).
// Evicts the oldest retained frame, FIFO, once capacity is exceeded.
func (s *Storage) StorePacket(frameID modarith.FrameID, packetID modarith.PacketID, wireBytes []byte) {
	frame, ok := s.frames[frameID]
	if !ok {
		frame = make(map[modarith.PacketID][]byte)
		s.frames[frameID] = frame
		s.order = append(s.order, frameID)
	}
	cp := make([]byte, len(wireBytes))
	copy(cp, wireBytes)
	frame[packetID] = cp

	for len(s.order) > s.capacity {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.frames, evict)
	}
}

// GetPacket retrieves the bit-exact bytes previously stored for
// (frameID, packetID), if the frame is still retained.
func (s *Storage) GetPacket(frameID modarith.FrameID, packetID modarith.PacketID) ([]byte, bool) {
	frame, ok := s.frames[frameID]
	if !ok {
		return nil, false
	}
	buf, ok := frame[packetID]
	return buf, ok
}

// HasFrame reports whether any packet of frameID is still retained.
func (s *Storage) HasFrame(frameID modarith.FrameID) bool {
	_, ok := s.frames[frameID]
	return ok
}

// PacketIDsForFrame returns every packet_id retained for frameID, used
// to expand the kRtcpCastAllPacketsLost ("whole frame missing")
// sentinel into concrete packets to resend (spec.md §4.6).
func (s *Storage) PacketIDsForFrame(frameID modarith.FrameID) []modarith.PacketID {
	frame, ok := s.frames[frameID]
	if !ok {
		return nil
	}
	out := make([]modarith.PacketID, 0, len(frame))
	for id := range frame {
		out = append(out, id)
	}
	return out
}
