// Package frameidmap implements the receiver-side per-frame
// packet-arrival tracking described in spec.md §3/§4.2: an ordered map
// from frame id to FrameInfo, plus the waiting-for-key-frame and
// newest-frame-id bookkeeping the framer and Cast message builder both
// depend on.
package frameidmap

import (
	"github.com/bluenviron/castcore/modarith"
)

// FrameInfo tracks packet arrival for one pending frame. Invariant:
// MissingPackets shrinks monotonically; the frame is complete iff it
// is empty (spec.md §3).
type FrameInfo struct {
	IsKeyFrame          bool
	FrameID             modarith.FrameID
	ReferencedFrameID   modarith.FrameID
	MaxReceivedPacketID modarith.PacketID
	MissingPackets      map[modarith.PacketID]struct{}
}

// NewFrameInfo creates a FrameInfo for a frame whose first packet has
// just arrived. maxPacketID is that packet's declared max_packet_id;
// MissingPackets is initialized to {0..=max_packet_id} (spec.md §3)
// minus the packet that just arrived.
func NewFrameInfo(
	frameID modarith.FrameID,
	isKeyFrame bool,
	referencedFrameID modarith.FrameID,
	maxPacketID modarith.PacketID,
	firstPacketID modarith.PacketID,
) *FrameInfo {
	fi := &FrameInfo{
		IsKeyFrame:          isKeyFrame,
		FrameID:             frameID,
		ReferencedFrameID:   referencedFrameID,
		MaxReceivedPacketID: firstPacketID,
		MissingPackets:      make(map[modarith.PacketID]struct{}, int(maxPacketID)+1),
	}
	for i := modarith.PacketID(0); i <= maxPacketID; i++ {
		if i != firstPacketID {
			fi.MissingPackets[i] = struct{}{}
		}
	}
	return fi
}

// InsertPacket records arrival of packetID, shrinking MissingPackets.
// Returns true iff the frame became complete as a result.
func (fi *FrameInfo) InsertPacket(packetID modarith.PacketID) (completed bool) {
	delete(fi.MissingPackets, packetID)
	if modarith.IsNewerPacketID(packetID, fi.MaxReceivedPacketID) {
		fi.MaxReceivedPacketID = packetID
	}
	return len(fi.MissingPackets) == 0
}

// IsComplete reports whether every packet of the frame has arrived.
func (fi *FrameInfo) IsComplete() bool {
	return len(fi.MissingPackets) == 0
}
