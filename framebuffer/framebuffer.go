// Package framebuffer accumulates a single frame's packet payloads
// into its complete encoded bytes (spec.md §3 FrameBuffer).
package framebuffer

import (
	"github.com/bluenviron/castcore/modarith"
)

// Buffer assembles one frame's payload out of order.
type Buffer struct {
	packets             map[modarith.PacketID][]byte
	NumPacketsReceived  int
	TotalDataSize       int
	MaxPacketID         modarith.PacketID
	IsKeyFrame          bool
	LastReferencedFrameID modarith.FrameID
	RTPTimestamp        uint32
}

// New allocates an empty Buffer.
func New() *Buffer {
	return &Buffer{packets: make(map[modarith.PacketID][]byte)}
}

// InsertPacket appends payload bytes for packetID. Inserting the same
// packetID twice is a no-op after the first insert (retransmitted
// duplicates do not double-count).
func (b *Buffer) InsertPacket(packetID, maxPacketID modarith.PacketID, payload []byte, isKeyFrame bool, lastReferencedFrameID modarith.FrameID, rtpTimestamp uint32) {
	if _, dup := b.packets[packetID]; dup {
		return
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.packets[packetID] = cp
	b.NumPacketsReceived++
	b.TotalDataSize += len(cp)
	if modarith.IsNewerPacketID(maxPacketID, b.MaxPacketID) || b.NumPacketsReceived == 1 {
		b.MaxPacketID = maxPacketID
	}
	b.IsKeyFrame = isKeyFrame
	b.LastReferencedFrameID = lastReferencedFrameID
	b.RTPTimestamp = rtpTimestamp
}

// IsComplete reports whether every packet 0..=MaxPacketID has arrived.
func (b *Buffer) IsComplete() bool {
	return b.NumPacketsReceived == int(b.MaxPacketID)+1
}

// Assemble concatenates packet payloads in packet_id order into the
// frame's complete encoded bytes. Only meaningful once IsComplete.
func (b *Buffer) Assemble() []byte {
	out := make([]byte, 0, b.TotalDataSize)
	for i := modarith.PacketID(0); i <= b.MaxPacketID; i++ {
		out = append(out, b.packets[i]...)
	}
	return out
}
