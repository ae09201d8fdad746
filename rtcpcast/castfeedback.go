package rtcpcast

import (
	"encoding/binary"
	"sort"

	"github.com/bluenviron/castcore/castmessage"
	"github.com/bluenviron/castcore/modarith"
)

// MaxLossFields is the cap on loss fields per Cast feedback message
// (spec.md §4.4); excess is deferred to the next message.
const MaxLossFields = 100

// LossField is one {frame_id, packet_id, bitmask} entry of a Cast
// ACK+NACK message. A LossField with PacketID == modarith.AllPacketsLost
// and Bitmask == 0 means the whole frame is missing.
type LossField struct {
	FrameID  modarith.FrameID
	PacketID modarith.PacketID
	Bitmask  uint8
}

// CastFeedback is the Cast-specific ACK+NACK payload: PT=206, FMT=15,
// with a 4-byte "CAST" magic following a standard REMB-like envelope
// (spec.md §4.4).
type CastFeedback struct {
	SenderSSRC uint32
	MediaSSRC  uint32
	AckFrameID modarith.FrameID
	LossFields []LossField
}

func (p *CastFeedback) wireLen() int {
	n := len(p.LossFields)
	if n > MaxLossFields {
		n = MaxLossFields
	}
	return 20 + n*4
}

// MarshalSize implements rtcp.Packet.
func (p *CastFeedback) MarshalSize() int { return p.wireLen() }

// Marshal implements rtcp.Packet.
func (p *CastFeedback) Marshal() ([]byte, error) {
	n := len(p.LossFields)
	if n > MaxLossFields {
		n = MaxLossFields
	}
	buf := make([]byte, 20+n*4)
	writeSubHeaderInto(buf, psfbFMTApplication, ptPayloadSpecificFB, uint16(len(buf)/4-1))
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.MediaSSRC)
	copy(buf[12:16], appNameCast)
	buf[16] = byte(p.AckFrameID)
	buf[17] = byte(n)
	// buf[18:20] reserved, left zero.
	off := 20
	for i := 0; i < n; i++ {
		lf := p.LossFields[i]
		buf[off] = byte(lf.FrameID)
		binary.BigEndian.PutUint16(buf[off+1:off+3], uint16(lf.PacketID))
		buf[off+3] = lf.Bitmask
		off += 4
	}
	return buf, nil
}

// Unmarshal implements rtcp.Packet.
func (p *CastFeedback) Unmarshal(buf []byte) error {
	if len(buf) < 20 {
		return errShortSubPacket
	}
	if string(buf[12:16]) != appNameCast {
		return errWrongMagic
	}
	p.SenderSSRC = binary.BigEndian.Uint32(buf[4:8])
	p.MediaSSRC = binary.BigEndian.Uint32(buf[8:12])
	p.AckFrameID = modarith.FrameID(buf[16])
	n := int(buf[17])
	p.LossFields = make([]LossField, 0, n)
	off := 20
	for i := 0; i < n; i++ {
		if off+4 > len(buf) {
			return errShortSubPacket
		}
		p.LossFields = append(p.LossFields, LossField{
			FrameID:  modarith.FrameID(buf[off]),
			PacketID: modarith.PacketID(binary.BigEndian.Uint16(buf[off+1 : off+3])),
			Bitmask:  buf[off+3],
		})
		off += 4
	}
	return nil
}

// DestinationSSRC implements rtcp.Packet.
func (p *CastFeedback) DestinationSSRC() []uint32 { return []uint32{p.MediaSSRC} }

// groupIntoBitmaskFields packs a sorted set of packet ids into
// {base, bitmask} pairs where bit i (1..8) of the bitmask flags
// base+i as also missing, the scheme spec.md §4.4 describes for both
// the Cast loss-field list and generic NACK.
func groupIntoBitmaskFields(ids []modarith.PacketID) []LossField {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []LossField
	i := 0
	for i < len(ids) {
		base := ids[i]
		var mask uint8
		i++
		for i < len(ids) && ids[i] > base && ids[i]-base <= 8 {
			mask |= 1 << uint(ids[i]-base-1)
			i++
		}
		out = append(out, LossField{PacketID: base, Bitmask: mask})
	}
	return out
}

// BuildCastFeedback converts a logical castmessage.Message into its
// wire encoding, capping at MaxLossFields entries (excess frames are
// simply omitted; the builder will re-offer them on a later cycle
// since they remain in its NACK rotation).
func BuildCastFeedback(senderSSRC uint32, msg castmessage.Message) *CastFeedback {
	fb := &CastFeedback{
		SenderSSRC: senderSSRC,
		MediaSSRC:  msg.MediaSSRC,
		AckFrameID: msg.AckFrameID,
	}

	frames := make([]modarith.FrameID, 0, len(msg.MissingFramesAndPackets))
	for id := range msg.MissingFramesAndPackets {
		frames = append(frames, id)
	}
	sort.Slice(frames, func(i, j int) bool {
		return modarith.IsOlderFrameID(frames[i], frames[j])
	})

	for _, frameID := range frames {
		pktSet := msg.MissingFramesAndPackets[frameID]
		if _, wholeFrame := pktSet[modarith.AllPacketsLost]; wholeFrame && len(pktSet) == 1 {
			fb.LossFields = append(fb.LossFields, LossField{FrameID: frameID, PacketID: modarith.AllPacketsLost, Bitmask: 0})
			if len(fb.LossFields) >= MaxLossFields {
				return fb
			}
			continue
		}
		ids := make([]modarith.PacketID, 0, len(pktSet))
		for pid := range pktSet {
			ids = append(ids, pid)
		}
		for _, lf := range groupIntoBitmaskFields(ids) {
			lf.FrameID = frameID
			fb.LossFields = append(fb.LossFields, lf)
			if len(fb.LossFields) >= MaxLossFields {
				return fb
			}
		}
	}
	return fb
}

// ToMessage converts the wire encoding back into the logical Message
// (used on the sender side, which only consumes feedback).
func (p *CastFeedback) ToMessage() castmessage.Message {
	msg := castmessage.Message{
		MediaSSRC:               p.MediaSSRC,
		AckFrameID:              p.AckFrameID,
		MissingFramesAndPackets: make(map[modarith.FrameID]map[modarith.PacketID]struct{}),
	}
	for _, lf := range p.LossFields {
		set, ok := msg.MissingFramesAndPackets[lf.FrameID]
		if !ok {
			set = make(map[modarith.PacketID]struct{})
			msg.MissingFramesAndPackets[lf.FrameID] = set
		}
		if lf.PacketID == modarith.AllPacketsLost && lf.Bitmask == 0 {
			set[modarith.AllPacketsLost] = struct{}{}
			continue
		}
		set[lf.PacketID] = struct{}{}
		for i := uint(1); i <= 8; i++ {
			if lf.Bitmask&(1<<(i-1)) != 0 {
				set[lf.PacketID+modarith.PacketID(i)] = struct{}{}
			}
		}
	}
	return msg
}
