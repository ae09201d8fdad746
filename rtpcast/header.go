// Package rtpcast implements the Cast RTP extension: the 12-byte RFC
// 3550 fixed header (delegated to github.com/pion/rtp) followed by a
// 6- or 7-byte Cast header, and the packetizer that splits an encoded
// frame into Cast RTP packets (spec.md §4.1).
package rtpcast

import (
	"errors"

	"github.com/pion/rtp"

	"github.com/bluenviron/castcore/modarith"
)

// Errors returned by Parse. Per spec.md §7, malformed wire input is
// meant to be dropped silently by the caller; these values let the
// caller distinguish "drop" from a genuine programmer error.
var (
	ErrInvalidVersion            = errors.New("rtpcast: RTP version is not 2")
	ErrTruncatedHeader           = errors.New("rtpcast: packet too short for a Cast header")
	ErrMaxPacketIDBeforePacketID = errors.New("rtpcast: max_packet_id < packet_id")
	ErrWrongSSRC                 = errors.New("rtpcast: SSRC does not match configured stream")
	ErrWrongPayloadType          = errors.New("rtpcast: payload type does not match configured stream")
)

// Header is the Cast extension header plus the subset of the RFC 3550
// fixed header the spec names explicitly (spec.md §3 RtpCastHeader).
type Header struct {
	SequenceNumber modarith.SeqNum
	Timestamp      uint32
	SSRC           uint32
	Marker         bool
	PayloadType    uint8

	FrameID           modarith.FrameID
	PacketID          modarith.PacketID
	MaxPacketID       modarith.PacketID
	IsKeyFrame        bool
	IsReference       bool
	HasReferenceFrame bool
	ReferenceFrameID  modarith.FrameID
}

// EffectiveReferenceFrameID returns the header's reference_frame_id,
// defaulting to frame_id-1 when the R bit is unset (spec.md §3/§4.2
// step 1).
func (h Header) EffectiveReferenceFrameID() modarith.FrameID {
	if h.HasReferenceFrame {
		return h.ReferenceFrameID
	}
	return h.FrameID.Add(-1)
}

// StreamParams validates incoming packets against a configured stream.
type StreamParams struct {
	SSRC        uint32
	PayloadType uint8
}

// Marshal encodes header and payload into a complete Cast RTP packet.
func Marshal(h Header, payload []byte) ([]byte, error) {
	castHdr := make([]byte, 0, 7)
	var b0 byte
	if h.IsKeyFrame {
		b0 |= 1 << 7
	}
	if h.HasReferenceFrame {
		b0 |= 1 << 6
	}
	castHdr = append(castHdr, b0, byte(h.FrameID))
	castHdr = append(castHdr,
		byte(h.PacketID>>8), byte(h.PacketID),
		byte(h.MaxPacketID>>8), byte(h.MaxPacketID),
	)
	if h.HasReferenceFrame {
		castHdr = append(castHdr, byte(h.ReferenceFrameID))
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         h.Marker,
			PayloadType:    h.PayloadType,
			SequenceNumber: uint16(h.SequenceNumber),
			Timestamp:      h.Timestamp,
			SSRC:           h.SSRC,
		},
		Payload: append(castHdr, payload...),
	}
	return pkt.Marshal()
}

// Parse parses a complete Cast RTP packet, splitting it into the
// Header and the remaining media payload. Per spec.md §4.1 the parser
// rejects packets where max_packet_id < packet_id, RTP version != 2,
// or payload type/SSRC don't match the configured stream.
func Parse(buf []byte, params StreamParams) (Header, []byte, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return Header{}, nil, err
	}
	if pkt.Version != 2 {
		return Header{}, nil, ErrInvalidVersion
	}
	if pkt.SSRC != params.SSRC {
		return Header{}, nil, ErrWrongSSRC
	}
	if pkt.PayloadType != params.PayloadType {
		return Header{}, nil, ErrWrongPayloadType
	}
	if len(pkt.Payload) < 6 {
		return Header{}, nil, ErrTruncatedHeader
	}

	b0 := pkt.Payload[0]
	isKey := b0&(1<<7) != 0
	hasRef := b0&(1<<6) != 0
	frameID := modarith.FrameID(pkt.Payload[1])
	packetID := modarith.PacketID(uint16(pkt.Payload[2])<<8 | uint16(pkt.Payload[3]))
	maxPacketID := modarith.PacketID(uint16(pkt.Payload[4])<<8 | uint16(pkt.Payload[5]))

	if maxPacketID < packetID {
		return Header{}, nil, ErrMaxPacketIDBeforePacketID
	}

	headerLen := 6
	var refFrameID modarith.FrameID
	if hasRef {
		if len(pkt.Payload) < 7 {
			return Header{}, nil, ErrTruncatedHeader
		}
		refFrameID = modarith.FrameID(pkt.Payload[6])
		headerLen = 7
	}

	h := Header{
		SequenceNumber:    modarith.SeqNum(pkt.SequenceNumber),
		Timestamp:         pkt.Timestamp,
		SSRC:              pkt.SSRC,
		Marker:            pkt.Marker,
		PayloadType:       pkt.PayloadType,
		FrameID:           frameID,
		PacketID:          packetID,
		MaxPacketID:       maxPacketID,
		IsKeyFrame:        isKey,
		HasReferenceFrame: hasRef,
		ReferenceFrameID:  refFrameID,
		IsReference:       hasRef,
	}
	return h, pkt.Payload[headerLen:], nil
}
