package rtcpcast

import "encoding/binary"

// RapidResyncRequest is the Cast RTPFB FMT=5 "sender report request":
// an empty feedback packet the receiver sends right after a stream
// reset to ask the sender for a fresh SR so it can re-anchor its
// playout clock (spec.md §4.4/§4.5).
type RapidResyncRequest struct {
	SenderSSRC uint32
	MediaSSRC  uint32
}

// MarshalSize implements rtcp.Packet.
func (p *RapidResyncRequest) MarshalSize() int { return 12 }

// Marshal implements rtcp.Packet.
func (p *RapidResyncRequest) Marshal() ([]byte, error) {
	buf := make([]byte, 12)
	writeSubHeaderInto(buf, rtpfbFMTSenderReportRequest, ptTransportSpecificFB, 2)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.MediaSSRC)
	return buf, nil
}

// Unmarshal implements rtcp.Packet.
func (p *RapidResyncRequest) Unmarshal(buf []byte) error {
	if len(buf) < 12 {
		return errShortSubPacket
	}
	p.SenderSSRC = binary.BigEndian.Uint32(buf[4:8])
	p.MediaSSRC = binary.BigEndian.Uint32(buf[8:12])
	return nil
}

// DestinationSSRC implements rtcp.Packet.
func (p *RapidResyncRequest) DestinationSSRC() []uint32 { return []uint32{p.MediaSSRC} }
