package rtcpcast

import "encoding/binary"

// RPSI is the RFC 4585 PSFB FMT=3 Reference Picture Selection
// Indication: a back-channel hint naming a frame the receiver has
// successfully decoded, which the encoder may use as a reference
// instead of forcing a full key frame (spec.md §4.4).
type RPSI struct {
	SenderSSRC  uint32
	MediaSSRC   uint32
	PayloadType uint8
	PictureID   []byte // native bit string, padded with PaddingBits trailing zero bits
	PaddingBits uint8
}

// MarshalSize implements rtcp.Packet.
func (p *RPSI) MarshalSize() int {
	n := 14 + len(p.PictureID)
	return n + (4-n%4)%4
}

// Marshal implements rtcp.Packet.
func (p *RPSI) Marshal() ([]byte, error) {
	size := p.MarshalSize()
	buf := make([]byte, size)
	writeSubHeaderInto(buf, psfbFMTRPSI, ptPayloadSpecificFB, uint16(size/4-1))
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.MediaSSRC)
	buf[12] = p.PaddingBits
	buf[13] = p.PayloadType
	copy(buf[14:], p.PictureID)
	return buf, nil
}

// Unmarshal implements rtcp.Packet.
func (p *RPSI) Unmarshal(buf []byte) error {
	if len(buf) < 14 {
		return errShortSubPacket
	}
	p.SenderSSRC = binary.BigEndian.Uint32(buf[4:8])
	p.MediaSSRC = binary.BigEndian.Uint32(buf[8:12])
	p.PaddingBits = buf[12]
	p.PayloadType = buf[13]
	p.PictureID = append([]byte(nil), buf[14:]...)
	return nil
}

// DestinationSSRC implements rtcp.Packet.
func (p *RPSI) DestinationSSRC() []uint32 { return []uint32{p.MediaSSRC} }
