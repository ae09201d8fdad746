package rtcpcast

import (
	"encoding/binary"

	"github.com/bluenviron/castcore/internal/castlog"
)

// logEntry is the common 8-byte wire shape shared by SenderLog and
// ReceiverLog entries: one event tied to a frame, with a millisecond
// offset from the sub-packet's reference time and one event-specific
// 32-bit payload (packet id for packet events, encoded size or delay
// for frame events).
type logEntry struct {
	FrameID    uint8
	Type       castlog.EventType
	RelativeMs uint16
	Payload    uint32
}

func marshalLogEntries(buf []byte, entries []logEntry) {
	for i, e := range entries {
		off := i * 8
		buf[off] = e.FrameID
		buf[off+1] = uint8(e.Type)
		binary.BigEndian.PutUint16(buf[off+2:off+4], e.RelativeMs)
		binary.BigEndian.PutUint32(buf[off+4:off+8], e.Payload)
	}
}

func unmarshalLogEntries(buf []byte) []logEntry {
	n := len(buf) / 8
	out := make([]logEntry, n)
	for i := 0; i < n; i++ {
		off := i * 8
		out[i] = logEntry{
			FrameID:    buf[off],
			Type:       castlog.EventType(buf[off+1]),
			RelativeMs: binary.BigEndian.Uint16(buf[off+2 : off+4]),
			Payload:    binary.BigEndian.Uint32(buf[off+4 : off+8]),
		}
	}
	return out
}

// SenderLog is the Cast "SLOG" APP packet: a batch of send-side frame
// and packet events (spec.md §4.4), used by the receiver to derive
// sender-side timing for diagnostics.
type SenderLog struct {
	SSRC          uint32
	ReferenceTime uint32 // NTP middle-32-bits at the time this log was built
	Entries       []logEntry
}

// MarshalSize implements rtcp.Packet.
func (p *SenderLog) MarshalSize() int { return 16 + len(p.Entries)*8 }

// Marshal implements rtcp.Packet.
func (p *SenderLog) Marshal() ([]byte, error) {
	size := p.MarshalSize()
	buf := make([]byte, size)
	writeSubHeaderInto(buf, 0, ptApplicationDefined, uint16(size/4-1))
	binary.BigEndian.PutUint32(buf[4:8], p.SSRC)
	copy(buf[8:12], appDefinedNameSenderLog)
	binary.BigEndian.PutUint32(buf[12:16], p.ReferenceTime)
	marshalLogEntries(buf[16:], p.Entries)
	return buf, nil
}

// Unmarshal implements rtcp.Packet.
func (p *SenderLog) Unmarshal(buf []byte) error {
	if len(buf) < 16 {
		return errShortSubPacket
	}
	if string(buf[8:12]) != appDefinedNameSenderLog {
		return errWrongMagic
	}
	p.SSRC = binary.BigEndian.Uint32(buf[4:8])
	p.ReferenceTime = binary.BigEndian.Uint32(buf[12:16])
	p.Entries = unmarshalLogEntries(buf[16:])
	return nil
}

// DestinationSSRC implements rtcp.Packet.
func (p *SenderLog) DestinationSSRC() []uint32 { return []uint32{p.SSRC} }

// ReceiverLog is the Cast "RLOG" APP packet: the receive-side
// counterpart of SenderLog, batching ack/decode/playout events.
type ReceiverLog struct {
	SSRC          uint32
	ReferenceTime uint32
	Entries       []logEntry
}

// MarshalSize implements rtcp.Packet.
func (p *ReceiverLog) MarshalSize() int { return 16 + len(p.Entries)*8 }

// Marshal implements rtcp.Packet.
func (p *ReceiverLog) Marshal() ([]byte, error) {
	size := p.MarshalSize()
	buf := make([]byte, size)
	writeSubHeaderInto(buf, 0, ptApplicationDefined, uint16(size/4-1))
	binary.BigEndian.PutUint32(buf[4:8], p.SSRC)
	copy(buf[8:12], appDefinedNameReceiverLog)
	binary.BigEndian.PutUint32(buf[12:16], p.ReferenceTime)
	marshalLogEntries(buf[16:], p.Entries)
	return buf, nil
}

// Unmarshal implements rtcp.Packet.
func (p *ReceiverLog) Unmarshal(buf []byte) error {
	if len(buf) < 16 {
		return errShortSubPacket
	}
	if string(buf[8:12]) != appDefinedNameReceiverLog {
		return errWrongMagic
	}
	p.SSRC = binary.BigEndian.Uint32(buf[4:8])
	p.ReferenceTime = binary.BigEndian.Uint32(buf[12:16])
	p.Entries = unmarshalLogEntries(buf[16:])
	return nil
}

// DestinationSSRC implements rtcp.Packet.
func (p *ReceiverLog) DestinationSSRC() []uint32 { return []uint32{p.SSRC} }
