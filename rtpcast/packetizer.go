package rtpcast

import (
	"github.com/bluenviron/castcore/modarith"
)

// kIPPacketSize is the MTU budget assumed for the paced sender
// (spec.md §6 kIpPacketSize).
const kIPPacketSize = 1500

// Packetizer splits encoded frames into Cast RTP packets.
type Packetizer struct {
	SSRC           uint32
	PayloadType    uint8
	MaxPayloadSize int // defaults to kIPPacketSize - typical IP/UDP/RTP overhead, below

	seq modarith.SeqNum
}

// DefaultMaxPayloadSize leaves room for IP+UDP+RTP+Cast headers inside
// a single 1500-byte datagram.
const DefaultMaxPayloadSize = kIPPacketSize - 20 - 8 - 12 - 7

// FrameToPacketize is a single encoder output, already assigned a
// frame id and reference id by the caller (the sender's frame
// sequencer), ready to be split into wire packets.
type FrameToPacketize struct {
	FrameID          modarith.FrameID
	ReferenceFrameID modarith.FrameID
	IsKeyFrame       bool
	IsReference      bool
	RTPTimestamp     uint32
	Data             []byte
}

// Packetize splits f.Data into ceil(len/maxPayload) Cast RTP packets,
// each with an ascending packet_id, max_packet_id = numPackets-1 in
// every packet, and the RTP marker bit set on the last packet
// (spec.md §4.1). The R bit (HasReferenceFrame) is always set, per the
// packetizer's specified behavior of always emitting reference_frame_id.
func (p *Packetizer) Packetize(f FrameToPacketize) ([][]byte, error) {
	maxPayload := p.MaxPayloadSize
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadSize
	}

	numPackets := 1
	if len(f.Data) > 0 {
		numPackets = (len(f.Data) + maxPayload - 1) / maxPayload
	}

	out := make([][]byte, 0, numPackets)
	chunkSize := (len(f.Data) + numPackets - 1) / numPackets
	if chunkSize == 0 {
		chunkSize = 1
	}

	offset := 0
	for i := 0; i < numPackets; i++ {
		end := offset + chunkSize
		if end > len(f.Data) || i == numPackets-1 {
			end = len(f.Data)
		}
		chunk := f.Data[offset:end]

		h := Header{
			SequenceNumber:    p.seq,
			Timestamp:         f.RTPTimestamp,
			SSRC:              p.SSRC,
			Marker:            i == numPackets-1,
			PayloadType:       p.PayloadType,
			FrameID:           f.FrameID,
			PacketID:          modarith.PacketID(i),
			MaxPacketID:       modarith.PacketID(numPackets - 1),
			IsKeyFrame:        f.IsKeyFrame,
			IsReference:       f.IsReference,
			HasReferenceFrame: true,
			ReferenceFrameID:  f.ReferenceFrameID,
		}

		buf, err := Marshal(h, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, buf)

		p.seq++
		offset = end
	}

	return out, nil
}
