// Package rtcpcast's Encode mirrors spec.md §4.4's fixed compound
// ordering: [SR|RR] [SDES] [BYE] [XR] then the feedback sub-packets
// (PLI/NACK/RPSI/FIR/REMB/CAST) and finally the Cast log sub-packets.
package rtcpcast

import (
	"github.com/pion/rtcp"
)

// Encode concatenates packets in spec.md §4.4's required compound
// order and returns the marshaled datagram. Packets that are already
// in feedback/log position are passed through unordered relative to
// each other, matching the original's "any order within the feedback
// group" allowance.
func Encode(packets []rtcp.Packet) ([]byte, error) {
	ordered := orderCompound(packets)
	var out []byte
	for _, p := range ordered {
		b, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func compoundRank(p rtcp.Packet) int {
	switch p.(type) {
	case *rtcp.SenderReport, *rtcp.ReceiverReport:
		return 0
	case *rtcp.SourceDescription:
		return 1
	case *rtcp.Goodbye:
		return 2
	case *rtcp.ExtendedReport:
		return 3
	case *SenderLog, *ReceiverLog:
		return 5
	default:
		return 4 // PLI, NACK, RPSI, FIR, REMB, CastFeedback, RapidResyncRequest
	}
}

func orderCompound(packets []rtcp.Packet) []rtcp.Packet {
	out := make([]rtcp.Packet, len(packets))
	copy(out, packets)
	// Stable insertion sort by rank: compound datagrams are small
	// (single digits of sub-packets), so this is cheap and keeps
	// packets with equal rank in their relative input order.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && compoundRank(out[j-1]) > compoundRank(out[j]) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
