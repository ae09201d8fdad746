// Package rtcpcast implements the bit-exact compound RTCP codec
// spec.md §4.4 describes: standard RFC 3550/3611/4585/5104 sub-packets
// (delegated to github.com/pion/rtcp, which already implements these
// bit-exact, including the XR blocks of the RTT exchange) composed with
// the two Cast-specific application-defined payloads (ACK+NACK
// feedback, sender/receiver event logs), which pion/rtcp does not know
// how to decode.
package rtcpcast

import (
	"encoding/binary"
	"errors"

	"github.com/pion/rtcp"
)

// Errors returned while parsing a single sub-packet. Per spec.md §7, a
// malformed item sets valid_packet_ = false and stops iteration
// immediately; Decode surfaces that by returning the items decoded so
// far together with ok=false.
var (
	errShortSubPacket = errors.New("rtcpcast: sub-packet shorter than its declared length")
	errWrongMagic     = errors.New("rtcpcast: APP/PSFB name field did not match the expected magic")
)

// RTCP packet types and feedback-message-type values dispatched by
// Decode, per spec.md §6's exact table.
const (
	ptSenderReport        = 200
	ptReceiverReport      = 201
	ptSourceDescription   = 202
	ptGoodbye             = 203
	ptApplicationDefined  = 204
	ptTransportSpecificFB = 205
	ptPayloadSpecificFB   = 206
	ptExtendedReport      = 207

	rtpfbFMTGenericNack         = 1
	rtpfbFMTSenderReportRequest = 5

	psfbFMTPictureLossIndication = 1
	psfbFMTRPSI                  = 3
	psfbFMTFIR                   = 4
	psfbFMTApplication           = 15
)

const (
	appNameREMB = "REMB"
	appNameCast = "CAST"

	appDefinedNameSenderLog   = "SLOG"
	appDefinedNameReceiverLog = "RLOG"
)

// subHeader is the 4-byte RFC 3550 common header shared by every
// sub-packet in a compound RTCP datagram.
type subHeader struct {
	Padding bool
	Count   uint8 // item count, or FMT for feedback packets
	Type    uint8
	Length  uint16 // length in 32-bit words, minus one, including this header
}

func parseSubHeader(buf []byte) (subHeader, error) {
	if len(buf) < 4 {
		return subHeader{}, errShortSubPacket
	}
	return subHeader{
		Padding: buf[0]&0x20 != 0,
		Count:   buf[0] & 0x1f,
		Type:    buf[1],
		Length:  binary.BigEndian.Uint16(buf[2:4]),
	}, nil
}

func (h subHeader) totalBytes() int {
	return (int(h.Length) + 1) * 4
}

func writeSubHeaderInto(buf []byte, count uint8, pt uint8, length uint16) {
	buf[0] = 0x80 | (count & 0x1f)
	buf[1] = pt
	binary.BigEndian.PutUint16(buf[2:4], length)
}

// Decode splits a compound RTCP datagram into its sub-packets,
// dispatching each one by (Type, Count/FMT) and, for the APP/PSFB-APP
// cases, its 4-byte name field, to either a pion/rtcp type or a local
// Cast type. ok is false the moment a malformed item is found; items
// already decoded are still returned, matching spec.md §4.4's "no
// further items are delivered" rule.
func Decode(buf []byte) (items []rtcp.Packet, ok bool) {
	for len(buf) >= 4 {
		h, err := parseSubHeader(buf)
		if err != nil {
			return items, false
		}
		total := h.totalBytes()
		if total > len(buf) {
			return items, false
		}
		sub := buf[:total]
		buf = buf[total:]

		pkt, derr := decodeSubPacket(h, sub)
		if derr != nil {
			return items, false
		}
		if pkt != nil {
			items = append(items, pkt)
		}
	}
	return items, true
}

func decodeSubPacket(h subHeader, sub []byte) (rtcp.Packet, error) {
	switch h.Type {
	case ptSenderReport:
		p := &rtcp.SenderReport{}
		return p, p.Unmarshal(sub)
	case ptReceiverReport:
		p := &rtcp.ReceiverReport{}
		return p, p.Unmarshal(sub)
	case ptSourceDescription:
		p := &rtcp.SourceDescription{}
		return p, p.Unmarshal(sub)
	case ptGoodbye:
		p := &rtcp.Goodbye{}
		return p, p.Unmarshal(sub)
	case ptExtendedReport:
		p := &rtcp.ExtendedReport{}
		return p, p.Unmarshal(sub)
	case ptApplicationDefined:
		return decodeAppDefined(sub)
	case ptTransportSpecificFB:
		switch h.Count {
		case rtpfbFMTGenericNack:
			p := &rtcp.TransportLayerNack{}
			return p, p.Unmarshal(sub)
		case rtpfbFMTSenderReportRequest:
			p := &RapidResyncRequest{}
			return p, p.Unmarshal(sub)
		}
		return nil, nil
	case ptPayloadSpecificFB:
		switch h.Count {
		case psfbFMTPictureLossIndication:
			p := &rtcp.PictureLossIndication{}
			return p, p.Unmarshal(sub)
		case psfbFMTRPSI:
			p := &RPSI{}
			return p, p.Unmarshal(sub)
		case psfbFMTFIR:
			p := &rtcp.FullIntraRequest{}
			return p, p.Unmarshal(sub)
		case psfbFMTApplication:
			return decodePayloadSpecificApp(sub)
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func decodePayloadSpecificApp(sub []byte) (rtcp.Packet, error) {
	if len(sub) < 16 {
		return nil, errShortSubPacket
	}
	switch string(sub[12:16]) {
	case appNameCast:
		p := &CastFeedback{}
		return p, p.Unmarshal(sub)
	case appNameREMB:
		p := &rtcp.ReceiverEstimatedMaximumBitrate{}
		return p, p.Unmarshal(sub)
	default:
		return nil, nil
	}
}

func decodeAppDefined(sub []byte) (rtcp.Packet, error) {
	if len(sub) < 12 {
		return nil, errShortSubPacket
	}
	switch string(sub[8:12]) {
	case appDefinedNameSenderLog:
		p := &SenderLog{}
		return p, p.Unmarshal(sub)
	case appDefinedNameReceiverLog:
		p := &ReceiverLog{}
		return p, p.Unmarshal(sub)
	default:
		return nil, nil
	}
}
