// Package castlog defines the event categories recorded in Cast
// sender/receiver RTCP logs (spec.md §4.4's log sub-packets carry
// these as compact per-frame/per-packet event lists).
package castlog

// EventType enumerates the frame- and packet-level lifecycle events
// tracked by the sender and receiver logs, mirroring the categories
// a Cast transport implementation records in practice: capture
// through network delivery on the sender side, reception through
// playout on the receiver side.
type EventType uint8

const (
	EventUnknown EventType = iota

	// Frame events.
	EventFrameCaptureBegin
	EventFrameCaptureEnd
	EventFrameEncoded
	EventFrameAckSent
	EventFrameAckReceived
	EventFramePlayedOut
	EventFrameDecoded

	// Packet events.
	EventPacketSentToNetwork
	EventPacketRetransmitted
	EventPacketReceived
	EventPacketRtxRejected
)

// FrameLogEvent is one frame-scoped entry in a sender or receiver log.
type FrameLogEvent struct {
	Type          EventType
	RelativeMs    uint16 // delay since the reference time carried by the enclosing sub-packet
	Size          uint32 // encoded frame size in bytes; 0 if not applicable
	DelayOrOffset int32  // event-specific: playout delay, encode duration, etc.
}

// PacketLogEvent is one packet-scoped entry, always attached to the
// frame it belongs to.
type PacketLogEvent struct {
	Type       EventType
	PacketID   uint16
	RelativeMs uint16
}

// IsFrameEvent reports whether t belongs in a FrameLogEvent list.
func IsFrameEvent(t EventType) bool {
	switch t {
	case EventFrameCaptureBegin, EventFrameCaptureEnd, EventFrameEncoded,
		EventFrameAckSent, EventFrameAckReceived, EventFramePlayedOut, EventFrameDecoded:
		return true
	default:
		return false
	}
}
