package castcore

import "time"

// Constants enumerated in spec.md §6, kept as a single block the way
// the teacher keeps its protocol constants grouped.
const (
	MaxAudioFrameWait      = 20 * time.Millisecond
	MinSchedulingDelay     = 1 * time.Millisecond
	CastMessageInterval    = 33 * time.Millisecond
	NackRepeatInterval     = 30 * time.Millisecond
	IPPacketSize           = 1500
	VideoFrequency         = 90000
	RtcpCastAllPacketsLost = 0xFFFF
	StartFrameID           = 255
)
