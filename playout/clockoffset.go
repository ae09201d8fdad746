// Package playout computes when a completed frame should be released
// to the application and schedules that release, per spec.md §4.5.
package playout

import (
	"time"

	"github.com/bluenviron/castcore/ntptime"
)

// ClockOffsetEstimator converts a frame's RTP timestamp into the
// local TimeTicks timeline, first anchoring on the first received
// packet and then refining the estimate once a sender report lets it
// convert RTP timestamps to the sender's own TimeTicks.
//
// Until the first usable SR arrives, playout time falls back to the
// "as soon as possible, respecting rtp_diff" formula spec.md §4.5
// gives; afterwards it switches permanently to the offset formula.
type ClockOffsetEstimator struct {
	frequency uint32 // RTP clock rate, e.g. 90000 for video or 48000 for audio

	haveFirstPacket   bool
	firstRTPTimestamp uint32
	timeFirstIncoming ntptime.TimeTicks

	haveOffset bool
	timeOffset time.Duration
}

// NewClockOffsetEstimator returns an estimator for a stream clocked at
// frequency Hz.
func NewClockOffsetEstimator(frequency uint32) *ClockOffsetEstimator {
	return &ClockOffsetEstimator{frequency: frequency}
}

// OnFirstIncomingPacket records the anchor point spec.md §4.5 uses for
// the pre-sync fallback formula. Only the first call per estimator has
// an effect.
func (e *ClockOffsetEstimator) OnFirstIncomingPacket(rtpTimestamp uint32, now ntptime.TimeTicks) {
	if e.haveFirstPacket {
		return
	}
	e.haveFirstPacket = true
	e.firstRTPTimestamp = rtpTimestamp
	e.timeFirstIncoming = now
}

// OnSenderReport refines the estimate once a sender report's RTP/NTP
// pair is available: rtpInSenderTicks is the sender-side TimeTicks
// the SR's RTP timestamp corresponds to (converted by the caller via
// the SR's NTP field and ntptime.ConvertNtpToTime), receivedAt is the
// local arrival time of that same reference point. Once set, the
// offset is never recomputed (spec.md §4.5 "thereafter").
func (e *ClockOffsetEstimator) OnSenderReport(rtpInSenderTicks, receivedAt ntptime.TimeTicks) {
	if e.haveOffset {
		return
	}
	e.haveOffset = true
	e.timeOffset = receivedAt.Sub(rtpInSenderTicks)
}

// HasOffset reports whether the refined (SR-based) estimate is active.
func (e *ClockOffsetEstimator) HasOffset() bool { return e.haveOffset }

// FirstIncomingPacket returns the RTP timestamp and local arrival time
// recorded by OnFirstIncomingPacket, so a caller computing the
// SR-anchored rtp_in_sender_ticks for that same first packet (needed
// to derive time_offset, spec.md §4.5) doesn't have to duplicate the
// bookkeeping.
func (e *ClockOffsetEstimator) FirstIncomingPacket() (rtpTimestamp uint32, at ntptime.TimeTicks, ok bool) {
	return e.firstRTPTimestamp, e.timeFirstIncoming, e.haveFirstPacket
}

// PlayoutTime computes the playout time for a frame with the given
// RTP timestamp, converted via rtpInSenderTicks (meaningful only once
// HasOffset is true) and targetDelay (rtp_max_delay_ms), falling back
// to the pre-sync formula otherwise.
func (e *ClockOffsetEstimator) PlayoutTime(rtpTimestamp uint32, rtpInSenderTicks ntptime.TimeTicks, targetDelay time.Duration, now ntptime.TimeTicks) ntptime.TimeTicks {
	if e.haveOffset {
		return rtpInSenderTicks.Add(e.timeOffset).Add(targetDelay)
	}
	return e.fallbackPlayoutTime(rtpTimestamp, now)
}

// fallbackPlayoutTime implements spec.md §4.5's pre-sync formula:
// playout_time = now + max(rtp_diff_ms - elapsed_since_first_packet, 0).
func (e *ClockOffsetEstimator) fallbackPlayoutTime(rtpTimestamp uint32, now ntptime.TimeTicks) ntptime.TimeTicks {
	if !e.haveFirstPacket || e.frequency == 0 {
		return now
	}
	rtpDiffTicks := int64(rtpTimestamp) - int64(e.firstRTPTimestamp)
	rtpDiff := time.Duration(rtpDiffTicks) * time.Second / time.Duration(e.frequency)
	elapsed := now.Sub(e.timeFirstIncoming)
	slack := rtpDiff - elapsed
	if slack < 0 {
		slack = 0
	}
	return now.Add(slack)
}
