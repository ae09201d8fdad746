package rtcpcast

import (
	"time"

	"github.com/pion/rtcp"

	"github.com/bluenviron/castcore/ntptime"
)

// ntpToDuration converts an NTP short-format (Q16.16 seconds) delay
// value, as carried in a ReceptionReport's Delay field, to a Duration.
func ntpToDuration(v uint32) time.Duration {
	secs := v >> 16
	frac := v & 0xffff
	return time.Duration(secs)*time.Second + time.Duration(frac)*time.Second/(1<<16)
}

// RTTEngine tracks round-trip time from the LSR/DLSR fields exchanged
// between sender reports and the reception reports that answer them,
// the same RTT computation RFC 3550 §6.4.1 describes and the teacher's
// pkg/rtcpreceiver performs for its single-report case; this version
// keeps a rolling average across every SSRC being tracked, plus the
// running min/max spec.md §4.4 asks the RTT engine to maintain
// alongside the mean (scenario S7).
//
// The receiver-initiated variant (XR RRTR/DLRR, spec.md §4.4) uses the
// identical wrap-safe subtraction, keyed by the RRTR's own SSRC
// instead of an SR's.
type RTTEngine struct {
	lastSR   map[uint32]ntptime.NtpTimestamp
	lastRRTR map[uint32]ntptime.NtpTimestamp

	last  time.Duration
	avg   time.Duration
	min   time.Duration
	max   time.Duration
	count int
}

// NewRTTEngine returns an empty RTTEngine.
func NewRTTEngine() *RTTEngine {
	return &RTTEngine{
		lastSR:   make(map[uint32]ntptime.NtpTimestamp),
		lastRRTR: make(map[uint32]ntptime.NtpTimestamp),
	}
}

// OnSenderReportSent records an outgoing SR's NTP timestamp, keyed by
// SSRC, so a later ReceptionReport whose LSR equals its middle 32 bits
// can be matched up.
func (e *RTTEngine) OnSenderReportSent(ssrc uint32, ntpTime ntptime.NtpTimestamp) {
	e.lastSR[ssrc] = ntpTime
}

// OnRRTRSent records the NTP timestamp of an outgoing XR-RRTR block,
// keyed by the sending SSRC, so a later XR-DLRR block naming that SSRC
// as LastRR can be matched up (spec.md §4.4 receiver-initiated RTT).
func (e *RTTEngine) OnRRTRSent(ssrc uint32, ntpTime ntptime.NtpTimestamp) {
	e.lastRRTR[ssrc] = ntpTime
}

// OnReceptionReport processes one ReceptionReport block from an
// incoming RR or SR, updating the running RTT stats whenever it
// carries a non-zero LastSenderReport referencing an SR this engine
// sent. now is the local arrival time of the enclosing RTCP packet.
func (e *RTTEngine) OnReceptionReport(rr rtcp.ReceptionReport, now ntptime.TimeTicks) (time.Duration, bool) {
	if rr.LastSenderReport == 0 {
		return 0, false
	}
	sent, ok := e.lastSR[rr.SSRC]
	if !ok || sent.MiddleBits() != rr.LastSenderReport {
		return 0, false
	}
	return e.record(rr.LastSenderReport, rr.Delay, now)
}

// OnDLRR processes one XR-DLRR report block naming an SSRC this engine
// sent an XR-RRTR for (spec.md §4.4's "same formula with DLRR/RRTR for
// the receiver-initiated variant"). now is the local arrival time of
// the enclosing XR packet.
func (e *RTTEngine) OnDLRR(ssrc uint32, lastRR, delaySinceLastRR uint32, now ntptime.TimeTicks) (time.Duration, bool) {
	if lastRR == 0 {
		return 0, false
	}
	sent, ok := e.lastRRTR[ssrc]
	if !ok || sent.MiddleBits() != lastRR {
		return 0, false
	}
	return e.record(lastRR, delaySinceLastRR, now)
}

// record computes the wrap-safe RTT from a (lastReport, delay) pair
// against now and folds it into the running average/min/max, shared by
// both the SR/RR and XR RRTR/DLRR variants.
func (e *RTTEngine) record(lastReport, delay uint32, now ntptime.TimeTicks) (time.Duration, bool) {
	arrivalMiddle := ntptime.ConvertTimeToNtp(now).MiddleBits()
	elapsed := ntptime.DiffWithWrap(arrivalMiddle, lastReport)

	elapsedDur := ntpToDuration(elapsed)
	delayDur := ntpToDuration(delay)
	if elapsedDur < delayDur {
		return 0, false
	}
	rtt := elapsedDur - delayDur

	e.last = rtt
	e.count++
	if e.count == 1 {
		e.avg = rtt
		e.min = rtt
		e.max = rtt
	} else {
		e.avg += (rtt - e.avg) / time.Duration(e.count)
		if rtt < e.min {
			e.min = rtt
		}
		if rtt > e.max {
			e.max = rtt
		}
	}
	return rtt, true
}

// Last returns the most recently computed RTT sample.
func (e *RTTEngine) Last() time.Duration { return e.last }

// Average returns the arithmetic mean of every RTT sample recorded so
// far, or 0 if none has completed yet (spec.md §9: plain mean, not
// windowed/EWMA, preserved for compatibility).
func (e *RTTEngine) Average() time.Duration { return e.avg }

// Min returns the smallest RTT sample recorded so far.
func (e *RTTEngine) Min() time.Duration { return e.min }

// Max returns the largest RTT sample recorded so far.
func (e *RTTEngine) Max() time.Duration { return e.max }
