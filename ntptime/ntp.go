// Package ntptime converts between TimeTicks (monotonic local time, as
// produced by a DefaultTickClock) and the 64-bit NTP fixed-point
// format carried in RTCP sender reports, following the conversion the
// teacher's pkg/ntp performs for plain time.Time values.
package ntptime

import (
	"time"
)

// kNtpEpochDeltaSeconds is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01), per spec.md §6.
const kNtpEpochDeltaSeconds int64 = 2_208_988_800

// kMagicFractionalUnit = 2^32 / 10^6, the scale factor used to convert
// between microseconds and the lower 32 bits of the NTP fixed-point
// format (spec.md §3).
const kMagicFractionalUnit = (int64(1) << 32) / 1_000_000

// TimeTicks is a monotonic local timestamp, the unit the framer,
// playout scheduler and message builder all operate in. It is backed
// by time.Time so the zero value behaves predictably and so callers
// can inject a fake clock in tests.
type TimeTicks time.Time

// TickClock produces TimeTicks; DefaultTickClock wraps time.Now.
type TickClock func() TimeTicks

// DefaultTickClock is the production TickClock.
func DefaultTickClock() TimeTicks {
	return TimeTicks(time.Now())
}

// Sub returns the duration between two TimeTicks (t - u).
func (t TimeTicks) Sub(u TimeTicks) time.Duration {
	return time.Time(t).Sub(time.Time(u))
}

// Add returns t+d.
func (t TimeTicks) Add(d time.Duration) TimeTicks {
	return TimeTicks(time.Time(t).Add(d))
}

// Before reports whether t is strictly before u.
func (t TimeTicks) Before(u TimeTicks) bool {
	return time.Time(t).Before(time.Time(u))
}

// After reports whether t is strictly after u.
func (t TimeTicks) After(u TimeTicks) bool {
	return time.Time(t).After(time.Time(u))
}

// IsZero reports whether t is the zero TimeTicks.
func (t TimeTicks) IsZero() bool {
	return time.Time(t).IsZero()
}

// NtpTimestamp is the 64-bit NTP fixed-point format: upper 32 bits are
// whole seconds since 1900-01-01 UTC, lower 32 bits are a fraction of
// a second where 2^32 corresponds to one second.
type NtpTimestamp uint64

// Seconds returns the upper 32 bits.
func (n NtpTimestamp) Seconds() uint32 { return uint32(n >> 32) }

// Fraction returns the lower 32 bits.
func (n NtpTimestamp) Fraction() uint32 { return uint32(n) }

// MiddleBits returns the middle 32 bits (low 16 of seconds, high 16 of
// fraction) used as "last SR"/"last RR" timestamps in RTCP report
// blocks and XR DLRR blocks.
func (n NtpTimestamp) MiddleBits() uint32 {
	return uint32(n >> 16)
}

// ConvertTimeToNtp converts a TimeTicks value to its NTP fixed-point
// representation.
func ConvertTimeToNtp(t TimeTicks) NtpTimestamp {
	tt := time.Time(t)
	unixSecs := tt.Unix()
	ntpSecs := unixSecs + kNtpEpochDeltaSeconds
	micros := int64(tt.Nanosecond()) / 1000
	frac := uint32(micros * kMagicFractionalUnit)
	return NtpTimestamp(uint64(uint32(ntpSecs))<<32 | uint64(frac))
}

// ConvertNtpToTime converts an NTP fixed-point timestamp back to
// TimeTicks. Round-trips ConvertTimeToNtp to microsecond precision.
func ConvertNtpToTime(n NtpTimestamp) TimeTicks {
	ntpSecs := int64(n.Seconds())
	unixSecs := ntpSecs - kNtpEpochDeltaSeconds
	micros := int64(n.Fraction()) / kMagicFractionalUnit
	return TimeTicks(time.Unix(unixSecs, micros*1000).UTC())
}

// WrapState is the result of CheckForWrapAround, which classifies a
// (now, earlier) pair of 32-bit middle-NTP timestamps as normal,
// wrapped around, or backward, serving the RTT engine's need to subtract two 32-bit timestamps that may have
// wrapped across the exchange.
type WrapState int

const (
	// WrapNormal means no wraparound occurred; now >= earlier.
	WrapNormal WrapState = iota
	// WrapAround means the 32-bit counter wrapped between earlier and now.
	WrapAround
	// WrapBackward means now < earlier with no plausible wraparound
	// (clock went backward, or the values are not comparable); callers
	// should treat the delta as zero.
	WrapBackward
)

// CheckForWrapAround classifies the relationship between two 32-bit
// values representing points on the same monotonically increasing
// (with wraparound) 32-bit timeline.
func CheckForWrapAround(now, earlier uint32) WrapState {
	if now >= earlier {
		return WrapNormal
	}
	// if the backward gap is small relative to 2^32, this is a real
	// clock regression, not a wrap; half-range rule as with FrameID.
	if earlier-now > (1 << 31) {
		return WrapAround
	}
	return WrapBackward
}

// DiffWithWrap computes now - earlier over a 32-bit timeline that may
// have wrapped, returning the elapsed ticks as if unwrapped.
func DiffWithWrap(now, earlier uint32) uint32 {
	switch CheckForWrapAround(now, earlier) {
	case WrapNormal:
		return now - earlier
	case WrapAround:
		return (uint32(0xFFFFFFFF) - earlier) + now + 1
	default:
		return 0
	}
}
