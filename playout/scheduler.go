package playout

import (
	"time"

	"github.com/bluenviron/castcore/eventloop"
	"github.com/bluenviron/castcore/modarith"
	"github.com/bluenviron/castcore/ntptime"
)

// KMaxAudioFrameWaitMs is the jitter-absorption slack spec.md §6
// defines for audio; video receivers use the same constant by
// default but MaxWait is configurable per Scheduler.
const KMaxAudioFrameWaitMs = 20 * time.Millisecond

// ReleaseFunc is invoked on MAIN when a frame's playout deadline has
// arrived.
type ReleaseFunc func(frameID modarith.FrameID)

// Scheduler defers a completed frame's release until its playout
// deadline if that deadline is far enough away to be worth absorbing
// jitter for (spec.md §4.5 "Frame release"). It posts its deferred
// work through an eventloop.Loop, so every release still happens on
// MAIN in FIFO order with everything else.
type Scheduler struct {
	loop    *eventloop.Loop
	maxWait time.Duration

	pending map[modarith.FrameID]func()
}

// NewScheduler returns a Scheduler posting its deferred releases to
// loop, absorbing up to maxWait of jitter before a deadline forces
// immediate release.
func NewScheduler(loop *eventloop.Loop, maxWait time.Duration) *Scheduler {
	return &Scheduler{loop: loop, maxWait: maxWait, pending: make(map[modarith.FrameID]func())}
}

// Schedule decides whether to release frameID now or defer it,
// following spec.md §4.5: if the time remaining until playoutTime
// exceeds maxWait and the frame is not next-in-sequence, a
// PlayoutTimeout task is posted for playoutTime-maxWait from now;
// otherwise release fires immediately, inline, on the caller's
// goroutine (the caller is expected to already be running on MAIN in
// that case).
func (s *Scheduler) Schedule(frameID modarith.FrameID, isNextInSequence bool, playoutTime, now ntptime.TimeTicks, release ReleaseFunc) {
	untilPlayout := playoutTime.Sub(now)

	if untilPlayout <= s.maxWait || isNextInSequence {
		release(frameID)
		return
	}

	delay := untilPlayout - s.maxWait
	cancel := s.loop.PostDelayed(delay, func() {
		delete(s.pending, frameID)
		release(frameID)
	})
	s.pending[frameID] = cancel
}

// Cancel aborts a previously scheduled, not-yet-fired release for
// frameID (used when the frame is released early via fast-forward, or
// dropped). A no-op if nothing is pending for frameID.
func (s *Scheduler) Cancel(frameID modarith.FrameID) {
	if cancel, ok := s.pending[frameID]; ok {
		cancel()
		delete(s.pending, frameID)
	}
}
