// Package castmessage builds the Cast ACK/NACK feedback message the
// receiver sends back to the sender (spec.md §4.3): it decides what to
// ACK, which missing packets/frames to NACK, and applies the
// slow-down-ACK policy when the decoder lags.
//
// The builder holds no back-reference to an RTCP sender. Instead
// UpdateCastMessage returns a PendingFeedback value; the caller hands
// that to the RTCP codec.
package castmessage

import (
	"time"

	"github.com/bluenviron/castcore/frameidmap"
	"github.com/bluenviron/castcore/modarith"
	"github.com/bluenviron/castcore/ntptime"
)

// kCastMessageUpdateIntervalMs and kNackRepeatIntervalMs per spec.md §6.
const (
	kCastMessageUpdateInterval = 33 * time.Millisecond
	kNackRepeatInterval        = 30 * time.Millisecond
)

// Source is the read-only view onto frame state the builder needs.
// frameidmap.Map satisfies this interface; the builder never stores a
// Source, it is passed in on every call so there is no ownership cycle
// between the framer and the builder.
type Source interface {
	LastReleasedFrame() modarith.FrameID
	NewestFrameID() modarith.FrameID
	Get(modarith.FrameID) (*frameidmap.FrameInfo, bool)
	CompleteFrames() []modarith.FrameID
}

// Message is the logical ACK/NACK message (spec.md §3
// RtcpCastMessage), independent of its RTCP wire encoding.
type Message struct {
	MediaSSRC               uint32
	AckFrameID              modarith.FrameID
	MissingFramesAndPackets map[modarith.FrameID]map[modarith.PacketID]struct{}
}

// PendingFeedback is handed by the caller to the RTCP sender; it
// replaces the C++ original's direct `cast_feedback.CastFeedback(msg)`
// callback with a returned value (spec.md §9 "recast as message
// passing").
type PendingFeedback struct {
	Message         Message
	RequestKeyFrame bool
}

// Config is the builder's fixed configuration (spec.md §4.3/§6).
type Config struct {
	MediaSSRC                     uint32
	DecoderFasterThanMaxFrameRate bool
	MaxUnackedFrames              int
}

// Builder accumulates ACK/NACK state between UpdateCastMessage calls.
type Builder struct {
	cfg Config

	lastAckedFrameID   modarith.FrameID
	waitingForKeyFrame bool
	slowingDownAck     bool
	slowDownCallIndex  uint64

	timeLastNackedMap map[modarith.FrameID]ntptime.TimeTicks
	lastUpdateTime    ntptime.TimeTicks
	lastSentMessage   *Message
	haveSentOnce      bool
}

// New allocates a Builder in its initial (waiting-for-key) state.
func New(cfg Config) *Builder {
	b := &Builder{cfg: cfg}
	b.Reset()
	return b
}

// Reset clears all NACK state and re-enters waiting_for_key_frame,
// which makes the next UpdateCastMessage request a key frame
// (spec.md §4.3 Reset).
func (b *Builder) Reset() {
	b.lastAckedFrameID = modarith.StartFrameID
	b.waitingForKeyFrame = true
	b.slowingDownAck = false
	b.slowDownCallIndex = 0
	b.timeLastNackedMap = make(map[modarith.FrameID]ntptime.TimeTicks)
	b.lastSentMessage = nil
	b.haveSentOnce = false
}

// CompleteFrameReceived is called by the framer the moment a frame
// becomes complete (spec.md §4.3 trigger 1). It updates the slow-down
// policy and advances the ACK: via fast-forward normally, or by at
// most one frame every other call while slowing down.
func (b *Builder) CompleteFrameReceived(frameID modarith.FrameID, isKeyFrame bool, source Source) {
	if isKeyFrame {
		b.waitingForKeyFrame = false
	}

	wasSlowingDown := b.slowingDownAck
	if !b.cfg.DecoderFasterThanMaxFrameRate && b.cfg.MaxUnackedFrames > 0 {
		outstanding := len(source.CompleteFrames())
		switch {
		case outstanding > b.cfg.MaxUnackedFrames:
			b.slowingDownAck = true
		case outstanding < b.cfg.MaxUnackedFrames:
			b.slowingDownAck = false
		}
	}

	if !b.slowingDownAck {
		b.fastForwardAck(source)
		return
	}

	// The call that crosses the threshold restarts the parity counter
	// at zero, so it lands on the "skip" phase itself (matching
	// Chromium's CastMessageBuilder.SlowDownAck: the triggering insert
	// does not move the ACK, and the very next call does). Thereafter
	// the ACK advances by exactly one frame every other call.
	if b.slowingDownAck && !wasSlowingDown {
		b.slowDownCallIndex = 0
	}
	advance := b.slowDownCallIndex%2 != 0
	b.slowDownCallIndex++
	if advance {
		b.advanceAckByOne(source)
	}
}

// fastForwardAck advances last_acked_frame_id to the newest frame such
// that every frame between the previous ACK and it is either complete
// or has been released (spec.md §4.3 step 2).
func (b *Builder) fastForwardAck(source Source) {
	newest := source.NewestFrameID()
	lastReleased := source.LastReleasedFrame()
	for {
		candidate := b.lastAckedFrameID.Add(1)
		if !modarith.IsNewerOrSameFrameID(newest, candidate) {
			break
		}
		released := modarith.IsOlderOrSameFrameID(candidate, lastReleased)
		complete := false
		if fi, ok := source.Get(candidate); ok && fi.IsComplete() {
			complete = true
		}
		if !released && !complete {
			break
		}
		b.lastAckedFrameID = candidate
	}
}

// advanceAckByOne moves last_acked_frame_id forward by a single frame
// if the next candidate is complete or released, without continuing
// on to later frames the way fastForwardAck does. Used by the
// slow-down-ACK policy, which throttles the ACK to one step per
// qualifying call rather than catching all the way up (spec.md §4.3).
func (b *Builder) advanceAckByOne(source Source) {
	newest := source.NewestFrameID()
	candidate := b.lastAckedFrameID.Add(1)
	if !modarith.IsNewerOrSameFrameID(newest, candidate) {
		return
	}
	released := modarith.IsOlderOrSameFrameID(candidate, source.LastReleasedFrame())
	complete := false
	if fi, ok := source.Get(candidate); ok && fi.IsComplete() {
		complete = true
	}
	if released || complete {
		b.lastAckedFrameID = candidate
	}
}

// FrameReleased is called after the framer releases a frame
// out-of-order, so the builder's ACK state stays consistent with the
// consumed frame (spec.md §4.2 ReleaseFrame / §4.3).
func (b *Builder) FrameReleased(frameID modarith.FrameID, source Source) {
	if modarith.IsNewerFrameID(frameID, b.lastAckedFrameID) {
		b.fastForwardAck(source)
	}
	for id := range b.timeLastNackedMap {
		if modarith.IsOlderOrSameFrameID(id, source.LastReleasedFrame()) {
			delete(b.timeLastNackedMap, id)
		}
	}
}

// shouldNack reports whether frameID may be NACKed again: either it
// has never been NACKed, or at least kNackRepeatInterval has elapsed
// since it last was (spec.md §4.3, §8 "at most once per 30ms window").
func (b *Builder) shouldNack(now ntptime.TimeTicks, frameID modarith.FrameID) bool {
	last, ok := b.timeLastNackedMap[frameID]
	if !ok {
		return true
	}
	return now.Sub(last) >= kNackRepeatInterval
}

// buildNackList implements spec.md §4.3 NACK selection.
func (b *Builder) buildNackList(now ntptime.TimeTicks, source Source) map[modarith.FrameID]map[modarith.PacketID]struct{} {
	out := make(map[modarith.FrameID]map[modarith.PacketID]struct{})
	lastReleased := source.LastReleasedFrame()
	newest := source.NewestFrameID()

	if newest == lastReleased {
		return out
	}

	for id := lastReleased.Add(1); ; id = id.Add(1) {
		fi, ok := source.Get(id)
		switch {
		case !ok:
			// Skipped frame: no packet of it was ever received.
			if b.shouldNack(now, id) {
				out[id] = map[modarith.PacketID]struct{}{modarith.AllPacketsLost: {}}
				b.timeLastNackedMap[id] = now
			}
		case fi.IsComplete():
			// nothing to NACK.
		default:
			if b.shouldNack(now, id) {
				missing := make(map[modarith.PacketID]struct{}, len(fi.MissingPackets))
				for pid := range fi.MissingPackets {
					if id == newest && modarith.IsNewerPacketID(pid, fi.MaxReceivedPacketID) {
						continue
					}
					missing[pid] = struct{}{}
				}
				if len(missing) > 0 {
					out[id] = missing
					b.timeLastNackedMap[id] = now
				}
			}
		}

		if id == newest {
			break
		}
	}
	return out
}

// UpdateCastMessage recomputes the ACK/NACK message and decides
// whether it must be emitted now: either it differs from the previous
// message, or kCastMessageUpdateInterval has elapsed since the last
// send (spec.md §4.3 Emission).
func (b *Builder) UpdateCastMessage(now ntptime.TimeTicks, source Source) (PendingFeedback, bool) {
	msg := Message{
		MediaSSRC:               b.cfg.MediaSSRC,
		AckFrameID:              b.lastAckedFrameID,
		MissingFramesAndPackets: b.buildNackList(now, source),
	}

	changed := !b.haveSentOnce || !messagesEqual(msg, *b.lastSentMessage)
	elapsed := !b.haveSentOnce || now.Sub(b.lastUpdateTime) >= kCastMessageUpdateInterval

	feedback := PendingFeedback{Message: msg, RequestKeyFrame: b.waitingForKeyFrame}

	if !changed && !elapsed {
		return feedback, false
	}

	b.lastUpdateTime = now
	b.lastSentMessage = &msg
	b.haveSentOnce = true
	return feedback, true
}

// TimeToSendNextCastMessage tells the scheduler when to wake and call
// UpdateCastMessage again (spec.md §4.3/§4.5).
func (b *Builder) TimeToSendNextCastMessage() ntptime.TimeTicks {
	return b.lastUpdateTime.Add(kCastMessageUpdateInterval)
}

func messagesEqual(a, b Message) bool {
	if a.MediaSSRC != b.MediaSSRC || a.AckFrameID != b.AckFrameID {
		return false
	}
	if len(a.MissingFramesAndPackets) != len(b.MissingFramesAndPackets) {
		return false
	}
	for id, aPkts := range a.MissingFramesAndPackets {
		bPkts, ok := b.MissingFramesAndPackets[id]
		if !ok || len(aPkts) != len(bPkts) {
			return false
		}
		for pid := range aPkts {
			if _, ok := bPkts[pid]; !ok {
				return false
			}
		}
	}
	return true
}
