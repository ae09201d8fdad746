package castmessage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/castcore/frameidmap"
	"github.com/bluenviron/castcore/modarith"
	"github.com/bluenviron/castcore/ntptime"
)

func tick(base time.Time, d time.Duration) ntptime.TimeTicks {
	return ntptime.TimeTicks(base.Add(d))
}

// S1 — Start must be a key frame.
func TestS1StartMustBeKeyFrame(t *testing.T) {
	ids := frameidmap.NewMap()
	b := New(Config{MediaSSRC: 1})
	base := time.Now()

	res := ids.InsertPacket(3, false, false, 0, false, 0, 0)
	require.True(t, res.Accepted)

	res = ids.InsertPacket(5, true, false, 0, false, 0, 0)
	require.True(t, res.Accepted)
	b.CompleteFrameReceived(5, true, ids)

	ids.Release(5)
	b.FrameReleased(5, ids)

	fb, emit := b.UpdateCastMessage(tick(base, 0), ids)
	require.True(t, emit)
	require.EqualValues(t, 5, fb.Message.AckFrameID)
	require.Empty(t, fb.Message.MissingFramesAndPackets)
}

// S2 — single-frame NACK list.
func TestS2SingleFrameNackList(t *testing.T) {
	ids := frameidmap.NewMap()
	b := New(Config{MediaSSRC: 1})
	base := time.Now()

	ids.InsertPacket(0, true, false, 0, false, 4, 10)
	b.CompleteFrameReceived(0, true, ids)

	ids.InsertPacket(0, true, false, 0, false, 5, 10)

	fb, _ := b.UpdateCastMessage(tick(base, 40*time.Millisecond), ids)
	require.EqualValues(t, modarith.StartFrameID, fb.Message.AckFrameID)

	missing, ok := fb.Message.MissingFramesAndPackets[0]
	require.True(t, ok)
	require.Len(t, missing, 4)
	for _, pid := range []modarith.PacketID{0, 1, 2, 3} {
		_, present := missing[pid]
		require.True(t, present, "packet %d should be missing", pid)
	}
}

// S3 — whole-frame loss.
func TestS3WholeFrameLoss(t *testing.T) {
	ids := frameidmap.NewMap()
	b := New(Config{MediaSSRC: 1})
	base := time.Now()

	ids.InsertPacket(0, true, false, 0, false, 0, 0)
	b.CompleteFrameReceived(0, true, ids)

	ids.InsertPacket(2, false, true, 1, true, 0, 0)
	b.CompleteFrameReceived(2, false, ids)

	fb, _ := b.UpdateCastMessage(tick(base, 40*time.Millisecond), ids)
	missing, ok := fb.Message.MissingFramesAndPackets[1]
	require.True(t, ok)
	_, lost := missing[modarith.AllPacketsLost]
	require.True(t, lost)
	require.Len(t, missing, 1)
}

// S6 — slow-down ACK. Canonical progression from Chromium's
// CastMessageBuilder.SlowDownAck unittest: inserting frames 0..2
// (none released) acks 0,1,2 one-for-one; MaxUnackedFrames(3) is
// crossed on inserting frame 3, which is itself skipped, and frames
// 4..9 then ack by exactly one every other insert, so across frames
// 3..9 the ack reads {2,3,3,4,4,5,5}.
// Releasing frame 9 drops outstanding back below the threshold and
// the very next insert resumes one-per-frame acking.
func TestS6SlowDownAck(t *testing.T) {
	ids := frameidmap.NewMap()
	b := New(Config{MediaSSRC: 1, DecoderFasterThanMaxFrameRate: false, MaxUnackedFrames: 3})

	ids.InsertPacket(0, true, false, 0, false, 0, 0)
	b.CompleteFrameReceived(0, true, ids)
	require.EqualValues(t, 0, b.lastAckedFrameID)

	ids.InsertPacket(1, false, true, 0, true, 0, 0)
	b.CompleteFrameReceived(1, false, ids)
	require.EqualValues(t, 1, b.lastAckedFrameID)

	ids.InsertPacket(2, false, true, 1, true, 0, 0)
	b.CompleteFrameReceived(2, false, ids)
	require.EqualValues(t, 2, b.lastAckedFrameID)
	require.False(t, b.slowingDownAck)

	// frame 3: outstanding (0,1,2,3 all complete, none released) rises
	// to 4, crossing MaxUnackedFrames(3); this insert enters slow-down
	// and is itself skipped, so the ack stays at 2.
	ids.InsertPacket(3, false, true, 2, true, 0, 0)
	b.CompleteFrameReceived(3, false, ids)
	require.True(t, b.slowingDownAck)
	require.EqualValues(t, 2, b.lastAckedFrameID)

	ids.InsertPacket(4, false, true, 3, true, 0, 0)
	b.CompleteFrameReceived(4, false, ids)
	require.EqualValues(t, 3, b.lastAckedFrameID)

	ids.InsertPacket(5, false, true, 4, true, 0, 0)
	b.CompleteFrameReceived(5, false, ids)
	require.EqualValues(t, 3, b.lastAckedFrameID)

	ids.InsertPacket(6, false, true, 5, true, 0, 0)
	b.CompleteFrameReceived(6, false, ids)
	require.EqualValues(t, 4, b.lastAckedFrameID)

	ids.InsertPacket(7, false, true, 6, true, 0, 0)
	b.CompleteFrameReceived(7, false, ids)
	require.EqualValues(t, 4, b.lastAckedFrameID)

	ids.InsertPacket(8, false, true, 7, true, 0, 0)
	b.CompleteFrameReceived(8, false, ids)
	require.EqualValues(t, 5, b.lastAckedFrameID)

	ids.InsertPacket(9, false, true, 8, true, 0, 0)
	b.CompleteFrameReceived(9, false, ids)
	require.EqualValues(t, 5, b.lastAckedFrameID)

	// Release frame 9: outstanding drops back below the threshold, so
	// the next insert immediately resumes one-per-frame acking and
	// jumps straight to the newly completed frame.
	ids.Release(9)
	b.FrameReleased(9, ids)

	ids.InsertPacket(10, false, true, 9, true, 0, 0)
	b.CompleteFrameReceived(10, false, ids)
	require.False(t, b.slowingDownAck)
	require.EqualValues(t, 10, b.lastAckedFrameID)
}

func TestResetRequestsKeyFrame(t *testing.T) {
	ids := frameidmap.NewMap()
	b := New(Config{MediaSSRC: 1})
	ids.InsertPacket(0, true, false, 0, false, 0, 0)
	b.CompleteFrameReceived(0, true, ids)
	require.False(t, b.waitingForKeyFrame)

	b.Reset()
	require.True(t, b.waitingForKeyFrame)

	fb, emit := b.UpdateCastMessage(ntptime.TimeTicks(time.Now()), ids)
	require.True(t, emit)
	require.True(t, fb.RequestKeyFrame)
}

func TestNackRateLimitedWithinWindow(t *testing.T) {
	ids := frameidmap.NewMap()
	b := New(Config{MediaSSRC: 1})
	base := time.Now()

	ids.InsertPacket(0, true, false, 0, false, 0, 5)
	b.CompleteFrameReceived(0, true, ids)
	ids.InsertPacket(1, false, true, 0, true, 3, 3)
	b.CompleteFrameReceived(1, false, ids)

	fb1, _ := b.UpdateCastMessage(tick(base, 0), ids)
	require.Contains(t, fb1.Message.MissingFramesAndPackets, modarith.FrameID(1))

	// within the 30ms window: should not re-nack frame 1.
	fb2, _ := b.UpdateCastMessage(tick(base, 10*time.Millisecond), ids)
	require.NotContains(t, fb2.Message.MissingFramesAndPackets, modarith.FrameID(1))

	// after the window: nack again.
	fb3, _ := b.UpdateCastMessage(tick(base, 40*time.Millisecond), ids)
	require.Contains(t, fb3.Message.MissingFramesAndPackets, modarith.FrameID(1))
}
