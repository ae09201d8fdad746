package framer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/castcore/modarith"
)

type fakeListener struct {
	completed []modarith.FrameID
	released  []modarith.FrameID
}

func (l *fakeListener) CompleteFrameReceived(frameID modarith.FrameID, isKeyFrame bool) {
	l.completed = append(l.completed, frameID)
}

func (l *fakeListener) FrameReleased(frameID modarith.FrameID) {
	l.released = append(l.released, frameID)
}

func TestDeltaFrameBeforeKeyFrameNotDelivered(t *testing.T) {
	l := &fakeListener{}
	f := New(l)

	accepted, _ := f.InsertPacket(3, false, false, 0, false, 0, 0, 0, nil)
	require.True(t, accepted)

	_, ok := f.GetEncodedAudioFrame()
	require.False(t, ok)

	accepted, completed := f.InsertPacket(5, true, false, 0, false, 0, 0, 0, nil)
	require.True(t, accepted)
	require.True(t, completed)

	frame, ok := f.GetEncodedAudioFrame()
	require.True(t, ok)
	require.EqualValues(t, 5, frame.FrameID)
}

func TestAudioFallsBackToOldestComplete(t *testing.T) {
	l := &fakeListener{}
	f := New(l)
	f.InsertPacket(0, true, false, 0, false, 0, 0, 0, []byte("k"))
	f.ReleaseFrame(0)

	// frame 1 never arrives; frame 2 is complete.
	f.InsertPacket(2, false, true, 0, true, 0, 0, 0, []byte("f2"))

	frame, ok := f.GetEncodedAudioFrame()
	require.True(t, ok)
	require.EqualValues(t, 2, frame.FrameID)
	require.False(t, frame.NextFrame)
}

func TestVideoSkipsOnlyWhenDecodable(t *testing.T) {
	l := &fakeListener{}
	f := New(l)
	f.InsertPacket(0, true, false, 0, false, 0, 0, 0, []byte("key"))
	f.ReleaseFrame(0)

	// frame 2 references frame 1, which never arrived: not decodable.
	f.InsertPacket(2, false, true, 1, true, 0, 0, 0, []byte("f2"))
	_, ok := f.GetEncodedVideoFrame()
	require.False(t, ok)

	// frame 3 references frame 0, which is released: decodable.
	f.InsertPacket(3, false, true, 0, true, 0, 0, 0, []byte("f3"))
	frame, ok := f.GetEncodedVideoFrame()
	require.True(t, ok)
	require.EqualValues(t, 3, frame.FrameID)
}

func TestReleaseNotifiesListenerAndErasesOlder(t *testing.T) {
	l := &fakeListener{}
	f := New(l)
	f.InsertPacket(0, true, false, 0, false, 0, 0, 0, []byte("k"))
	f.InsertPacket(1, false, true, 0, true, 0, 0, 0, []byte("d"))
	f.InsertPacket(3, false, true, 0, true, 0, 0, 0, []byte("d3"))

	f.ReleaseFrame(3)
	require.Equal(t, []modarith.FrameID{3}, l.released)

	_, ok := f.IDs().Get(1)
	require.False(t, ok)
}

func TestResetReentersWaitingForKey(t *testing.T) {
	l := &fakeListener{}
	f := New(l)
	f.InsertPacket(0, true, false, 0, false, 0, 0, 0, []byte("k"))
	f.Reset()
	require.True(t, f.IDs().WaitingForKey())
	_, ok := f.GetEncodedAudioFrame()
	require.False(t, ok)
}
