package modarith

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsNewerFrameID(t *testing.T) {
	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			diff := uint8(uint8(a) - uint8(b))
			expect := diff >= 1 && diff <= 127
			require.Equal(t, expect, IsNewerFrameID(FrameID(a), FrameID(b)), "a=%d b=%d", a, b)
		}
	}
}

func TestIsOlderFrameID(t *testing.T) {
	require.True(t, IsOlderFrameID(3, 5))
	require.False(t, IsOlderFrameID(5, 3))
	require.False(t, IsOlderFrameID(5, 5))
}

func TestWrapAroundStartSentinel(t *testing.T) {
	// the first real frame id (0) must be newer than the sentinel 255.
	require.True(t, IsNewerFrameID(0, StartFrameID))
}

func TestAddWraps(t *testing.T) {
	require.Equal(t, FrameID(0), FrameID(255).Add(1))
	require.Equal(t, FrameID(255), FrameID(0).Add(-1))
}

func TestMaxFrameID(t *testing.T) {
	require.Equal(t, FrameID(5), MaxFrameID(3, 5))
	require.Equal(t, FrameID(5), MaxFrameID(5, 3))
	require.Equal(t, FrameID(1), MaxFrameID(1, 1))
	// wrap: 2 is newer than 254
	require.Equal(t, FrameID(2), MaxFrameID(254, 2))
}

func TestIsNewerSeqNum(t *testing.T) {
	require.True(t, IsNewerSeqNum(1, 0))
	require.True(t, IsNewerSeqNum(0, 65535))
	require.False(t, IsNewerSeqNum(0, 0))
}
