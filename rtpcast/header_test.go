package rtpcast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/castcore/modarith"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	h := Header{
		SequenceNumber:    42,
		Timestamp:         123456,
		SSRC:              0xAABBCCDD,
		Marker:            true,
		PayloadType:       96,
		FrameID:           7,
		PacketID:          2,
		MaxPacketID:       5,
		IsKeyFrame:        true,
		HasReferenceFrame: true,
		ReferenceFrameID:  6,
	}
	payload := []byte("hello cast")

	buf, err := Marshal(h, payload)
	require.NoError(t, err)

	got, media, err := Parse(buf, StreamParams{SSRC: 0xAABBCCDD, PayloadType: 96})
	require.NoError(t, err)
	require.Equal(t, payload, media)
	require.Equal(t, h.FrameID, got.FrameID)
	require.Equal(t, h.PacketID, got.PacketID)
	require.Equal(t, h.MaxPacketID, got.MaxPacketID)
	require.True(t, got.IsKeyFrame)
	require.True(t, got.HasReferenceFrame)
	require.Equal(t, modarith.FrameID(6), got.ReferenceFrameID)
}

func TestHeaderWithoutReferenceBitIsSixBytes(t *testing.T) {
	h := Header{
		SSRC:        1,
		PayloadType: 96,
		FrameID:     3,
		PacketID:    0,
		MaxPacketID: 0,
	}
	buf, err := Marshal(h, []byte("x"))
	require.NoError(t, err)

	got, media, err := Parse(buf, StreamParams{SSRC: 1, PayloadType: 96})
	require.NoError(t, err)
	require.False(t, got.HasReferenceFrame)
	require.Equal(t, []byte("x"), media)
	require.Equal(t, modarith.FrameID(2), got.EffectiveReferenceFrameID())
}

func TestParseRejectsMaxPacketIDBeforePacketID(t *testing.T) {
	h := Header{SSRC: 1, PayloadType: 96, PacketID: 5, MaxPacketID: 2}
	buf, err := Marshal(h, nil)
	require.NoError(t, err)

	_, _, err = Parse(buf, StreamParams{SSRC: 1, PayloadType: 96})
	require.ErrorIs(t, err, ErrMaxPacketIDBeforePacketID)
}

func TestParseRejectsWrongSSRC(t *testing.T) {
	h := Header{SSRC: 1, PayloadType: 96}
	buf, err := Marshal(h, nil)
	require.NoError(t, err)

	_, _, err = Parse(buf, StreamParams{SSRC: 2, PayloadType: 96})
	require.ErrorIs(t, err, ErrWrongSSRC)
}
