package rtpcast

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketizeReassembleRoundTrip(t *testing.T) {
	p := &Packetizer{SSRC: 0x1234, PayloadType: 96, MaxPayloadSize: 16}

	data := bytes.Repeat([]byte{0xAB}, 100)
	packets, err := p.Packetize(FrameToPacketize{
		FrameID:      9,
		IsKeyFrame:   true,
		RTPTimestamp: 1000,
		Data:         data,
	})
	require.NoError(t, err)
	require.Greater(t, len(packets), 1)

	var reassembled []byte
	for i, buf := range packets {
		h, media, err := Parse(buf, StreamParams{SSRC: 0x1234, PayloadType: 96})
		require.NoError(t, err)
		require.EqualValues(t, i, h.PacketID)
		require.EqualValues(t, len(packets)-1, h.MaxPacketID)
		require.Equal(t, i == len(packets)-1, h.Marker)
		reassembled = append(reassembled, media...)
	}
	require.Equal(t, data, reassembled)
}

func TestPacketizeEmptyFrameProducesOnePacket(t *testing.T) {
	p := &Packetizer{SSRC: 1, PayloadType: 96}
	packets, err := p.Packetize(FrameToPacketize{FrameID: 0})
	require.NoError(t, err)
	require.Len(t, packets, 1)
}

func TestPacketizeSequenceNumberIncrements(t *testing.T) {
	p := &Packetizer{SSRC: 1, PayloadType: 96, MaxPayloadSize: 4}
	packets, err := p.Packetize(FrameToPacketize{FrameID: 0, Data: []byte("01234567")})
	require.NoError(t, err)
	require.Len(t, packets, 2)

	h0, _, err := Parse(packets[0], StreamParams{SSRC: 1, PayloadType: 96})
	require.NoError(t, err)
	h1, _, err := Parse(packets[1], StreamParams{SSRC: 1, PayloadType: 96})
	require.NoError(t, err)
	require.Equal(t, h0.SequenceNumber+1, h1.SequenceNumber)
}
