package rtcpcast

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/castcore/castmessage"
	"github.com/bluenviron/castcore/internal/castlog"
	"github.com/bluenviron/castcore/modarith"
	"github.com/bluenviron/castcore/ntptime"
)

func TestCastFeedbackRoundTrip(t *testing.T) {
	fb := &CastFeedback{
		SenderSSRC: 1,
		MediaSSRC:  2,
		AckFrameID: 10,
		LossFields: []LossField{
			{FrameID: 11, PacketID: 3, Bitmask: 0b0000_0101},
			{FrameID: 12, PacketID: modarith.AllPacketsLost, Bitmask: 0},
		},
	}
	buf, err := fb.Marshal()
	require.NoError(t, err)
	require.Equal(t, fb.MarshalSize(), len(buf))

	var out CastFeedback
	require.NoError(t, out.Unmarshal(buf))
	require.Equal(t, fb.SenderSSRC, out.SenderSSRC)
	require.Equal(t, fb.MediaSSRC, out.MediaSSRC)
	require.Equal(t, fb.AckFrameID, out.AckFrameID)
	require.Equal(t, fb.LossFields, out.LossFields)
}

func TestCastFeedbackCapsLossFields(t *testing.T) {
	msg := castmessage.Message{
		MediaSSRC:               5,
		AckFrameID:              1,
		MissingFramesAndPackets: make(map[modarith.FrameID]map[modarith.PacketID]struct{}),
	}
	for i := 0; i < 200; i++ {
		msg.MissingFramesAndPackets[modarith.FrameID(i%250)] = map[modarith.PacketID]struct{}{
			modarith.PacketID(i): {},
		}
	}
	fb := BuildCastFeedback(99, msg)
	require.LessOrEqual(t, len(fb.LossFields), MaxLossFields)
}

func TestCastFeedbackToMessageGroupsBitmask(t *testing.T) {
	fb := &CastFeedback{
		MediaSSRC:  7,
		AckFrameID: 0,
		LossFields: []LossField{
			{FrameID: 4, PacketID: 10, Bitmask: 0b0000_0001}, // flags 10 and 11 missing
		},
	}
	msg := fb.ToMessage()
	missing := msg.MissingFramesAndPackets[4]
	require.Len(t, missing, 2)
	_, ok10 := missing[10]
	_, ok11 := missing[11]
	require.True(t, ok10)
	require.True(t, ok11)
}

func TestRapidResyncRequestRoundTrip(t *testing.T) {
	req := &RapidResyncRequest{SenderSSRC: 1, MediaSSRC: 2}
	buf, err := req.Marshal()
	require.NoError(t, err)

	var out RapidResyncRequest
	require.NoError(t, out.Unmarshal(buf))
	require.Equal(t, *req, out)
}

func TestRPSIRoundTrip(t *testing.T) {
	p := &RPSI{SenderSSRC: 1, MediaSSRC: 2, PayloadType: 96, PictureID: []byte{0x2a, 0x10}}
	buf, err := p.Marshal()
	require.NoError(t, err)
	require.Zero(t, len(buf)%4)

	var out RPSI
	require.NoError(t, out.Unmarshal(buf))
	require.Equal(t, p.PayloadType, out.PayloadType)
	require.Equal(t, p.PictureID, out.PictureID[:len(p.PictureID)])
}

func TestSenderLogRoundTrip(t *testing.T) {
	log := &SenderLog{
		SSRC:          42,
		ReferenceTime: 123456,
		Entries: []logEntry{
			{FrameID: 5, Type: castlog.EventFrameEncoded, RelativeMs: 12, Payload: 900},
			{FrameID: 6, Type: castlog.EventPacketSentToNetwork, RelativeMs: 14, Payload: 1},
		},
	}
	buf, err := log.Marshal()
	require.NoError(t, err)

	var out SenderLog
	require.NoError(t, out.Unmarshal(buf))
	require.Equal(t, log.SSRC, out.SSRC)
	require.Equal(t, log.Entries, out.Entries)
}

func TestDecodeCompoundMixedPacketTypes(t *testing.T) {
	sr := &rtcp.SenderReport{SSRC: 1}
	fb := &CastFeedback{SenderSSRC: 1, MediaSSRC: 2, AckFrameID: 9}

	srBuf, err := sr.Marshal()
	require.NoError(t, err)
	fbBuf, err := fb.Marshal()
	require.NoError(t, err)

	items, ok := Decode(append(srBuf, fbBuf...))
	require.True(t, ok)
	require.Len(t, items, 2)
	_, isSR := items[0].(*rtcp.SenderReport)
	require.True(t, isSR)
	_, isFB := items[1].(*CastFeedback)
	require.True(t, isFB)
}

func TestDecodeStopsOnMalformedItem(t *testing.T) {
	sr := &rtcp.SenderReport{SSRC: 1}
	srBuf, err := sr.Marshal()
	require.NoError(t, err)

	truncated := append(srBuf, 0x80, ptPayloadSpecificFB, 0xff, 0xff) // claims more bytes than present
	items, ok := Decode(truncated)
	require.False(t, ok)
	require.Len(t, items, 1)
}

func TestEncodeOrdersCompoundPackets(t *testing.T) {
	bye := &rtcp.Goodbye{Sources: []uint32{1}}
	sr := &rtcp.SenderReport{SSRC: 1}
	fb := &CastFeedback{SenderSSRC: 1, MediaSSRC: 1}

	buf, err := Encode([]rtcp.Packet{bye, fb, sr})
	require.NoError(t, err)

	items, ok := Decode(buf)
	require.True(t, ok)
	require.Len(t, items, 3)
	_, isSR := items[0].(*rtcp.SenderReport)
	require.True(t, isSR, "SR must come first in compound order")
	_, isBye := items[1].(*rtcp.Goodbye)
	require.True(t, isBye)
	_, isFB := items[2].(*CastFeedback)
	require.True(t, isFB)
}

func TestRTTEngineComputesRoundTrip(t *testing.T) {
	eng := NewRTTEngine()
	base := time.Now()

	sentAt := ntptime.TimeTicks(base)
	ntp := ntptime.ConvertTimeToNtp(sentAt)
	eng.OnSenderReportSent(1, ntp)

	// The RR arrives back 100ms after the SR was sent and reports a
	// 20ms delay since the receiver got the SR (DLSR).
	arrival := ntptime.TimeTicks(base.Add(100 * time.Millisecond))
	rr := rtcp.ReceptionReport{
		SSRC:             1,
		LastSenderReport: ntp.MiddleBits(),
		Delay:            1311, // ~20ms, Q16.16 seconds
	}
	rtt, ok := eng.OnReceptionReport(rr, arrival)
	require.True(t, ok)
	require.Greater(t, rtt, time.Duration(0))
	require.Equal(t, rtt, eng.Average())
}
