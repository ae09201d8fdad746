package castcore

import (
	"fmt"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/bluenviron/castcore/castmessage"
	"github.com/bluenviron/castcore/eventloop"
	"github.com/bluenviron/castcore/internal/castcrypto"
	"github.com/bluenviron/castcore/modarith"
	"github.com/bluenviron/castcore/ntptime"
	"github.com/bluenviron/castcore/packetstorage"
	"github.com/bluenviron/castcore/rtcpcast"
	"github.com/bluenviron/castcore/rtpcast"
)

// PacedPacketSender is the collaborator interface the sender hands
// wire bytes to (spec.md §6): a simple "accept bytes and emit UDP"
// boundary that this package never implements itself.
type PacedPacketSender interface {
	SendPackets(packets [][]byte)
	SendRtcpPacket(packet []byte)
}

// EncoderController lets the sender react to feedback by steering the
// encoder (spec.md §6): requesting a key frame when a NACKed frame has
// already been evicted from PacketStorage, or throttling output when
// told to.
type EncoderController interface {
	SetBitRate(bps int)
	SkipNextFrame(skip bool)
	GenerateKeyFrame()
	LatestFrameIDToReference(frameID modarith.FrameID)
	NumberOfSkippedFrames() int
}

// Sender is the top-level orchestration type for one outgoing stream
// (audio or video): it assigns frame ids, packetizes encoded frames,
// retains them for retransmit, and answers incoming Cast feedback
// (spec.md §4.6). Build one Sender per stream; a full Cast session
// pairs an audio and a video Sender.
type Sender struct {
	cfg     SenderConfig
	stream  string // "audio" or "video"
	pacer   PacedPacketSender
	encoder EncoderController

	packetizer *rtpcast.Packetizer
	storage    *packetstorage.Storage
	rtt        *rtcpcast.RTTEngine
	cipher     *castcrypto.Cipher

	loop *eventloop.Loop

	nextFrameID    modarith.FrameID
	lastFrameID    modarith.FrameID
	lastIsKeyFrame bool
}

// NewSender builds a Sender for one stream. stream must be "audio" or
// "video" (used only for metric/log labeling). historyFrames sizes
// PacketStorage's retransmit window (spec.md §6 rtp_history_ms,
// translated by the caller into a frame count).
func NewSender(cfg SenderConfig, stream string, historyFrames int, pacer PacedPacketSender, encoder EncoderController) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Sender{
		cfg:     cfg,
		stream:  stream,
		pacer:   pacer,
		encoder: encoder,
		packetizer: &rtpcast.Packetizer{
			SSRC:        cfg.SenderSSRC,
			PayloadType: uint8(cfg.RtpPayloadType),
		},
		storage:     packetstorage.New(historyFrames),
		rtt:         rtcpcast.NewRTTEngine(),
		loop:        eventloop.New(),
		nextFrameID: modarith.StartFrameID,
		lastFrameID: modarith.StartFrameID,
	}

	if len(cfg.AesKey) == 16 {
		c, err := castcrypto.New(cfg.AesKey, cfg.AesIVMask)
		if err != nil {
			return nil, err
		}
		s.cipher = c
	}

	return s, nil
}

// Close stops the sender's internal scheduling loop.
func (s *Sender) Close() {
	s.loop.Close()
}

// EncodeFrame assigns the next frame id to an encoder output, stores
// it for retransmit, and hands the packetized wire bytes to the
// pacer. referencedFrameID should be the id of the frame this one
// predicts from, as supplied by the encoder.
func (s *Sender) EncodeFrame(data []byte, isKeyFrame bool, referencedFrameID modarith.FrameID, hasReference bool, rtpTimestamp uint32) (modarith.FrameID, error) {
	frameID := s.nextFrameID
	s.nextFrameID = s.nextFrameID.Add(1)

	if s.cipher != nil {
		data = s.cipher.Transform(frameID, data)
	}

	refID := frameID.Add(-1)
	if hasReference {
		refID = referencedFrameID
	}

	packets, err := s.packetizer.Packetize(rtpcast.FrameToPacketize{
		FrameID:          frameID,
		ReferenceFrameID: refID,
		IsKeyFrame:       isKeyFrame,
		IsReference:      true,
		RTPTimestamp:     rtpTimestamp,
		Data:             data,
	})
	if err != nil {
		return frameID, fmt.Errorf("castcore: packetize frame %d: %w", frameID, err)
	}

	for i, pkt := range packets {
		s.storage.StorePacket(frameID, modarith.PacketID(i), pkt)
	}

	s.lastFrameID = frameID
	s.lastIsKeyFrame = isKeyFrame
	s.cfg.Logger.WithFields(logrus.Fields{"stream": s.stream, "frame_id": frameID}).Debug("frame encoded and packetized")

	s.pacer.SendPackets(packets)
	return frameID, nil
}

// OnIncomingRTCP decodes a compound RTCP datagram from the receiver
// and reacts to each sub-packet (spec.md §4.6): a Cast feedback
// message triggers retransmission, a reception report updates RTT, and
// a rapid resync request is logged; the sender does not emit an SR in
// response to it.
func (s *Sender) OnIncomingRTCP(buf []byte, now ntptime.TimeTicks) error {
	items, ok := rtcpcast.Decode(buf)
	if !ok {
		s.cfg.Logger.WithField("stream", s.stream).Warn("dropped malformed incoming RTCP")
	}

	for _, item := range items {
		switch p := item.(type) {
		case *rtcpcast.CastFeedback:
			s.handleFeedback(p.ToMessage())
		case *rtcp.ReceiverReport:
			for _, rr := range p.Reports {
				if rtt, ok := s.rtt.OnReceptionReport(rr, now); ok {
					s.cfg.Metrics.rttSample(s.stream, rtt.Seconds())
				}
			}
		case *rtcp.SenderReport:
			for _, rr := range p.Reports {
				if rtt, ok := s.rtt.OnReceptionReport(rr, now); ok {
					s.cfg.Metrics.rttSample(s.stream, rtt.Seconds())
				}
			}
		case *rtcpcast.RapidResyncRequest:
			s.cfg.Logger.WithField("stream", s.stream).Info("rapid resync requested")
		}
	}
	return nil
}

// handleFeedback implements spec.md §4.6 retransmission.
func (s *Sender) handleFeedback(msg castmessage.Message) {
	for frameID, packets := range msg.MissingFramesAndPackets {
		if !s.storage.HasFrame(frameID) {
			s.cfg.Logger.WithFields(logrus.Fields{"stream": s.stream, "frame_id": frameID}).Warn("nack for evicted frame, requesting key frame")
			s.encoder.GenerateKeyFrame()
			continue
		}

		ids := make([]modarith.PacketID, 0, len(packets))
		if _, wholeFrame := packets[modarith.AllPacketsLost]; wholeFrame {
			ids = s.storage.PacketIDsForFrame(frameID)
		} else {
			for pid := range packets {
				ids = append(ids, pid)
			}
		}

		var resend [][]byte
		for _, pid := range ids {
			if wire, ok := s.storage.GetPacket(frameID, pid); ok {
				resend = append(resend, wire)
			}
		}
		if len(resend) > 0 {
			s.pacer.SendPackets(resend)
			for range resend {
				s.cfg.Metrics.retransmitSent(s.stream)
			}
		}
	}
}

// BuildSenderReport constructs the outgoing SR for this stream's SSRC
// (spec.md §4.4), recording it with the RTT engine so a later
// ReceptionReport naming this SR can be matched up.
func (s *Sender) BuildSenderReport(now ntptime.TimeTicks, packetCount, octetCount uint32) *rtcp.SenderReport {
	ntp := ntptime.ConvertTimeToNtp(now)
	s.rtt.OnSenderReportSent(s.cfg.SenderSSRC, ntp)
	return &rtcp.SenderReport{
		SSRC:        s.cfg.SenderSSRC,
		NTPTime:     uint64(ntp),
		RTPTime:     ntp.Seconds() * uint32(s.cfg.Frequency),
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}
}
