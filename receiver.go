package castcore

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/bluenviron/castcore/castmessage"
	"github.com/bluenviron/castcore/eventloop"
	"github.com/bluenviron/castcore/framer"
	"github.com/bluenviron/castcore/internal/castcrypto"
	"github.com/bluenviron/castcore/modarith"
	"github.com/bluenviron/castcore/ntptime"
	"github.com/bluenviron/castcore/playout"
	"github.com/bluenviron/castcore/rtcpcast"
	"github.com/bluenviron/castcore/rtpcast"
)

// ReceivedFrame is a fully reassembled, decrypted, decode-ordered
// frame handed to the application at its playout instant (spec.md §6
// FrameDecodedCallback, stripped of the actual decode step which is
// out of scope per spec.md §1).
type ReceivedFrame struct {
	FrameID      modarith.FrameID
	Data         []byte
	RTPTimestamp uint32
	IsKeyFrame   bool
	PlayoutTime  ntptime.TimeTicks
}

// FrameReadyCallback is invoked from the receiver's MAIN lane
// (eventloop.Loop) once per released frame; it must not block.
type FrameReadyCallback func(ReceivedFrame)

// Stats is a read-only snapshot of receiver counters exposed to the
// application: packets received, frames released, frames released out
// of sequence (FramesSkipped) and complete frames still held
// (OutstandingFrame). It carries no lost-packet count.
type Stats struct {
	PacketsReceived  uint64
	FramesReleased   uint64
	FramesSkipped    uint64
	NacksSent        uint64
	OutstandingFrame int
}

// Receiver is the top-level orchestration type for one incoming
// stream (audio or video): it wires RTP-in to the framer, drives the
// Cast message builder and playout scheduler, and answers outgoing
// RTCP feedback timing (spec.md §4.2-§4.5).
type Receiver struct {
	cfg     ReceiverConfig
	stream  string
	isVideo bool
	pacer   PacedPacketSender
	onFrame FrameReadyCallback

	fr      *framer.Framer
	builder *castmessage.Builder
	clock   *playout.ClockOffsetEstimator
	sched   *playout.Scheduler
	cipher  *castcrypto.Cipher
	loop    *eventloop.Loop

	srAnchorSet  bool
	srAnchorRTP  uint32
	srAnchorTime ntptime.TimeTicks

	pendingFrame   *modarith.FrameID
	lastDelay      time.Duration
	haveLastDelay  bool
	lastRtcpReport ntptime.TimeTicks

	baseSeq      modarith.SeqNum
	highestSeq   modarith.SeqNum
	seqCycles    uint32
	haveAnySeq   bool
	packetsTotal uint64
	framesTotal  uint64
	skippedTotal uint64
}

// NewReceiver builds a Receiver for one stream. stream must be
// "audio" or "video"; it selects the decode-order policy (spec.md
// §4.2: audio may skip ahead freely, video additionally checks the
// reference graph) and the playout wait budget (kMaxAudioFrameWaitMs
// for audio, the same constant reused for video per spec.md §4.5).
func NewReceiver(cfg ReceiverConfig, stream string, pacer PacedPacketSender, onFrame FrameReadyCallback) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Receiver{
		cfg:     cfg,
		stream:  stream,
		isVideo: stream == "video",
		pacer:   pacer,
		onFrame: onFrame,
		clock:   playout.NewClockOffsetEstimator(uint32(cfg.Frequency)),
		loop:    eventloop.New(),
	}
	r.builder = castmessage.New(castmessage.Config{
		MediaSSRC:                     cfg.IncomingSSRC,
		DecoderFasterThanMaxFrameRate: cfg.DecoderFasterThanMaxFrameRate,
		MaxUnackedFrames:              cfg.MaxUnackedFrames,
	})
	r.fr = framer.New(&frameListener{r: r})
	r.fr.AllowSkippingVideoFrames = true
	r.sched = playout.NewScheduler(r.loop, KMaxWait(stream))

	if len(cfg.AesKey) == 16 {
		c, err := castcrypto.New(cfg.AesKey, cfg.AesIVMask)
		if err != nil {
			return nil, err
		}
		r.cipher = c
	}

	now := ntptime.DefaultTickClock()
	r.lastRtcpReport = now
	r.armCastMessageTimer()
	r.armRtcpReportTimer()

	return r, nil
}

// KMaxWait returns the jitter-absorption playout wait budget for a
// stream name (spec.md §4.5/§6: kMaxAudioFrameWaitMs for audio; video
// receivers use the same bound per §4.5's "analogous bound").
func KMaxWait(stream string) time.Duration {
	return MaxAudioFrameWait
}

// Close stops the receiver's internal scheduling loop. Outstanding
// delayed tasks (playout timeouts, report timers) become no-ops.
func (r *Receiver) Close() {
	r.loop.Close()
}

// frameListener adapts framer.Listener to the Cast message builder,
// replacing the C++ original's back-reference with forward calls only
// (spec.md §9 "cyclic ownership").
type frameListener struct{ r *Receiver }

func (l *frameListener) CompleteFrameReceived(frameID modarith.FrameID, isKeyFrame bool) {
	l.r.builder.CompleteFrameReceived(frameID, isKeyFrame, l.r.fr.IDs())
}

func (l *frameListener) FrameReleased(frameID modarith.FrameID) {
	l.r.builder.FrameReleased(frameID, l.r.fr.IDs())
}

// ReceivedPacket is the PacketReceiver boundary (spec.md §6): it
// accepts one raw UDP datagram carrying an RTP packet and returns
// immediately. Parsing, jitter-buffer insertion and any resulting
// feedback/playout scheduling happen on the receiver's MAIN lane.
func (r *Receiver) ReceivedPacket(buf []byte) {
	now := ntptime.DefaultTickClock()
	cp := append([]byte(nil), buf...)
	r.loop.Post(func() {
		r.processRTP(cp, now)
	})
}

func (r *Receiver) processRTP(buf []byte, now ntptime.TimeTicks) {
	header, payload, err := rtpcast.Parse(buf, rtpcast.StreamParams{
		SSRC:        r.cfg.IncomingSSRC,
		PayloadType: uint8(r.cfg.RtpPayloadType),
	})
	if err != nil {
		r.cfg.Logger.WithFields(logrus.Fields{"stream": r.stream, "error": err}).Warn("dropped malformed RTP packet")
		return
	}

	r.packetsTotal++
	r.trackSequence(header.SequenceNumber)

	if _, _, ok := r.clock.FirstIncomingPacket(); !ok {
		r.clock.OnFirstIncomingPacket(header.Timestamp, now)
	}

	accepted, completed := r.fr.InsertPacket(
		header.FrameID, header.IsKeyFrame, header.IsReference,
		header.ReferenceFrameID, header.HasReferenceFrame,
		header.PacketID, header.MaxPacketID, header.Timestamp, payload,
	)
	if !accepted {
		r.cfg.Logger.WithFields(logrus.Fields{"stream": r.stream, "frame_id": header.FrameID}).Debug("dropped stale packet")
		return
	}
	if completed {
		r.cfg.Logger.WithFields(logrus.Fields{"stream": r.stream, "frame_id": header.FrameID}).Debug("frame complete")
	}
	r.cfg.Metrics.decoderOutstandingSet(r.stream, len(r.fr.IDs().CompleteFrames()))

	r.pump(now)
	r.maybeSendCastMessage(now)
}

func (r *Receiver) trackSequence(seq modarith.SeqNum) {
	if !r.haveAnySeq {
		r.haveAnySeq = true
		r.baseSeq = seq
		r.highestSeq = seq
		return
	}
	if modarith.IsNewerSeqNum(seq, r.highestSeq) {
		if seq < r.highestSeq {
			r.seqCycles++
		}
		r.highestSeq = seq
	}
}

// dequeue fetches the next candidate frame per this stream's decode
// policy (spec.md §4.2): audio may skip ahead to the oldest complete
// frame, video additionally requires the candidate be decodable.
func (r *Receiver) dequeue() (framer.Frame, bool) {
	if r.isVideo {
		return r.fr.GetEncodedVideoFrame()
	}
	return r.fr.GetEncodedAudioFrame()
}

// pump schedules the next ready frame's release if one became
// available and isn't already scheduled. Only one frame is ever
// pending release at a time: a pump call that finds the pending frame
// is a no-op, and one that finds a different candidate cancels the
// pending release and schedules the new candidate instead.
func (r *Receiver) pump(now ntptime.TimeTicks) {
	frame, ok := r.dequeue()
	if !ok {
		return
	}
	if r.pendingFrame != nil && *r.pendingFrame == frame.FrameID {
		return
	}
	if r.pendingFrame != nil {
		r.sched.Cancel(*r.pendingFrame)
	}

	id := frame.FrameID
	r.pendingFrame = &id

	rtpInSenderTicks, _ := r.rtpToSenderTicks(frame.RTPTimestamp)
	targetDelay := time.Duration(r.cfg.RtpMaxDelayMs) * time.Millisecond
	playoutTime := r.clock.PlayoutTime(frame.RTPTimestamp, rtpInSenderTicks, targetDelay, now)

	r.lastDelay = playoutTime.Sub(now)
	r.haveLastDelay = true

	r.sched.Schedule(frame.FrameID, frame.NextFrame, playoutTime, now, func(fid modarith.FrameID) {
		r.pendingFrame = nil
		r.release(frame, playoutTime)
		r.pump(ntptime.DefaultTickClock())
	})
}

func (r *Receiver) release(frame framer.Frame, playoutTime ntptime.TimeTicks) {
	data := frame.Data
	if r.cipher != nil {
		data = r.cipher.Transform(frame.FrameID, data)
	}

	r.fr.ReleaseFrame(frame.FrameID)
	r.framesTotal++
	if !frame.NextFrame {
		r.skippedTotal++
		r.cfg.Metrics.frameSkipped(r.stream)
	}
	r.cfg.Metrics.frameReleased(r.stream)

	if r.onFrame != nil {
		r.onFrame(ReceivedFrame{
			FrameID:      frame.FrameID,
			Data:         data,
			RTPTimestamp: frame.RTPTimestamp,
			IsKeyFrame:   frame.IsKeyFrame,
			PlayoutTime:  playoutTime,
		})
	}
}

// rtpToSenderTicks converts rtpTimestamp into the sender's TimeTicks
// timeline using the first usable SR's RTP/NTP anchor (spec.md §4.5):
// once that anchor is set it is never replaced, matching the clock
// estimator's time_offset being computed once from the first SR.
func (r *Receiver) rtpToSenderTicks(rtpTimestamp uint32) (ntptime.TimeTicks, bool) {
	if !r.srAnchorSet || r.cfg.Frequency == 0 {
		return ntptime.TimeTicks{}, false
	}
	diff := int32(rtpTimestamp - r.srAnchorRTP)
	delta := time.Duration(diff) * time.Second / time.Duration(r.cfg.Frequency)
	return r.srAnchorTime.Add(delta), true
}

// OnIncomingRTCP decodes a compound RTCP datagram from the sender and
// reacts to each sub-packet: a Sender Report anchors the clock-offset
// estimator (spec.md §4.5) the first time one arrives.
func (r *Receiver) OnIncomingRTCP(buf []byte) {
	now := ntptime.DefaultTickClock()
	cp := append([]byte(nil), buf...)
	r.loop.Post(func() {
		r.processRTCP(cp, now)
	})
}

func (r *Receiver) processRTCP(buf []byte, now ntptime.TimeTicks) {
	items, ok := rtcpcast.Decode(buf)
	if !ok {
		r.cfg.Logger.WithField("stream", r.stream).Warn("dropped malformed incoming RTCP")
	}
	for _, item := range items {
		sr, isSR := item.(*rtcp.SenderReport)
		if !isSR || sr.SSRC != r.cfg.IncomingSSRC {
			continue
		}
		r.onSenderReport(sr, now)
	}
}

func (r *Receiver) onSenderReport(sr *rtcp.SenderReport, now ntptime.TimeTicks) {
	if r.srAnchorSet {
		return
	}
	firstRTP, firstAt, ok := r.clock.FirstIncomingPacket()
	if !ok {
		return
	}

	srTime := ntptime.ConvertNtpToTime(ntptime.NtpTimestamp(sr.NTPTime))
	r.srAnchorSet = true
	r.srAnchorRTP = sr.RTPTime
	r.srAnchorTime = srTime

	rtpInSenderTicksForFirstPacket, _ := r.rtpToSenderTicks(firstRTP)
	r.clock.OnSenderReport(rtpInSenderTicksForFirstPacket, firstAt)

	r.cfg.Logger.WithField("stream", r.stream).Info("clock offset anchored from first sender report")
}

// maybeSendCastMessage recomputes and, if due, emits Cast feedback
// (spec.md §4.3 Emission).
func (r *Receiver) maybeSendCastMessage(now ntptime.TimeTicks) {
	feedback, emit := r.builder.UpdateCastMessage(now, r.fr.IDs())
	if !emit {
		return
	}
	r.sendFeedback(feedback)
}

func (r *Receiver) sendFeedback(fb castmessage.PendingFeedback) {
	wire := rtcpcast.BuildCastFeedback(r.cfg.FeedbackSSRC, fb.Message)
	packets := []rtcp.Packet{wire}
	lossCount := len(wire.LossFields)
	if fb.RequestKeyFrame {
		packets = append(packets, &rtcp.PictureLossIndication{
			SenderSSRC: r.cfg.FeedbackSSRC,
			MediaSSRC:  r.cfg.IncomingSSRC,
		})
		r.cfg.Logger.WithField("stream", r.stream).Info("requesting key frame via PLI")
	}

	buf, err := rtcpcast.Encode(packets)
	if err != nil {
		r.cfg.Logger.WithFields(logrus.Fields{"stream": r.stream, "error": err}).Warn("failed to encode Cast feedback")
		return
	}
	r.pacer.SendRtcpPacket(buf)
	if lossCount > 0 {
		r.cfg.Metrics.nackSent(r.stream, lossCount)
	}
}

// armCastMessageTimer schedules the recurring Cast-message timer
// (spec.md §4.5 ScheduleNextCastMessage): it wakes at the builder's
// requested time, emits if due, and re-arms itself.
func (r *Receiver) armCastMessageTimer() {
	r.scheduleCastMessageTick(CastMessageInterval)
}

func (r *Receiver) scheduleCastMessageTick(delay time.Duration) {
	r.loop.PostDelayed(delay, func() {
		now := ntptime.DefaultTickClock()
		r.maybeSendCastMessage(now)
		next := r.builder.TimeToSendNextCastMessage().Sub(now)
		if next < MinSchedulingDelay {
			next = MinSchedulingDelay
		}
		r.scheduleCastMessageTick(next)
	})
}

// armRtcpReportTimer schedules the recurring RTCP receiver-report
// timer (spec.md §4.5 ScheduleNextRtcpReport), clamped to at least
// kMinSchedulingDelayMs.
func (r *Receiver) armRtcpReportTimer() {
	interval := time.Duration(r.cfg.RtcpIntervalMs) * time.Millisecond
	if interval < MinSchedulingDelay {
		interval = MinSchedulingDelay
	}
	r.loop.PostDelayed(interval, func() {
		r.sendReceiverReport()
		r.armRtcpReportTimer()
	})
}

func (r *Receiver) sendReceiverReport() {
	if !r.haveAnySeq {
		return
	}
	now := ntptime.DefaultTickClock()
	r.lastRtcpReport = now

	extended := r.seqCycles<<16 | uint32(r.highestSeq)
	expected := extended - uint32(r.baseSeq) + 1

	var fractionLost uint8
	var totalLost uint32
	if expected > uint32(r.packetsTotal) {
		lost := expected - uint32(r.packetsTotal)
		totalLost = lost
		if expected > 0 {
			fractionLost = uint8((lost * 256) / expected)
		}
	}

	rr := &rtcp.ReceiverReport{
		SSRC: r.cfg.FeedbackSSRC,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               r.cfg.IncomingSSRC,
			FractionLost:       fractionLost,
			TotalLost:          totalLost,
			LastSequenceNumber: extended,
		}},
	}
	if r.srAnchorSet {
		rr.Reports[0].LastSenderReport = ntptime.ConvertTimeToNtp(r.srAnchorTime).MiddleBits()
		elapsed := now.Sub(r.srAnchorTime)
		rr.Reports[0].Delay = uint32((elapsed.Seconds()) * (1 << 16))
	}

	buf, err := rtcpcast.Encode([]rtcp.Packet{rr})
	if err != nil {
		r.cfg.Logger.WithFields(logrus.Fields{"stream": r.stream, "error": err}).Warn("failed to encode receiver report")
		return
	}
	r.pacer.SendRtcpPacket(buf)
}

// CurrentDelay reports the most recently computed time-until-playout
// for this stream (spec.md original_source supplement: lip-sync
// telemetry built on the clock-offset estimator, not a new
// subsystem). ok is false until at least one frame has been
// scheduled.
func (r *Receiver) CurrentDelay() (time.Duration, bool) {
	return r.lastDelay, r.haveLastDelay
}

// Stats returns a snapshot of the receiver counters described on the
// Stats type.
func (r *Receiver) Stats() Stats {
	return Stats{
		PacketsReceived:  r.packetsTotal,
		FramesReleased:   r.framesTotal,
		FramesSkipped:    r.skippedTotal,
		OutstandingFrame: len(r.fr.IDs().CompleteFrames()),
	}
}

// ReceiverPair bundles the audio and video receivers of one Cast
// session so lip-sync delay can be compared across both streams
// (spec.md original_source supplement 1).
type ReceiverPair struct {
	Audio *Receiver
	Video *Receiver
}

// CurrentDelay returns the current playout delay of each stream. ok
// is true only once both streams have scheduled at least one frame.
func (p *ReceiverPair) CurrentDelay() (audio, video time.Duration, ok bool) {
	a, aok := p.Audio.CurrentDelay()
	v, vok := p.Video.CurrentDelay()
	return a, v, aok && vok
}
