// Package castcore implements a Cast-style media transport: a sender
// and receiver pair that move encoded audio/video frames over UDP
// using an RTP/RTCP dialect with its own feedback (ACK+NACK),
// retransmission and jitter-buffered playout scheduling (spec.md
// §1-§2). The wire codecs, jitter buffer and feedback builder live in
// their own packages (rtpcast, rtcpcast, frameidmap, framebuffer,
// framer, castmessage, playout); this package wires them into the two
// top-level orchestration types, Sender and Receiver.
package castcore
