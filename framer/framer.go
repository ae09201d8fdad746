// Package framer composes a frameidmap.Map and one framebuffer.Buffer
// per pending frame to reassemble frames from packets and deliver them
// in decode order (spec.md §4.2). Audio and video have different
// dequeue policies: audio may skip ahead to the oldest complete frame,
// video must additionally respect the reference graph.
package framer

import (
	"github.com/bluenviron/castcore/frameidmap"
	"github.com/bluenviron/castcore/framebuffer"
	"github.com/bluenviron/castcore/modarith"
)

// Listener receives framer events that the Cast message builder reacts
// to. The framer holds no back-reference to a feedback sink: it only
// calls forward into Listener,
// and the receiver wires Listener to the actual castmessage.Builder.
type Listener interface {
	// CompleteFrameReceived is called the moment a frame's last
	// missing packet arrives.
	CompleteFrameReceived(frameID modarith.FrameID, isKeyFrame bool)
	// FrameReleased is called after ReleaseFrame runs, so the builder
	// can update its ACK state for an out-of-order release.
	FrameReleased(frameID modarith.FrameID)
}

// Framer reassembles frames from packets and dequeues them in decode
// order.
type Framer struct {
	ids      *frameidmap.Map
	buffers  map[modarith.FrameID]*framebuffer.Buffer
	listener Listener

	// AllowSkippingVideoFrames mirrors the encoder/decoder-pace
	// configuration that lets the video dequeue policy fall back to
	// the oldest decodable frame instead of blocking on continuity.
	AllowSkippingVideoFrames bool
}

// New allocates a Framer.
func New(listener Listener) *Framer {
	return &Framer{
		ids:                      frameidmap.NewMap(),
		buffers:                  make(map[modarith.FrameID]*framebuffer.Buffer),
		listener:                 listener,
		AllowSkippingVideoFrames: true,
	}
}

// InsertPacket implements spec.md §4.2 Insert. Returns whether the
// packet was accepted (not stale/rejected) and whether the frame
// became complete with this insert.
func (f *Framer) InsertPacket(
	frameID modarith.FrameID,
	isKeyFrame bool,
	isReference bool,
	referenceFrameIDField modarith.FrameID,
	hasReferenceFrameField bool,
	packetID modarith.PacketID,
	maxPacketID modarith.PacketID,
	rtpTimestamp uint32,
	payload []byte,
) (accepted bool, completed bool) {
	res := f.ids.InsertPacket(frameID, isKeyFrame, isReference, referenceFrameIDField, hasReferenceFrameField, packetID, maxPacketID)
	if !res.Accepted {
		return false, false
	}

	buf, ok := f.buffers[frameID]
	if !ok {
		buf = framebuffer.New()
		f.buffers[frameID] = buf
	}
	buf.InsertPacket(packetID, maxPacketID, payload, isKeyFrame, res.ReferencedFrameID, rtpTimestamp)

	if res.Completed && f.listener != nil {
		f.listener.CompleteFrameReceived(frameID, isKeyFrame)
	}
	return true, res.Completed
}

// Frame is a dequeued (but not yet released) encoded frame.
type Frame struct {
	FrameID      modarith.FrameID
	Data         []byte
	RTPTimestamp uint32
	IsKeyFrame   bool
	NextFrame    bool // true iff this was the continuous next frame
}

// GetEncodedAudioFrame implements spec.md §4.2's audio dequeue policy:
// prefer the continuous next frame; else fall back to the oldest
// complete frame (frames may be skipped).
func (f *Framer) GetEncodedAudioFrame() (Frame, bool) {
	last := f.ids.LastReleasedFrame()
	waiting := f.ids.WaitingForKey()

	next := last.Add(1)
	if !waiting {
		if fi, ok := f.ids.Get(next); ok && fi.IsComplete() {
			return f.buildFrame(next, true), true
		}
	}

	for _, id := range f.ids.CompleteFrames() {
		if waiting {
			if fi, _ := f.ids.Get(id); !fi.IsKeyFrame {
				continue
			}
		}
		return f.buildFrame(id, id == next), true
	}
	return Frame{}, false
}

// GetEncodedVideoFrame implements spec.md §4.2's video dequeue policy:
// prefer the continuous next frame; else, if skipping is allowed,
// return the oldest complete *decodable* frame (a key frame, or one
// whose reference is already released).
func (f *Framer) GetEncodedVideoFrame() (Frame, bool) {
	last := f.ids.LastReleasedFrame()
	waiting := f.ids.WaitingForKey()

	next := last.Add(1)
	if !waiting {
		if fi, ok := f.ids.Get(next); ok && fi.IsComplete() {
			return f.buildFrame(next, true), true
		}
	}

	if !f.AllowSkippingVideoFrames {
		return Frame{}, false
	}

	for _, id := range f.ids.CompleteFrames() {
		fi, _ := f.ids.Get(id)
		if waiting {
			if !fi.IsKeyFrame {
				continue
			}
			return f.buildFrame(id, id == next), true
		}
		if f.isDecodable(fi) {
			return f.buildFrame(id, id == next), true
		}
	}
	return Frame{}, false
}

func (f *Framer) isDecodable(fi *frameidmap.FrameInfo) bool {
	if fi.IsKeyFrame {
		return true
	}
	return modarith.IsOlderOrSameFrameID(fi.ReferencedFrameID, f.ids.LastReleasedFrame())
}

func (f *Framer) buildFrame(id modarith.FrameID, isNext bool) Frame {
	fi, _ := f.ids.Get(id)
	buf := f.buffers[id]
	return Frame{
		FrameID:      id,
		Data:         buf.Assemble(),
		RTPTimestamp: buf.RTPTimestamp,
		IsKeyFrame:   fi.IsKeyFrame,
		NextFrame:    isNext,
	}
}

// ReleaseFrame advances last_released_frame to frameID and erases all
// frames older-or-equal, notifying the listener of the out-of-order
// release so it can update ACK state (spec.md §4.2).
func (f *Framer) ReleaseFrame(frameID modarith.FrameID) {
	ids := f.ids.AllFrameIDs()
	f.ids.Release(frameID)
	for _, id := range ids {
		if modarith.IsOlderOrSameFrameID(id, frameID) {
			delete(f.buffers, id)
		}
	}
	if f.listener != nil {
		f.listener.FrameReleased(frameID)
	}
}

// Reset clears all state and re-enters waiting_for_key = true
// (spec.md §4.2 Reset).
func (f *Framer) Reset() {
	f.ids.Reset()
	f.buffers = make(map[modarith.FrameID]*framebuffer.Buffer)
}

// IDs exposes the underlying frameidmap.Map for components (the Cast
// message builder, stats reporting) that need direct read access to
// per-frame state without duplicating it.
func (f *Framer) IDs() *frameidmap.Map {
	return f.ids
}
