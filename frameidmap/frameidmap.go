package frameidmap

import (
	"github.com/bluenviron/castcore/modarith"
)

// Map is the ordered mapping from frame_id to FrameInfo, plus the
// waiting-for-key / last-released-frame / newest-frame-id state
// spec.md §3 attaches to it.
type Map struct {
	frames map[modarith.FrameID]*FrameInfo
	order  []modarith.FrameID // insertion order, oldest first

	waitingForKey     bool
	lastReleasedFrame modarith.FrameID
	newestFrameID     modarith.FrameID
}

// NewMap returns a Map in its initial state: waiting_for_key = true,
// last_released_frame = kStartFrameId (255).
func NewMap() *Map {
	return &Map{
		frames:            make(map[modarith.FrameID]*FrameInfo),
		waitingForKey:     true,
		lastReleasedFrame: modarith.StartFrameID,
		newestFrameID:     modarith.StartFrameID,
	}
}

// WaitingForKey reports whether no key frame has been received yet.
func (m *Map) WaitingForKey() bool { return m.waitingForKey }

// LastReleasedFrame returns the last_released_frame id.
func (m *Map) LastReleasedFrame() modarith.FrameID { return m.lastReleasedFrame }

// NewestFrameID returns the newest frame id ever seen.
func (m *Map) NewestFrameID() modarith.FrameID { return m.newestFrameID }

// Get returns the FrameInfo for frameID, if present.
func (m *Map) Get(frameID modarith.FrameID) (*FrameInfo, bool) {
	fi, ok := m.frames[frameID]
	return fi, ok
}

// InsertResult reports the outcome of inserting a packet.
type InsertResult struct {
	Accepted          bool // false means "not valid" per spec.md §4.2 step 3
	Completed         bool // frame became complete with this packet
	BecameFirstKey    bool // this insert cleared waiting_for_key
	ReferencedFrameID modarith.FrameID
}

// InsertPacket implements spec.md §4.2 steps 1-6 at the FrameIdMap
// level (the framer layers FrameBuffer payload accumulation and the
// message-builder notification on top of this).
func (m *Map) InsertPacket(
	frameID modarith.FrameID,
	isKeyFrame bool,
	isReference bool,
	referenceFrameIDField modarith.FrameID,
	hasReferenceFrameField bool,
	packetID modarith.PacketID,
	maxPacketID modarith.PacketID,
) InsertResult {
	// step 1: determine reference_frame_id.
	refFrameID := frameID.Add(-1)
	if hasReferenceFrameField {
		refFrameID = referenceFrameIDField
	}

	becameFirstKey := false
	// step 2: first key frame clears waiting_for_key.
	if m.waitingForKey && isKeyFrame {
		m.lastReleasedFrame = frameID.Add(-1)
		m.waitingForKey = false
		becameFirstKey = true
	}

	// step 3: reject stale frames.
	if !m.waitingForKey && modarith.IsOlderFrameID(frameID, m.lastReleasedFrame) {
		return InsertResult{Accepted: false}
	}

	// step 4: update newest_frame_id.
	if modarith.IsNewerFrameID(frameID, m.newestFrameID) {
		m.newestFrameID = frameID
	}

	// step 5: insert into existing FrameInfo or create a new one.
	fi, exists := m.frames[frameID]
	var completed bool
	if exists {
		completed = fi.InsertPacket(packetID)
	} else {
		fi = NewFrameInfo(frameID, isKeyFrame, refFrameID, maxPacketID, packetID)
		m.frames[frameID] = fi
		m.order = append(m.order, frameID)
		completed = fi.IsComplete()
	}

	return InsertResult{
		Accepted:          true,
		Completed:         completed,
		BecameFirstKey:    becameFirstKey,
		ReferencedFrameID: refFrameID,
	}
}

// Release advances last_released_frame to frameID and erases every
// frame older-or-equal to it (spec.md §4.2 ReleaseFrame).
func (m *Map) Release(frameID modarith.FrameID) {
	m.lastReleasedFrame = frameID
	kept := m.order[:0]
	for _, id := range m.order {
		if modarith.IsOlderOrSameFrameID(id, frameID) {
			delete(m.frames, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// CompleteFrames returns, in insertion order, the frame ids of every
// currently-complete frame still held in the map.
func (m *Map) CompleteFrames() []modarith.FrameID {
	var out []modarith.FrameID
	for _, id := range m.order {
		if fi := m.frames[id]; fi.IsComplete() {
			out = append(out, id)
		}
	}
	return out
}

// AllFrameIDs returns every pending frame id in insertion order.
func (m *Map) AllFrameIDs() []modarith.FrameID {
	out := make([]modarith.FrameID, len(m.order))
	copy(out, m.order)
	return out
}

// Reset clears all state and re-enters waiting_for_key = true
// (spec.md §4.2 Reset).
func (m *Map) Reset() {
	m.frames = make(map[modarith.FrameID]*FrameInfo)
	m.order = nil
	m.waitingForKey = true
	m.lastReleasedFrame = modarith.StartFrameID
	m.newestFrameID = modarith.StartFrameID
}
