package presence

import (
	"bytes"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// loopback connects one authority to a set of observers in memory.
type loopback struct {
	authority *Session
	observers map[string]*Session
	received  map[string][]Message
	drop      func(peerID string, msg Message) bool
}

func newLoopback() *loopback {
	return &loopback{
		observers: make(map[string]*Session),
		received:  make(map[string][]Message),
	}
}

func (l *loopback) deliver(peerID string, msg Message) {
	if l.drop != nil && l.drop(peerID, msg) {
		return
	}
	l.received[peerID] = append(l.received[peerID], msg)
	l.observers[peerID].Receive("authority", msg)
}

func (l *loopback) Broadcast(msg Message) {
	for peerID := range l.observers {
		l.deliver(peerID, msg)
	}
}

func (l *loopback) Send(peerID string, msg Message) {
	if _, ok := l.observers[peerID]; ok {
		l.deliver(peerID, msg)
	}
}

func (l *loopback) SendToAuthority(peerID string, msg Message) {
	l.authority.Receive(peerID, msg)
}

func (l *loopback) join(peerID string, representing bool) *Session {
	obs := NewObserver(peerID, representing, l, quietLogger())
	l.observers[peerID] = obs
	l.authority.Join(peerID)
	return obs
}

func newAuthorityLoop(mode Mode) *loopback {
	l := newLoopback()
	l.authority = NewAuthority(Config{Mode: mode, KinectWidth: 640, KinectHeight: 576, Representing: "peer-1"}, l, quietLogger())
	return l
}

func TestPointCloudToVideoStream(t *testing.T) {
	l := newAuthorityLoop(PointCloud)
	obs := l.join("peer-1", false)
	state := l.authority.State()
	state.SetPointCloud([]byte("C1"), []byte("V1"))

	for i := 0; i < 3; i++ {
		l.authority.Tick()
	}
	state.SetMode(VideoStream)
	state.SetVideoFrame([]byte("C2"))
	for i := 0; i < 3; i++ {
		l.authority.Tick()
	}

	var pointClouds, changes, videos int
	for _, msg := range l.received["peer-1"] {
		switch msg.Kind {
		case DownlinkPointCloudPayload:
			if changes > 0 || videos > 0 {
				t.Fatalf("point cloud payload after switch")
			}
			if !bytes.Equal(msg.Vertex, []byte("V1")) {
				t.Fatalf("unexpected vertex payload %q", msg.Vertex)
			}
			pointClouds++
		case DownlinkModeChanged:
			if msg.Mode != VideoStream {
				t.Fatalf("unexpected mode change to %v", msg.Mode)
			}
			changes++
		case DownlinkVideoPayload:
			if msg.Vertex != nil {
				t.Fatalf("video payload carries vertex data")
			}
			videos++
		}
	}
	if pointClouds != 3 || changes != 1 || videos != 3 {
		t.Fatalf("expected 3/1/3 messages, got %d/%d/%d", pointClouds, changes, videos)
	}

	snap := obs.Mirror().Snapshot()
	if snap.Mode != VideoStream || snap.Vertex != nil || !bytes.Equal(snap.Color, []byte("C2")) {
		t.Fatalf("observer did not settle on video stream: %+v", snap)
	}
}

func TestUplinkVisibleNextTick(t *testing.T) {
	l := newAuthorityLoop(PointCloud)
	peer := l.join("peer-1", true)
	state := l.authority.State()

	for i := 0; i < 4; i++ {
		l.authority.Tick()
	}

	p1 := ClientPose{Headset: Pose{Position: mgl32.Vec3{1, 2, 3}, Rotation: mgl32.Vec3{0, 90, 0}}}
	peer.Mirror().SetClient(p1)
	peer.Tick()
	state.SetMode(Avatar)

	if state.Client == p1 {
		t.Fatalf("uplink applied before the authority ticked")
	}
	l.authority.Tick()
	if state.Client != p1 {
		t.Fatalf("expected client pose %+v, got %+v", p1, state.Client)
	}

	state.SetMode(VideoStream)
	l.authority.Tick()
	if state.Client != p1 {
		t.Fatalf("client pose changed by mode switch: %+v", state.Client)
	}
}

func TestDroppedModeChangeIsDetectable(t *testing.T) {
	l := newAuthorityLoop(PointCloud)
	obs := l.join("peer-1", false)
	state := l.authority.State()
	state.SetPointCloud([]byte("C1"), []byte("V1"))
	l.authority.Tick()

	l.drop = func(_ string, msg Message) bool { return msg.Kind == DownlinkModeChanged }
	state.SetMode(VideoStream)
	state.SetVideoFrame([]byte("C2"))
	for i := 0; i < 3; i++ {
		l.authority.Tick()
	}

	if obs.Mirror().Mode() != PointCloud {
		t.Fatalf("observer switched mode without a notification")
	}
	if !obs.Mirror().Mismatched() {
		t.Fatalf("expected stale mode to be reported")
	}
	snap := obs.Mirror().Snapshot()
	if !bytes.Equal(snap.Vertex, []byte("V1")) || !bytes.Equal(snap.Color, []byte("C1")) {
		t.Fatalf("observer mixed payloads from two modes: %+v", snap)
	}

	l.drop = nil
	state.SetMode(Avatar)
	l.authority.Tick()

	if obs.Mirror().Mode() != Avatar || obs.Mirror().Mismatched() {
		t.Fatalf("observer did not recover on next transition")
	}
}

func TestJoinSendsSetupOnce(t *testing.T) {
	l := newAuthorityLoop(Avatar)
	l.authority.Tick()
	l.join("peer-2", false)
	l.authority.Tick()

	var setups []Message
	for _, msg := range l.received["peer-2"] {
		if msg.Kind == Setup {
			setups = append(setups, msg)
		}
	}
	if len(setups) != 1 {
		t.Fatalf("expected 1 setup message, got %d", len(setups))
	}
	if setups[0].KinectWidth != 640 || setups[0].KinectHeight != 576 || setups[0].Mode != Avatar {
		t.Fatalf("unexpected setup %+v", setups[0])
	}
	if mode := l.observers["peer-2"].Mirror().Mode(); mode != Avatar {
		t.Fatalf("late joiner mirrors %v", mode)
	}
}

func TestAuthorityIgnoresDownlinkAndDepartedPeers(t *testing.T) {
	l := newAuthorityLoop(PointCloud)
	state := l.authority.State()

	l.authority.Receive("peer-1", Message{Kind: DownlinkModeChanged, Mode: Avatar})
	l.authority.Tick()
	if state.Mode != PointCloud {
		t.Fatalf("authority accepted a mode change from a peer")
	}

	l.authority.Receive("peer-1", uplink(1, 5))
	l.authority.Leave("peer-1")
	l.authority.Tick()
	if state.Client != (ClientPose{}) {
		t.Fatalf("uplink from departed peer applied: %+v", state.Client)
	}
}

func TestObserverWithoutRepresentationSendsNothing(t *testing.T) {
	out := &outbox{}
	obs := NewObserver("peer-3", false, out, quietLogger())
	obs.Tick()
	obs.Tick()

	if len(out.sent) != 0 {
		t.Fatalf("expected no uplink, got %d messages", len(out.sent))
	}
	if obs.Ticks() != 2 {
		t.Fatalf("expected 2 ticks, got %d", obs.Ticks())
	}
}
