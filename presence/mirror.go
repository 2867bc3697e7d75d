package presence

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Snapshot is a copy of a mirrored state as last applied.
type Snapshot struct {
	Mode Mode

	Color  []byte
	Vertex []byte
	Avatar AvatarPose
	Client ClientPose

	Pointer          mgl32.Vec3
	Agent            mgl32.Vec3
	PositionsEnabled bool

	KinectWidth  int
	KinectHeight int
	Ready        bool
}

// Mirror is an observer's copy of a participant's state. Each incoming message
// is applied atomically with respect to Snapshot.
//
// Payloads arriving for a mode other than the mirrored one are held back, the
// latest per mode, and promoted if a matching mode change follows. Mirrored
// payload fields therefore always belong to the mirrored mode.
type Mirror struct {
	mu         sync.RWMutex
	state      Snapshot
	held       map[Mode]Message
	mismatched bool
}

func NewMirror() *Mirror {
	return &Mirror{held: make(map[Mode]Message)}
}

func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Mirror) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Mode
}

// Mismatched reports whether payloads for another mode have arrived since the
// mirror last changed mode, which happens when a mode-changed notification was
// lost or is still in flight.
func (m *Mirror) Mismatched() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mismatched
}

// SetClient records the local device pose on the representing peer.
func (m *Mirror) SetClient(pose ClientPose) {
	m.mu.Lock()
	m.state.Client = pose
	m.mu.Unlock()
}

// Apply folds a downlink message into the mirror. It reports false for
// messages it does not understand, which are otherwise ignored.
func (m *Mirror) Apply(msg Message) bool {
	if !msg.Kind.Downlink() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if mode, ok := msg.Kind.payloadMode(); ok && (mode != m.state.Mode || !m.state.Ready) {
		m.held[mode] = msg
		if m.state.Ready {
			m.mismatched = true
		}
		return true
	}

	switch msg.Kind {
	case Setup:
		if !msg.Mode.Valid() {
			return false
		}
		m.state.KinectWidth = msg.KinectWidth
		m.state.KinectHeight = msg.KinectHeight
		m.state.Ready = true
		m.switchMode(msg.Mode)
	case DownlinkModeChanged:
		if !msg.Mode.Valid() {
			return false
		}
		m.switchMode(msg.Mode)
	case DownlinkPointer:
		m.state.Pointer = msg.Position
	case DownlinkAgent:
		m.state.Agent = msg.Position
		m.state.PositionsEnabled = msg.PositionsEnabled
	default:
		m.applyPayload(msg)
	}
	return true
}

func (m *Mirror) switchMode(mode Mode) {
	m.state.Mode = mode
	m.mismatched = false
	if mode != PointCloud {
		m.state.Vertex = nil
	}
	if held, ok := m.held[mode]; ok {
		m.applyPayload(held)
	}
	for k := range m.held {
		delete(m.held, k)
	}
}

func (m *Mirror) applyPayload(msg Message) {
	switch msg.Kind {
	case DownlinkPointCloudPayload:
		m.state.Color = msg.Color
		m.state.Vertex = msg.Vertex
	case DownlinkVideoPayload:
		m.state.Color = msg.Color
		m.state.Vertex = nil
	case DownlinkAvatarPose:
		if msg.Avatar != nil {
			m.state.Avatar = *msg.Avatar
		}
	}
}
