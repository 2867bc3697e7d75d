package presence

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrUnknownKind = errors.New("unknown message kind")

// Kind discriminates the message types exchanged between peers and authority.
type Kind uint8

const (
	UplinkPose Kind = iota + 1
	DownlinkPointCloudPayload
	DownlinkVideoPayload
	DownlinkAvatarPose
	DownlinkPointer
	DownlinkAgent
	DownlinkModeChanged
	Setup
)

var kindNames = map[Kind]string{
	UplinkPose:                "uplink-pose",
	DownlinkPointCloudPayload: "point-cloud",
	DownlinkVideoPayload:      "video",
	DownlinkAvatarPose:        "avatar-pose",
	DownlinkPointer:           "pointer",
	DownlinkAgent:             "agent",
	DownlinkModeChanged:       "mode-changed",
	Setup:                     "setup",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Downlink reports whether messages of this kind travel from the authority.
func (k Kind) Downlink() bool {
	return k.Valid() && k != UplinkPose
}

// payloadMode returns the mode a payload kind belongs to. Kinds that are valid
// in every mode report false.
func (k Kind) payloadMode() (Mode, bool) {
	switch k {
	case DownlinkPointCloudPayload:
		return PointCloud, true
	case DownlinkVideoPayload:
		return VideoStream, true
	case DownlinkAvatarPose:
		return Avatar, true
	}
	return 0, false
}

// Message is the single envelope for every kind. Only the fields belonging to
// Kind are meaningful; Vertex is nil for video payloads.
type Message struct {
	Kind Kind   `json:"kind"`
	Seq  uint64 `json:"seq,omitempty"`

	Mode Mode `json:"mode,omitempty"`

	Color  []byte `json:"color,omitempty"`
	Vertex []byte `json:"vertex,omitempty"`

	Avatar *AvatarPose `json:"avatar,omitempty"`
	Client *ClientPose `json:"client,omitempty"`

	Position         mgl32.Vec3 `json:"position,omitempty"`
	PositionsEnabled bool       `json:"positionsEnabled,omitempty"`

	KinectWidth  int `json:"kinectWidth,omitempty"`
	KinectHeight int `json:"kinectHeight,omitempty"`
}

func (m *Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}
	switch m.Kind {
	case UplinkPose:
		if m.Client == nil {
			return errors.New("uplink pose without client pose")
		}
	case DownlinkAvatarPose:
		if m.Avatar == nil {
			return errors.New("avatar pose message without pose")
		}
	}
	return nil
}
