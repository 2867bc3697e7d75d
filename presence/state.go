package presence

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Mode selects which representation of the participant is streamed.
type Mode uint8

const (
	PointCloud Mode = iota
	VideoStream
	Avatar
)

func (m Mode) Valid() bool {
	return m <= Avatar
}

func (m Mode) String() string {
	switch m {
	case PointCloud:
		return "point-cloud"
	case VideoStream:
		return "video-stream"
	case Avatar:
		return "avatar"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode accepts either the name or the wire enumerant.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "point-cloud", "pointcloud", "0":
		return PointCloud, nil
	case "video-stream", "video", "1":
		return VideoStream, nil
	case "avatar", "2":
		return Avatar, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

type Pose struct {
	Position mgl32.Vec3 `json:"position"`
	Rotation mgl32.Vec3 `json:"rotation"`
}

// AvatarPose is the bundle sent every tick while in Avatar mode.
type AvatarPose struct {
	Head            Pose `json:"head"`
	LeftHand        Pose `json:"leftHand"`
	RightHand       Pose `json:"rightHand"`
	IsTalking       bool `json:"isTalking"`
	IsLeftPointing  bool `json:"isLeftPointing"`
	IsRightPointing bool `json:"isRightPointing"`
}

// ClientPose is owned by the representing peer and only ever flows upstream.
type ClientPose struct {
	Headset   Pose `json:"headset"`
	RightHand Pose `json:"rightHand"`
}

// State is the canonical record for one participant. The authority owns every
// field except Client, which is written only from the representing peer's
// uplink. It is not safe for concurrent use; the owning session confines all
// access to its tick loop.
type State struct {
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
}

func NewState(mode Mode, kinectWidth, kinectHeight int) *State {
	return &State{
		Mode:         mode,
		KinectWidth:  kinectWidth,
		KinectHeight: kinectHeight,
	}
}

func (s *State) SetMode(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("set mode: %v is not a valid mode", mode)
	}
	s.Mode = mode
	return nil
}

// SetPointCloud stores the latest captured frame for PointCloud mode.
func (s *State) SetPointCloud(color, vertex []byte) {
	s.Color = color
	s.Vertex = vertex
}

// SetVideoFrame stores the latest video frame. The vertex buffer is left alone
// because it is never replicated outside PointCloud mode.
func (s *State) SetVideoFrame(color []byte) {
	s.Color = color
}

func (s *State) SetAvatar(pose AvatarPose) {
	s.Avatar = pose
}

func (s *State) SetPointer(pos mgl32.Vec3) {
	s.Pointer = pos
}

func (s *State) SetAgent(pos mgl32.Vec3, enabled bool) {
	s.Agent = pos
	s.PositionsEnabled = enabled
}
