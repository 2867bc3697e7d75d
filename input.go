package main

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/james226/presence-api/presence"
)

// Input is an assignment from the capture host. Absent fields are left as
// they are.
type Input struct {
	Mode   string               `json:"mode,omitempty"`
	Color  []byte               `json:"color,omitempty"`
	Vertex []byte               `json:"vertex,omitempty"`
	Avatar *presence.AvatarPose `json:"avatar,omitempty"`

	Pointer          *mgl32.Vec3 `json:"pointer,omitempty"`
	Agent            *mgl32.Vec3 `json:"agent,omitempty"`
	PositionsEnabled *bool       `json:"positionsEnabled,omitempty"`

	mode *presence.Mode
}

func (in *Input) Validate() error {
	if in.Mode == "" {
		return nil
	}
	mode, err := presence.ParseMode(in.Mode)
	if err != nil {
		return err
	}
	in.mode = &mode
	return nil
}

// Apply writes the input into state. Frame buffers are merged: a field left
// out keeps its stored value. Buffers are kept in every mode and only
// replicated while the mode selects them, so a frame posted in Avatar mode is
// what goes out after a switch to PointCloud or VideoStream.
func (in *Input) Apply(state *presence.State) {
	if in.mode != nil {
		state.SetMode(*in.mode)
	}
	if in.Color != nil || in.Vertex != nil {
		color, vertex := state.Color, state.Vertex
		if in.Color != nil {
			color = in.Color
		}
		if in.Vertex != nil {
			vertex = in.Vertex
		}
		state.SetPointCloud(color, vertex)
	}
	if in.Avatar != nil {
		state.SetAvatar(*in.Avatar)
	}
	if in.Pointer != nil {
		state.SetPointer(*in.Pointer)
	}
	if in.Agent != nil || in.PositionsEnabled != nil {
		agent, enabled := state.Agent, state.PositionsEnabled
		if in.Agent != nil {
			agent = *in.Agent
		}
		if in.PositionsEnabled != nil {
			enabled = *in.PositionsEnabled
		}
		state.SetAgent(agent, enabled)
	}
}
