package presence

// Broadcaster fans a message out to every observer of a participant.
type Broadcaster interface {
	Broadcast(msg Message)
}

// Downlink pushes the authority's state to observers once per tick.
type Downlink struct {
	out   Broadcaster
	modes *ModeMachine
}

func NewDownlink(out Broadcaster, modes *ModeMachine) *Downlink {
	return &Downlink{out: out, modes: modes}
}

// Payload builds the mode dependent continuous message for state.
func Payload(state *State) Message {
	switch state.Mode {
	case PointCloud:
		return Message{
			Kind:   DownlinkPointCloudPayload,
			Color:  state.Color,
			Vertex: state.Vertex,
		}
	case VideoStream:
		return Message{
			Kind:  DownlinkVideoPayload,
			Color: state.Color,
		}
	default:
		pose := state.Avatar
		return Message{
			Kind:   DownlinkAvatarPose,
			Avatar: &pose,
		}
	}
}

// Tick broadcasts, in order, the payload for the current mode, the pointer,
// the agent, and finally a mode-changed notification if the mode differs from
// the previous tick. Continuous messages are resent in full every tick.
func (d *Downlink) Tick(state *State) (changed bool) {
	d.out.Broadcast(Payload(state))
	d.out.Broadcast(Message{Kind: DownlinkPointer, Position: state.Pointer})
	d.out.Broadcast(Message{
		Kind:             DownlinkAgent,
		Position:         state.Agent,
		PositionsEnabled: state.PositionsEnabled,
	})
	if msg, ok := d.modes.Observe(state.Mode); ok {
		d.out.Broadcast(msg)
		return true
	}
	return false
}
