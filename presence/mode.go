package presence

// ModeMachine remembers the mode observed at the end of the previous tick and
// reports a transition at most once per tick.
type ModeMachine struct {
	previous Mode
}

func NewModeMachine(initial Mode) *ModeMachine {
	return &ModeMachine{previous: initial}
}

func (m *ModeMachine) Current() Mode {
	return m.previous
}

// Observe compares mode with the previous tick's value. On mismatch it returns
// the mode-changed notification and remembers the new value.
func (m *ModeMachine) Observe(mode Mode) (Message, bool) {
	if mode == m.previous {
		return Message{}, false
	}
	m.previous = mode
	return Message{Kind: DownlinkModeChanged, Mode: mode}, true
}
