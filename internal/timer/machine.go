package timer

import "fmt"

// Machine is the timed activity state machine:
//
//	idle -> running (Start)
//	running -> paused (Pause)
//	paused -> running (Resume)
//	running -> completed (Complete)
//	any -> idle (Reset)
type Machine struct {
	status Status
}

// NewMachine returns a machine in the idle state.
func NewMachine() Machine {
	return Machine{status: StatusIdle}
}

func (m *Machine) Status() Status {
	if m.status == "" {
		return StatusIdle
	}
	return m.status
}

func (m *Machine) Start() error { return m.move(StatusIdle, StatusRunning) }

func (m *Machine) Pause() error { return m.move(StatusRunning, StatusPaused) }

func (m *Machine) Resume() error { return m.move(StatusPaused, StatusRunning) }

func (m *Machine) Complete() error { return m.move(StatusRunning, StatusCompleted) }

// Reset returns to idle from any state.
func (m *Machine) Reset() {
	m.status = StatusIdle
}

// restore puts the machine into a recovered state without a transition.
func (m *Machine) restore(s Status) {
	m.status = s
}

func (m *Machine) move(from, to Status) error {
	if m.Status() != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status(), to)
	}
	m.status = to
	return nil
}
