package call

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ntbao/zylo/internal/bus"
)

// State represents a call lifecycle state.
type State string

const (
	Idle            State = "IDLE"
	Requesting      State = "REQUESTING"
	Ringing         State = "RINGING"
	IncomingOffered State = "INCOMING_OFFERED"
	Connected       State = "CONNECTED"
	Ended           State = "ENDED"
)

// validTransitions defines allowed call state transitions. There is no
// call waiting: a second offer never moves the machine.
var validTransitions = map[State][]State{
	Idle:            {Requesting, IncomingOffered},
	Requesting:      {Ringing, Idle},
	Ringing:         {Connected, Ended, Idle},
	IncomingOffered: {Connected, Idle},
	Connected:       {Ended},
	Ended:           {Idle},
}

// Machine tracks and enforces call state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindCallStateChanged, StateChange{From: from, To: to})
	}
	return nil
}

// StateChange is the payload for call state change events.
type StateChange struct {
	From State
	To   State
}
