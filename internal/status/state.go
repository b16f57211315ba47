package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/telavy/convo/internal/signal"
)

// State represents a client runtime state.
type State string

const (
	Offline      State = "OFFLINE"
	Connecting   State = "CONNECTING"
	LoggedIn     State = "LOGGED_IN"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Offline:      {Connecting, Failed},
	Connecting:   {LoggedIn, Reconnecting, Failed, Offline},
	LoggedIn:     {Syncing, Reconnecting, Offline, Failed},
	Syncing:      {Ready, Reconnecting, Failed, Offline},
	Ready:        {Syncing, Reconnecting, Offline, Failed},
	Reconnecting: {Connecting, Offline, Failed},
	Failed:       {Offline, Connecting},
}

// Change is the payload delivered on every transition.
type Change struct {
	From State
	To   State
}

// Machine tracks and enforces client runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State

	// Changed fires synchronously after each successful transition.
	Changed *signal.Signal[Change]
}

// NewMachine creates a state machine starting Offline.
func NewMachine() *Machine {
	return &Machine{
		current: Offline,
		Changed: signal.New[Change](),
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.Changed.Emit(Change{From: from, To: to})
	return nil
}
