package phase

import (
	"time"

	"setup-maturity/internal/structure"
)

// State is the current phase with the events seen since entering it.
type State struct {
	Phase     Phase
	EnteredAt time.Time
	Events    []string
}

// Transition records one edge taken by the machine.
type Transition struct {
	From    Phase
	To      Phase
	At      time.Time
	EventID string
}

const (
	maxSupport = 128
	maxHistory = 256
)

// Machine classifies the regime of one instrument from its structure events.
// It never blocks other components.
type Machine struct {
	table   Transitions
	state   State
	history []Transition
}

// NewMachine starts in Unknown.
func NewMachine(table Transitions) *Machine {
	return &Machine{table: table, state: State{Phase: Unknown}}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	s := m.state
	s.Events = append([]string(nil), m.state.Events...)
	return s
}

// History returns the transitions taken so far.
func (m *Machine) History() []Transition {
	return append([]Transition(nil), m.history...)
}

// Apply feeds one event and returns the transitions it caused. Events that do
// not match an edge leave the phase as is.
func (m *Machine) Apply(ev structure.Event) []Transition {
	cur := m.state.Phase

	if cur.Terminal() {
		to, ok := m.table.next(Unknown, ev)
		if !ok || !to.Entry() || to.Family() != cur.Family().Opposite() {
			m.support(ev)
			return nil
		}
		reset := m.move(cur, Unknown, ev)
		enter := m.move(Unknown, to, ev)
		return []Transition{reset, enter}
	}

	to, ok := m.table.next(cur, ev)
	if !ok {
		m.support(ev)
		return nil
	}
	return []Transition{m.move(cur, to, ev)}
}

func (m *Machine) move(from, to Phase, ev structure.Event) Transition {
	tr := Transition{From: from, To: to, At: ev.Time, EventID: ev.ID}
	m.history = append(m.history, tr)
	if len(m.history) > maxHistory {
		m.history = append([]Transition(nil), m.history[len(m.history)-maxHistory:]...)
	}
	m.state = State{Phase: to, EnteredAt: ev.Time, Events: []string{ev.ID}}
	return tr
}

func (m *Machine) support(ev structure.Event) {
	m.state.Events = append(m.state.Events, ev.ID)
	if len(m.state.Events) > maxSupport {
		m.state.Events = append([]string(nil), m.state.Events[len(m.state.Events)-maxSupport:]...)
	}
}
