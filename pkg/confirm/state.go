package confirm

import (
	"errors"
	"fmt"
)

// State is where one confirmation run stands, from the confirming nym's view.
type State int

const (
	StateTemplate State = iota
	StateAccountsPending
	StatePartySigned
	StateAllConfirmed
	StateActivated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateTemplate:
		return "TEMPLATE"
	case StateAccountsPending:
		return "ACCOUNTS_PENDING"
	case StatePartySigned:
		return "PARTY_SIGNED"
	case StateAllConfirmed:
		return "ALL_CONFIRMED"
	case StateActivated:
		return "ACTIVATED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateTemplate:        {StateAccountsPending, StatePartySigned, StateFailed},
	StateAccountsPending: {StatePartySigned, StateFailed},
	StatePartySigned:     {StateAllConfirmed, StateFailed},
	StateAllConfirmed:    {StateActivated, StateFailed},
}

// Machine tracks one run. Activated, Failed and a forwarded PartySigned are terminal.
type Machine struct {
	state   State
	history []State
}

func NewMachine() *Machine {
	return &Machine{state: StateTemplate, history: []State{StateTemplate}}
}

func (m *Machine) State() State { return m.state }

// History returns every state the run passed through, in order.
func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

func (m *Machine) To(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			m.history = append(m.history, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
}

// Outcome is the result reported to the command layer.
type Outcome int

const (
	Failure  Outcome = -1
	NoAction Outcome = 0
	Success  Outcome = 1
)

func (o Outcome) String() string {
	switch o {
	case Failure:
		return "failure"
	case NoAction:
		return "no action"
	case Success:
		return "success"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
