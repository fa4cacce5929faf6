package lifecycle

import "github.com/pkg/errors"

// State is the lifecycle position of one array. Transitions only happen
// through Advance; there are no implicit background transitions.
type State int

const (
	StatePlanned State = iota
	StateCreated
	StateFormatted
	StateMounted
	StateRegistered
	StateUnmounting
	StateStopped
	StateWiped
)

var stateNames = map[State]string{
	StatePlanned:    "Planned",
	StateCreated:    "Created",
	StateFormatted:  "Formatted",
	StateMounted:    "Mounted",
	StateRegistered: "Registered",
	StateUnmounting: "Unmounting",
	StateStopped:    "Stopped",
	StateWiped:      "Wiped",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// transitions is the full table. Apply walks Planned through Registered;
// teardown enters at Unmounting from any assembled state and runs to Wiped.
var transitions = map[State][]State{
	StatePlanned:    {StateCreated},
	StateCreated:    {StateFormatted, StateUnmounting},
	StateFormatted:  {StateMounted, StateUnmounting},
	StateMounted:    {StateRegistered, StateUnmounting},
	StateRegistered: {StateUnmounting},
	StateUnmounting: {StateStopped},
	StateStopped:    {StateWiped},
}

// Advance validates a single transition. Once an array reaches Stopped the
// assembly is gone and no path leads back: the step function refuses any
// reversal past that boundary instead of attempting exception-driven
// cleanup.
func (s State) Advance(to State) (State, error) {
	if to <= s {
		return s, errors.Errorf("refusing to reverse lifecycle state %s -> %s", s, to)
	}
	for _, next := range transitions[s] {
		if next == to {
			return to, nil
		}
	}
	return s, errors.Errorf("invalid lifecycle transition %s -> %s", s, to)
}
