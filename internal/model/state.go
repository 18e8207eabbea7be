package model

import "fmt"

// EngineState is the process-wide lifecycle state of the embedded engine.
// Values are ordered so that callers may compare with < and >=.
type EngineState int32

// Engine lifecycle states.
const (
	StateUninitialized EngineState = iota
	StateInitializing
	StateInitialized
	StateShuttingDown
	StateShutdown
)

var stateNames = map[EngineState]string{
	StateUninitialized: "uninitialized",
	StateInitializing:  "initializing",
	StateInitialized:   "initialized",
	StateShuttingDown:  "shutting_down",
	StateShutdown:      "shutdown",
}

func (s EngineState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name for JSON and logs.
func (s EngineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name as produced by String.
func (s *EngineState) UnmarshalText(text []byte) error {
	v, err := ParseEngineState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseEngineState resolves a state name.
func ParseEngineState(name string) (EngineState, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown engine state %q", name)
}

// Terminal reports whether no further transition can leave s.
func (s EngineState) Terminal() bool {
	return s == StateShutdown
}

// validTransitions maps each state to the set of states it may transition to.
// Initializing -> Uninitialized is the rollback edge taken when the native
// engine refuses to start; it is the only backward edge.
var validTransitions = map[EngineState]map[EngineState]bool{
	StateUninitialized: {
		StateInitializing: true,
	},
	StateInitializing: {
		StateInitialized:   true,
		StateUninitialized: true,
		StateShuttingDown:  true,
	},
	StateInitialized: {
		StateShuttingDown: true,
	},
	StateShuttingDown: {
		StateShutdown: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to EngineState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
