package model

import "time"

// Transition records one lifecycle state change.
type Transition struct {
	ID        string      `json:"id"`
	From      EngineState `json:"from"`
	To        EngineState `json:"to"`
	Reason    string      `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ShutdownSession is the record of a single shutdown pass.
type ShutdownSession struct {
	ID             string     `json:"id"`
	WithoutChecks  bool       `json:"without_checks"`
	PreShutdownRan bool       `json:"pre_shutdown_ran"`
	DisposeErrors  int        `json:"dispose_errors"`
	Outstanding    []string   `json:"outstanding,omitempty"`
	DrainWaited    bool       `json:"drain_waited"`
	DrainTimedOut  bool       `json:"drain_timed_out"`
	DrainMS        int        `json:"drain_ms"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Done reports whether the session reached the terminal state.
func (s *ShutdownSession) Done() bool {
	return s.FinishedAt != nil
}
