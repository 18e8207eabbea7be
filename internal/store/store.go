package store

import (
	"context"
	"errors"

	"github.com/seantiz/enginehost/internal/model"
)

// ErrNotFound is returned when a shutdown session is not found.
var ErrNotFound = errors.New("not found")

// JournalStats holds aggregate lifecycle statistics.
type JournalStats struct {
	Transitions     int            `json:"transitions"`
	CountByTarget   map[string]int `json:"count_by_target"`
	Sessions        int            `json:"sessions"`
	DrainTimeouts   int            `json:"drain_timeouts"`
	AvgDrainMS      float64        `json:"avg_drain_ms"`
	UncheckedCount  int            `json:"unchecked_shutdowns"`
	DisposeFailures int            `json:"dispose_failures"`
}

// Store defines the persistence operations of the lifecycle journal.
type Store interface {
	RecordTransition(ctx context.Context, t model.Transition) error
	ListTransitions(ctx context.Context, limit, offset int) ([]model.Transition, int, error)
	SaveShutdownSession(ctx context.Context, s *model.ShutdownSession) error
	GetShutdownSession(ctx context.Context, id string) (*model.ShutdownSession, error)
	ListShutdownSessions(ctx context.Context, limit, offset int) ([]*model.ShutdownSession, int, error)
	GetJournalStats(ctx context.Context) (*JournalStats, error)
	Close() error
}
