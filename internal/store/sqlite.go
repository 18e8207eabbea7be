package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seantiz/enginehost/internal/model"

	_ "modernc.org/sqlite"
)

const createTransitionsTable = `
CREATE TABLE IF NOT EXISTS transitions (
    id         TEXT PRIMARY KEY,
    from_state INTEGER NOT NULL,
    to_state   INTEGER NOT NULL,
    reason     TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

const createShutdownSessionsTable = `
CREATE TABLE IF NOT EXISTS shutdown_sessions (
    id               TEXT PRIMARY KEY,
    without_checks   INTEGER NOT NULL,
    pre_shutdown_ran INTEGER NOT NULL,
    dispose_errors   INTEGER NOT NULL,
    outstanding      TEXT NOT NULL,
    drain_waited     INTEGER NOT NULL,
    drain_timed_out  INTEGER NOT NULL,
    drain_ms         INTEGER NOT NULL,
    started_at       DATETIME NOT NULL,
    finished_at      DATETIME
)`

const sessionColumns = `id, without_checks, pre_shutdown_ran, dispose_errors, outstanding,
			drain_waited, drain_timed_out, drain_ms, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createTransitionsTable, createShutdownSessionsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordTransition appends a lifecycle transition to the journal.
func (s *SQLiteStore) RecordTransition(ctx context.Context, t model.Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, from_state, to_state, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, int(t.From), int(t.To), t.Reason, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns a page of transitions in the order they happened,
// along with the total count.
func (s *SQLiteStore) ListTransitions(ctx context.Context, limit, offset int) ([]model.Transition, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM transitions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transitions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, from_state, to_state, reason, created_at
		FROM transitions ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	transitions := []model.Transition{}
	for rows.Next() {
		var t model.Transition
		var from, to int
		if err := rows.Scan(&t.ID, &from, &to, &t.Reason, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan transition: %w", err)
		}
		t.From, t.To = model.EngineState(from), model.EngineState(to)
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transitions: %w", err)
	}

	return transitions, total, nil
}

// SaveShutdownSession inserts the session or replaces an earlier save of it.
func (s *SQLiteStore) SaveShutdownSession(ctx context.Context, sess *model.ShutdownSession) error {
	outstanding, err := json.Marshal(sess.Outstanding)
	if err != nil {
		return fmt.Errorf("encode outstanding handles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO shutdown_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.WithoutChecks, sess.PreShutdownRan, sess.DisposeErrors, string(outstanding),
		sess.DrainWaited, sess.DrainTimedOut, sess.DrainMS, sess.StartedAt, sess.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save shutdown session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.ShutdownSession, error) {
	sess := &model.ShutdownSession{}
	var outstanding string
	if err := row.Scan(
		&sess.ID, &sess.WithoutChecks, &sess.PreShutdownRan, &sess.DisposeErrors, &outstanding,
		&sess.DrainWaited, &sess.DrainTimedOut, &sess.DrainMS, &sess.StartedAt, &sess.FinishedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outstanding), &sess.Outstanding); err != nil {
		return nil, fmt.Errorf("decode outstanding handles: %w", err)
	}
	return sess, nil
}

// GetShutdownSession retrieves a shutdown session by ID.
func (s *SQLiteStore) GetShutdownSession(ctx context.Context, id string) (*model.ShutdownSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM shutdown_sessions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shutdown session: %w", err)
	}
	return sess, nil
}

// ListShutdownSessions returns a page of sessions, newest first, along with
// the total count.
func (s *SQLiteStore) ListShutdownSessions(ctx context.Context, limit, offset int) ([]*model.ShutdownSession, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM shutdown_sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count shutdown sessions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM shutdown_sessions
		ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list shutdown sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.ShutdownSession{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan shutdown session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate shutdown sessions: %w", err)
	}

	return sessions, total, nil
}

// GetJournalStats aggregates the journal.
func (s *SQLiteStore) GetJournalStats(ctx context.Context) (*JournalStats, error) {
	stats := &JournalStats{CountByTarget: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT to_state, COUNT(*) FROM transitions GROUP BY to_state")
	if err != nil {
		return nil, fmt.Errorf("count transitions by state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state, n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan transition count: %w", err)
		}
		stats.CountByTarget[model.EngineState(state).String()] = n
		stats.Transitions += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition counts: %w", err)
	}
	rows.Close()

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(drain_timed_out), 0),
			COALESCE(SUM(without_checks), 0),
			COALESCE(SUM(dispose_errors), 0),
			AVG(CASE WHEN drain_waited THEN drain_ms END)
		FROM shutdown_sessions`,
	).Scan(&stats.Sessions, &stats.DrainTimeouts, &stats.UncheckedCount, &stats.DisposeFailures, &avg)
	if err != nil {
		return nil, fmt.Errorf("aggregate shutdown sessions: %w", err)
	}
	if avg.Valid {
		stats.AvgDrainMS = avg.Float64
	}

	return stats, nil
}
