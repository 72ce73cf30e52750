// internal/store/store.go

// Package store archives finished sessions to PostgreSQL. Archival happens
// once per session after it reaches a terminal state; the live engine never
// reads the database.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL archival implementation.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const sqlInsertSession = `
	INSERT INTO agent_sessions (id, project_id, plan_id, browser_session_id, state, total_steps, error, created_at, started_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		browser_session_id = EXCLUDED.browser_session_id,
		error = EXCLUDED.error,
		started_at = EXCLUDED.started_at,
		completed_at = EXCLUDED.completed_at;
`

// ArchiveSession persists the session snapshot, its step records, and its
// event stream in one transaction.
func (s *Store) ArchiveSession(ctx context.Context, snap schemas.SessionSnapshot, events []schemas.Event) error {
	if !snap.State.IsTerminal() {
		return fmt.Errorf("refusing to archive session %s in non-terminal state %s", snap.ID, snap.State)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertSession,
		snap.ID, snap.ProjectID, snap.PlanID, snap.BrowserSessionID,
		string(snap.State), snap.TotalSteps, snap.Error,
		snap.CreatedAt.UTC(), utcOrNil(snap.StartedAt), utcOrNil(snap.CompletedAt),
	); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if len(snap.Steps) > 0 {
		if err := s.archiveSteps(ctx, tx, snap.ID, snap.Steps); err != nil {
			return err
		}
	}
	if len(events) > 0 {
		if err := s.archiveEvents(ctx, tx, events); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Session archived.",
		zap.String("session_id", snap.ID),
		zap.Int("steps", len(snap.Steps)),
		zap.Int("events", len(events)))
	return nil
}

func (s *Store) archiveSteps(ctx context.Context, tx pgx.Tx, sessionID string, steps []schemas.StepExecution) error {
	rows := make([][]interface{}, len(steps))
	for i, st := range steps {
		result, err := json.Marshal(st.Result)
		if err != nil || st.Result == nil {
			result = []byte("{}")
		}
		rows[i] = []interface{}{
			sessionID, st.StepID, st.Order, string(st.Status),
			utcOrNil(st.StartedAt), utcOrNil(st.CompletedAt),
			st.DurationMs, result, st.Error, st.Retries,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"agent_session_steps"},
		[]string{"session_id", "step_id", "step_order", "status", "started_at", "completed_at", "duration_ms", "result", "error", "retries"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy session steps: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied step count: expected %d, got %d", len(steps), copyCount)
	}
	return nil
}

func (s *Store) archiveEvents(ctx context.Context, tx pgx.Tx, events []schemas.Event) error {
	rows := make([][]interface{}, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil || ev.Data == nil {
			data = []byte("{}")
		}
		rows[i] = []interface{}{
			ev.ID, ev.SessionID, string(ev.Type), data, ev.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"agent_session_events"},
		[]string{"id", "session_id", "event_type", "data", "emitted_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy session events: %w", err)
	}
	if int(copyCount) != len(events) {
		return fmt.Errorf("mismatch in copied event count: expected %d, got %d", len(events), copyCount)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	plan_id TEXT NOT NULL,
	browser_session_id TEXT,
	state TEXT NOT NULL,
	total_steps INT NOT NULL,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS agent_session_steps (
	session_id TEXT NOT NULL REFERENCES agent_sessions(id),
	step_id TEXT NOT NULL,
	step_order INT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	result JSONB NOT NULL DEFAULT '{}',
	error TEXT,
	retries INT NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, step_order)
);
CREATE TABLE IF NOT EXISTS agent_session_events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}',
	emitted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON agent_session_events (session_id, emitted_at);
`

// EnsureSchema creates the archival tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
