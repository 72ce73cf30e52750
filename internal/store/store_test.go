// internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

// flexibleSQLMatcher creates a regex insensitive to whitespace for robust SQL
// mock matching.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func terminalSnapshot() schemas.SessionSnapshot {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	completed := created.Add(time.Minute)
	return schemas.SessionSnapshot{
		ID:               "sess-1",
		ProjectID:        "proj-1",
		PlanID:           "plan-1",
		BrowserSessionID: "browser-1",
		State:            schemas.SessionCompleted,
		TotalSteps:       2,
		Steps: []schemas.StepExecution{
			{StepID: "s0", Order: 0, Status: schemas.StepCompleted, StartedAt: &started, CompletedAt: &completed, DurationMs: 900,
				Result: map[string]interface{}{"page_url": "https://app.example.com"}},
			{StepID: "s1", Order: 1, Status: schemas.StepFailed, StartedAt: &started, CompletedAt: &completed, Error: "selector vanished", Retries: 3},
		},
		CreatedAt:   created,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
}

func sessionEvents() []schemas.Event {
	return []schemas.Event{
		{ID: "ev-1", Type: schemas.EventExecutionStarted, SessionID: "sess-1", Timestamp: time.Now().UTC()},
		{ID: "ev-2", Type: schemas.EventExecutionCompleted, SessionID: "sess-1", Timestamp: time.Now().UTC()},
	}
}

func TestNew_PingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestArchiveSession(t *testing.T) {
	s, mockPool := newMockStore(t)
	snap := terminalSnapshot()
	events := sessionEvents()

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO agent_sessions")).
		WithArgs(snap.ID, snap.ProjectID, snap.PlanID, snap.BrowserSessionID,
			string(snap.State), snap.TotalSteps, snap.Error,
			snap.CreatedAt.UTC(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"agent_session_steps"},
		[]string{"session_id", "step_id", "step_order", "status", "started_at", "completed_at", "duration_ms", "result", "error", "retries"}).
		WillReturnResult(2)
	mockPool.ExpectCopyFrom(pgx.Identifier{"agent_session_events"},
		[]string{"id", "session_id", "event_type", "data", "emitted_at"}).
		WillReturnResult(2)
	mockPool.ExpectCommit()
	mockPool.ExpectRollback() // deferred rollback on the committed tx is a no-op

	err := s.ArchiveSession(context.Background(), snap, events)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestArchiveSession_RefusesActiveSession(t *testing.T) {
	s, mockPool := newMockStore(t)
	snap := terminalSnapshot()
	snap.State = schemas.SessionExecuting

	err := s.ArchiveSession(context.Background(), snap, nil)
	assert.Error(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestArchiveSession_CopyCountMismatch(t *testing.T) {
	s, mockPool := newMockStore(t)
	snap := terminalSnapshot()

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO agent_sessions")).
		WithArgs(snap.ID, snap.ProjectID, snap.PlanID, snap.BrowserSessionID,
			string(snap.State), snap.TotalSteps, snap.Error,
			snap.CreatedAt.UTC(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"agent_session_steps"},
		[]string{"session_id", "step_id", "step_order", "status", "started_at", "completed_at", "duration_ms", "result", "error", "retries"}).
		WillReturnResult(1) // only one of two rows landed
	mockPool.ExpectRollback()

	err := s.ArchiveSession(context.Background(), snap, nil)
	assert.ErrorContains(t, err, "mismatch")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestArchiveSession_BeginFailure(t *testing.T) {
	s, mockPool := newMockStore(t)

	mockPool.ExpectBegin().WillReturnError(errors.New("too many connections"))
	err := s.ArchiveSession(context.Background(), terminalSnapshot(), nil)
	assert.ErrorContains(t, err, "begin")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher("CREATE TABLE IF NOT EXISTS agent_sessions")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	assert.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
