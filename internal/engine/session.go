// internal/engine/session.go
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

// Session is one running (or completed) walkthrough-generation attempt. It is
// mutated only by the engine's single execution goroutine plus the command
// handlers, all of which synchronize on the session mutex. The pause gate is
// the only other cross-goroutine signal.
type Session struct {
	ID        string
	ProjectID string
	PlanID    string
	Config    schemas.SessionConfig

	plan *schemas.Plan
	gate *pauseGate

	mu               sync.RWMutex
	cancel           context.CancelFunc
	state            schemas.SessionState
	browserSessionID string
	currentStep      int
	steps            []*schemas.StepExecution
	events           []schemas.Event
	createdAt        time.Time
	startedAt        *time.Time
	completedAt      *time.Time
	errMsg           string
	milestonesFired  map[string]bool
	lastScreenshot   []byte
}

// newSession pre-populates one pending step execution record per plan step.
// Records are owned 1:1 by plan steps and never reordered.
func newSession(projectID string, plan *schemas.Plan, cfg schemas.SessionConfig) *Session {
	steps := make([]*schemas.StepExecution, 0, len(plan.Steps))
	for _, ps := range plan.Steps {
		steps = append(steps, &schemas.StepExecution{
			StepID: ps.ID,
			Order:  ps.Order,
			Status: schemas.StepPending,
		})
	}

	return &Session{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		PlanID:          plan.ID,
		Config:          cfg,
		plan:            plan,
		gate:            newPauseGate(),
		state:           schemas.SessionIdle,
		steps:           steps,
		createdAt:       time.Now().UTC(),
		milestonesFired: make(map[string]bool),
	}
}

// arm installs the run cancel function exactly once. A second call means the
// session was already started.
func (s *Session) arm(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	s.cancel = cancel
	return true
}

// cancelRun cancels the run context if the session was started via Start.
func (s *Session) cancelRun() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the current lifecycle state.
func (s *Session) State() schemas.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// transition moves the session to a new state. Terminal states are sticky:
// once completed, failed, or cancelled, no further transition is possible.
func (s *Session) transition(to schemas.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return false
	}
	s.state = to
	return true
}

// transitionFrom moves to a new state only when the current state matches.
func (s *Session) transitionFrom(from, to schemas.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Session) markStarted(browserSessionID string) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browserSessionID = browserSessionID
	s.startedAt = &now
}

// markTerminal stamps completed-at alongside a terminal state. Returns false
// when the session is already terminal.
func (s *Session) markTerminal(state schemas.SessionState, errMsg string) bool {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return false
	}
	s.state = state
	s.completedAt = &now
	if errMsg != "" {
		s.errMsg = errMsg
	}
	return true
}

func (s *Session) setCurrentStep(i int) {
	s.mu.Lock()
	s.currentStep = i
	s.mu.Unlock()
}

// CurrentStep returns the index of the step the loop is on.
func (s *Session) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStep
}

// stepStatus returns the status of the record at the given plan order.
func (s *Session) stepStatus(i int) schemas.StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.steps) {
		return ""
	}
	return s.steps[i].Status
}

// beginStep transitions a record out of pending (or retrying) into running and
// stamps started-at on the first attempt. Returns false if the record already
// reached a terminal status, e.g. it was skipped by a command.
func (s *Session) beginStep(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.steps[i]
	if rec.Status.IsTerminal() {
		return false
	}
	if rec.StartedAt == nil {
		now := time.Now().UTC()
		rec.StartedAt = &now
	}
	rec.Status = schemas.StepRunning
	return true
}

// completeStep finalizes a running record as completed. A record skipped
// mid-flight keeps its skipped status.
func (s *Session) completeStep(i int, result map[string]interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.steps[i]
	if rec.Status != schemas.StepRunning {
		return false
	}
	now := time.Now().UTC()
	rec.Status = schemas.StepCompleted
	rec.CompletedAt = &now
	rec.Result = result
	if rec.StartedAt != nil {
		rec.DurationMs = now.Sub(*rec.StartedAt).Milliseconds()
	}
	return true
}

// retryStep moves a running record to retrying, consuming one retry.
func (s *Session) retryStep(i int, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.steps[i]
	if rec.Status != schemas.StepRunning {
		return
	}
	rec.Status = schemas.StepRetrying
	rec.Retries++
	rec.Error = errMsg
}

// failStep finalizes a record as failed after retries are exhausted.
func (s *Session) failStep(i int, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.steps[i]
	if rec.Status.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	rec.Status = schemas.StepFailed
	rec.CompletedAt = &now
	rec.Error = errMsg
	if rec.StartedAt != nil {
		rec.DurationMs = now.Sub(*rec.StartedAt).Milliseconds()
	}
	return true
}

// skipStep marks a not-yet-completed record as skipped. A no-op on records
// that already reached a terminal status, so skipping a completed step never
// rewrites history.
func (s *Session) skipStep(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.steps) {
		return false
	}
	rec := s.steps[i]
	if rec.Status.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	rec.Status = schemas.StepSkipped
	rec.CompletedAt = &now
	return true
}

func (s *Session) setScreenshots(i int, before, after []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.steps[i]
	if before != nil {
		rec.ScreenshotBefore = before
	}
	if after != nil {
		rec.ScreenshotAfter = after
	}
}

func (s *Session) setLastScreenshot(shot []byte) {
	s.mu.Lock()
	s.lastScreenshot = shot
	s.mu.Unlock()
}

// LastScreenshot returns the most recent capture, for status queries and the
// frame streamer.
func (s *Session) LastScreenshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastScreenshot
}

func (s *Session) appendEvent(ev schemas.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

// Events returns a copy of the emitted event list in emission order.
func (s *Session) Events() []schemas.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schemas.Event, len(s.events))
	copy(out, s.events)
	return out
}

// closingMilestones returns milestones whose end step equals the given order
// and which have not fired yet this run. A step may close several milestones;
// each fires at most once.
func (s *Session) closingMilestones(order int) []schemas.Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schemas.Milestone
	for _, m := range s.plan.Milestones {
		if m.EndStep != order || s.milestonesFired[m.ID] {
			continue
		}
		s.milestonesFired[m.ID] = true
		out = append(out, m)
	}
	return out
}

// Snapshot returns a consistent read-only view for status queries. It never
// mutates session state.
func (s *Session) Snapshot() schemas.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make([]schemas.StepExecution, len(s.steps))
	for i, rec := range s.steps {
		steps[i] = *rec
	}

	return schemas.SessionSnapshot{
		ID:               s.ID,
		ProjectID:        s.ProjectID,
		PlanID:           s.PlanID,
		BrowserSessionID: s.browserSessionID,
		State:            s.state,
		CurrentStep:      s.currentStep,
		TotalSteps:       len(s.steps),
		Steps:            steps,
		CreatedAt:        s.createdAt,
		StartedAt:        s.startedAt,
		CompletedAt:      s.completedAt,
		Error:            s.errMsg,
	}
}
