// api/schemas/session.go
package schemas

import "time"

// SessionState is the top-level lifecycle state of an agent session.
// Waiting and recovering phases are observable only through events; they are
// not modeled as distinct states here.
type SessionState string

const (
	SessionIdle         SessionState = "idle"
	SessionInitializing SessionState = "initializing"
	SessionExecuting    SessionState = "executing"
	SessionPaused       SessionState = "paused"
	SessionCompleted    SessionState = "completed"
	SessionFailed       SessionState = "failed"
	SessionCancelled    SessionState = "cancelled"
)

// IsTerminal reports whether the state admits no further transitions.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// IsActive reports whether the session is still driving (or able to drive)
// its step loop.
func (s SessionState) IsActive() bool {
	return s == SessionInitializing || s == SessionExecuting || s == SessionPaused
}

// StepStatus is the per-step execution state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepRetrying  StepStatus = "retrying"
)

// IsTerminal reports whether the step has reached a final status.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// StepExecution is the mutable record paired 1:1 with a plan step. Records are
// pre-populated at session start and never reordered.
type StepExecution struct {
	StepID           string                 `json:"step_id"`
	Order            int                    `json:"order"`
	Status           StepStatus             `json:"status"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	DurationMs       int64                  `json:"duration_ms"`
	Result           map[string]interface{} `json:"result,omitempty"`
	Error            string                 `json:"error,omitempty"`
	ScreenshotBefore []byte                 `json:"screenshot_before,omitempty"`
	ScreenshotAfter  []byte                 `json:"screenshot_after,omitempty"`
	Retries          int                    `json:"retries"`
}

// SessionConfig holds the per-session execution knobs.
type SessionConfig struct {
	MaxSteps          int           `json:"max_steps"`
	MaxRetriesPerStep int           `json:"max_retries_per_step"`
	StepTimeout       time.Duration `json:"step_timeout"`
	InterStepPause    time.Duration `json:"inter_step_pause"`
	AutoScreenshot    bool          `json:"auto_screenshot"`
	EnableRecovery    bool          `json:"enable_recovery"`
	// FailFast escalates a step failure to a session failure. Off by default:
	// a walkthrough should produce a partial artifact rather than abort on one
	// flaky selector.
	FailFast bool `json:"fail_fast"`
}

// DefaultSessionConfig mirrors the tuning the product ships with.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxSteps:          100,
		MaxRetriesPerStep: 3,
		StepTimeout:       30 * time.Second,
		InterStepPause:    500 * time.Millisecond,
		AutoScreenshot:    true,
		EnableRecovery:    true,
	}
}

// SessionSnapshot is the read-only view returned by status queries.
type SessionSnapshot struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	PlanID           string          `json:"plan_id"`
	BrowserSessionID string          `json:"browser_session_id,omitempty"`
	State            SessionState    `json:"state"`
	CurrentStep      int             `json:"current_step"`
	TotalSteps       int             `json:"total_steps"`
	Steps            []StepExecution `json:"steps"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Error            string          `json:"error,omitempty"`
}
