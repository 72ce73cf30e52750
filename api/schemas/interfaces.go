// api/schemas/interfaces.go
package schemas

import "context"

// ActionExecutor executes browser primitives against one live browser
// session. Implementations must support screenshot capture independent of
// action execution; Close must be safe to call exactly once.
type ActionExecutor interface {
	// Execute runs a single action and reports its outcome. A non-nil error
	// signals an executor-level fault (lost handle, cancelled context); action
	// failures such as a missing selector are reported in the result.
	Execute(ctx context.Context, action BrowserAction) (*ActionResult, error)
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the underlying browser resources.
	Close(ctx context.Context) error
	// ID identifies the underlying browser session for status queries.
	ID() string
}

// ExecutorProvider acquires a browser handle for a new session. Acquisition
// failure is a setup failure: the session goes straight to failed.
type ExecutorProvider interface {
	Acquire(ctx context.Context, startURL string) (ActionExecutor, error)
}

// VisionOracle judges from a screenshot whether the page is ready for a
// planned step. Callers must tolerate oracle unavailability: verification is
// a quality gate, not a hard dependency.
type VisionOracle interface {
	Verify(ctx context.Context, screenshot []byte, step StepContext) (*Verdict, error)
}

// PlanStore supplies execution plans. The engine reads a plan exactly once at
// session start and never writes back.
type PlanStore interface {
	GetPlan(ctx context.Context, planID string) (*Plan, error)
}

// EventSink receives the engine's lifecycle event stream. Delivery is
// fire-and-forget with at-least-once semantics; a sink error must never abort
// step execution.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}
