// api/schemas/verification.go
package schemas

// RecoveryAction is the closed set of UI-unblocking procedures the engine may
// run when the vision oracle reports the page is not ready. Keeping the set
// enumerated keeps recovery deterministic and testable.
type RecoveryAction string

const (
	RecoveryNone           RecoveryAction = "none"
	RecoveryCloseModal     RecoveryAction = "close_modal"
	RecoveryScrollIntoView RecoveryAction = "scroll_into_view"
	RecoveryWaitForLoading RecoveryAction = "wait_for_loading"
	RecoveryClickOverlay   RecoveryAction = "click_overlay"
	RecoveryRefreshPage    RecoveryAction = "refresh_page"
	RecoveryRetry          RecoveryAction = "retry"
)

// StepContext is the step metadata submitted to the vision oracle alongside a
// screenshot.
type StepContext struct {
	Type            StepType `json:"type"`
	Target          string   `json:"target,omitempty"`
	Description     string   `json:"description"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
}

// Verdict is the structured readiness judgment returned by the vision oracle.
type Verdict struct {
	Ready          bool           `json:"ready"`
	Issue          string         `json:"issue,omitempty"`
	Suggestion     string         `json:"suggestion,omitempty"`
	RecoveryAction RecoveryAction `json:"recovery_action"`
	Confidence     float64        `json:"confidence"`
	Analysis       string         `json:"analysis,omitempty"`
}
