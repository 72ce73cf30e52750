// api/schemas/plan.go
package schemas

import "time"

// StepType enumerates the planned walkthrough step kinds. The set is a
// superset of the browser ActionType: narration and assertion steps have no
// browser-side action at all.
type StepType string

const (
	StepNavigate   StepType = "navigate"
	StepClick      StepType = "click"
	StepInput      StepType = "type"
	StepScroll     StepType = "scroll"
	StepWait       StepType = "wait"
	StepScreenshot StepType = "screenshot"
	StepHover      StepType = "hover"
	StepAssert     StepType = "assert"
	StepNarrate    StepType = "narrate"
)

// IsStateSensitive reports whether the step's success depends on the page
// being in a specific visual state, and therefore warrants pre-execution
// verification. Narration, waits, and plain screenshots succeed regardless of
// what the page shows.
func (t StepType) IsStateSensitive() bool {
	switch t {
	case StepNarrate, StepWait, StepScreenshot:
		return false
	default:
		return true
	}
}

// RequiresAction reports whether the step maps to a browser action. Narration
// and assertions are evaluated engine-side only.
func (t StepType) RequiresAction() bool {
	switch t {
	case StepNarrate, StepAssert:
		return false
	default:
		return true
	}
}

// PlanStep is one planned instruction in a walkthrough. Order is the
// zero-based position within the plan and is unique per plan.
type PlanStep struct {
	ID              string   `json:"id"`
	Order           int      `json:"order"`
	Type            StepType `json:"type"`
	Description     string   `json:"description"`
	Target          string   `json:"target,omitempty"`
	Value           string   `json:"value,omitempty"`
	PostWaitMs      int      `json:"post_wait_ms,omitempty"`
	ScreenshotAfter bool     `json:"screenshot_after,omitempty"`
	Narration       string   `json:"narration,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
}

// Milestone marks a contiguous step range demonstrating one product feature.
// The milestone fires when the step at EndStep finishes, regardless of that
// step's outcome.
type Milestone struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	StartStep   int    `json:"start_step"`
	EndStep     int    `json:"end_step"`
	Importance  string `json:"importance,omitempty"`
}

// Plan is an immutable, pre-generated walkthrough script. The engine treats
// plans as read-only: it never writes a plan back to its store.
type Plan struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"project_id"`
	Title      string      `json:"title,omitempty"`
	StartURL   string      `json:"start_url"`
	Steps      []PlanStep  `json:"steps"`
	Milestones []Milestone `json:"milestones,omitempty"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`
}
