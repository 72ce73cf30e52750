// api/schemas/browser.go
package schemas

import "time"

// ActionType enumerates the browser primitives the action executor supports.
type ActionType string

const (
	ActionNavigate   ActionType = "navigate"
	ActionClick      ActionType = "click"
	ActionInput      ActionType = "type" // type text into the target element
	ActionScroll     ActionType = "scroll"
	ActionWait       ActionType = "wait"
	ActionScreenshot ActionType = "screenshot"
	ActionHover      ActionType = "hover"
	ActionPressKey   ActionType = "press_key"
	ActionReload     ActionType = "reload"
)

// BrowserAction is one concrete instruction for the action executor.
// Target carries a CSS selector for element actions and a URL for navigation.
type BrowserAction struct {
	ID       string                 `json:"id"`
	Type     ActionType             `json:"type"`
	Target   string                 `json:"target,omitempty"`
	Value    string                 `json:"value,omitempty"`
	Timeout  time.Duration          `json:"timeout,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ActionResult is the standardized outcome of a single executed action.
type ActionResult struct {
	ActionID   string                 `json:"action_id"`
	Success    bool                   `json:"success"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	PageURL    string                 `json:"page_url,omitempty"`
	PageTitle  string                 `json:"page_title,omitempty"`
}
