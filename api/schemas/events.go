// api/schemas/events.go
package schemas

import "time"

// EventType tags every lifecycle event the engine emits. Downstream
// recording and export stages key their behavior off these tags, so the
// strings are part of the public contract.
type EventType string

const (
	EventSessionCreated     EventType = "SESSION_CREATED"
	EventExecutionStarted   EventType = "EXECUTION_STARTED"
	EventStepStarted        EventType = "STEP_STARTED"
	EventStepCompleted      EventType = "STEP_COMPLETED"
	EventStepFailed         EventType = "STEP_FAILED"
	EventStepSkipped        EventType = "STEP_SKIPPED"
	EventFeatureMilestone   EventType = "FEATURE_MILESTONE"
	EventExecutionPaused    EventType = "EXECUTION_PAUSED"
	EventExecutionResumed   EventType = "EXECUTION_RESUMED"
	EventExecutionCancelled EventType = "EXECUTION_CANCELLED"
	EventExecutionCompleted EventType = "EXECUTION_COMPLETED"
	EventExecutionFailed    EventType = "EXECUTION_FAILED"
	EventRecoveryAttempted  EventType = "RECOVERY_ATTEMPTED"
	EventRecordingFrame     EventType = "RECORDING_FRAME"
)

// Event is an immutable lifecycle record. Within a session, emission order is
// the only ordering guarantee; no ordering holds across sessions.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
