// internal/engine/commands.go
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

// ErrSessionNotFound is returned by commands addressing an unknown session ID.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Pause shuts the session's gate so the loop halts at the next step boundary.
// The step in flight (if any) runs to completion first. Pausing a session
// that is not executing is a no-op reported to the caller.
func (e *Engine) Pause(ctx context.Context, sessionID string) (bool, error) {
	sess, ok := e.registry.Get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	if !sess.transitionFrom(schemas.SessionExecuting, schemas.SessionPaused) {
		return false, nil
	}
	sess.gate.Shut()
	e.emit(ctx, sess, schemas.EventExecutionPaused, map[string]interface{}{
		"at_step": sess.CurrentStep(),
	})
	e.logger.Info("Session paused.",
		zap.String("session_id", sessionID),
		zap.Int("at_step", sess.CurrentStep()))
	return true, nil
}

// Resume reopens a paused session's gate. A no-op on any other state.
func (e *Engine) Resume(ctx context.Context, sessionID string) (bool, error) {
	sess, ok := e.registry.Get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	if !sess.transitionFrom(schemas.SessionPaused, schemas.SessionExecuting) {
		return false, nil
	}
	sess.gate.Open()
	e.emit(ctx, sess, schemas.EventExecutionResumed, map[string]interface{}{
		"at_step": sess.CurrentStep(),
	})
	e.logger.Info("Session resumed.",
		zap.String("session_id", sessionID),
		zap.Int("at_step", sess.CurrentStep()))
	return true, nil
}

// Stop cancels a session. The terminal state and EXECUTION_CANCELLED event
// are committed here so the stop is observable immediately; the execution
// loop notices the cancelled run context and exits, releasing the browser.
// Stopping an already-terminal session is a no-op.
func (e *Engine) Stop(ctx context.Context, sessionID string) (bool, error) {
	sess, ok := e.registry.Get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	if !sess.markTerminal(schemas.SessionCancelled, "") {
		return false, nil
	}
	e.emit(ctx, sess, schemas.EventExecutionCancelled, map[string]interface{}{
		"at_step": sess.CurrentStep(),
		"reason":  "stop requested",
	})
	// A paused loop is parked on the gate; open it so it can observe the
	// cancellation, then tear down the run context.
	sess.gate.Open()
	sess.cancelRun()
	e.logger.Info("Session stopped.",
		zap.String("session_id", sessionID),
		zap.Int("at_step", sess.CurrentStep()))
	return true, nil
}

// SkipStep marks the step at the given order as skipped; a negative order
// targets the session's current step. Only steps that have not reached a
// terminal status can be skipped; skipping a completed, failed, or
// already-skipped step returns false. The execution loop passes over skipped
// records without touching them.
func (e *Engine) SkipStep(ctx context.Context, sessionID string, order int) (bool, error) {
	sess, ok := e.registry.Get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	if sess.State().IsTerminal() {
		return false, nil
	}
	if order < 0 {
		order = sess.CurrentStep()
	}
	if !sess.skipStep(order) {
		return false, nil
	}
	e.emit(ctx, sess, schemas.EventStepSkipped, map[string]interface{}{
		"step_order": order,
		"reason":     "skip requested",
	})
	e.logger.Info("Step skipped.",
		zap.String("session_id", sessionID),
		zap.Int("step_order", order))
	return true, nil
}

// Status returns a read-only snapshot of the session.
func (e *Engine) Status(sessionID string) (schemas.SessionSnapshot, error) {
	sess, ok := e.registry.Get(sessionID)
	if !ok {
		return schemas.SessionSnapshot{}, ErrSessionNotFound
	}
	return sess.Snapshot(), nil
}

// Events returns the session's emitted events in order.
func (e *Engine) Events(sessionID string) ([]schemas.Event, error) {
	sess, ok := e.registry.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Events(), nil
}
