// internal/engine/step.go
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

// runStep executes one plan step through its full attempt budget. The record's
// final status (completed, failed, or skipped mid-flight) is committed before
// returning; the session-level consequences are the caller's business.
func (e *Engine) runStep(ctx context.Context, log *zap.Logger, sess *Session, exec schemas.ActionExecutor, idx int, step schemas.PlanStep) {
	slog := log.With(zap.Int("step", step.Order), zap.String("step_type", string(step.Type)))

	maxAttempts := sess.Config.MaxRetriesPerStep + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, retryBackoff) {
				e.finishCancelled(ctx, sess)
				return
			}
			// Pause and skip both land between attempts too.
			if stopped := e.waitAtBoundary(ctx, sess); stopped {
				return
			}
			if sess.stepStatus(idx).IsTerminal() {
				return
			}
		}

		if !sess.beginStep(idx) {
			return
		}
		if attempt == 0 {
			e.emit(ctx, sess, schemas.EventStepStarted, map[string]interface{}{
				"step_id":     step.ID,
				"step_order":  step.Order,
				"step_type":   string(step.Type),
				"description": step.Description,
			})
		}

		result, err := e.attemptStep(ctx, slog, sess, exec, idx, step)
		if err == nil {
			// The commit loses to a concurrent skip; the skip command already
			// emitted STEP_SKIPPED for the record, so stay silent here.
			if sess.completeStep(idx, result) {
				e.emit(ctx, sess, schemas.EventStepCompleted, map[string]interface{}{
					"step_id":    step.ID,
					"step_order": step.Order,
					"retries":    attempt,
				})
			}
			return
		}

		if ctx.Err() != nil {
			e.finishCancelled(ctx, sess)
			return
		}

		if attempt < maxAttempts-1 {
			slog.Warn("Step attempt failed; retrying.",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			sess.retryStep(idx, err.Error())
			continue
		}

		slog.Error("Step failed after exhausting retries.",
			zap.Int("attempts", maxAttempts),
			zap.Error(err))
		if sess.failStep(idx, err.Error()) {
			e.emit(ctx, sess, schemas.EventStepFailed, map[string]interface{}{
				"step_id":    step.ID,
				"step_order": step.Order,
				"error":      err.Error(),
				"retries":    attempt,
			})
		}
		return
	}
}

// attemptStep performs a single attempt: verify readiness, execute the action,
// then capture the post-step screenshot.
func (e *Engine) attemptStep(ctx context.Context, log *zap.Logger, sess *Session, exec schemas.ActionExecutor, idx int, step schemas.PlanStep) (map[string]interface{}, error) {
	stepCtx, cancel := context.WithTimeout(ctx, sess.Config.StepTimeout)
	defer cancel()

	var before []byte
	if sess.Config.AutoScreenshot || step.Type.IsStateSensitive() {
		shot, err := exec.Screenshot(stepCtx)
		if err != nil {
			log.Warn("Pre-step screenshot failed.", zap.Error(err))
		} else {
			before = shot
			sess.setLastScreenshot(shot)
		}
	}

	if step.Type.IsStateSensitive() && e.oracle != nil && before != nil {
		if err := e.verifyAndRecover(stepCtx, log, sess, exec, step, before); err != nil {
			return nil, err
		}
	}

	result, err := e.performStep(stepCtx, sess, exec, step)
	if err != nil {
		return nil, err
	}

	if step.PostWaitMs > 0 {
		if !sleepCtx(stepCtx, time.Duration(step.PostWaitMs)*time.Millisecond) {
			return nil, stepCtx.Err()
		}
	}

	var after []byte
	if sess.Config.AutoScreenshot || step.ScreenshotAfter {
		shot, serr := exec.Screenshot(stepCtx)
		if serr != nil {
			log.Warn("Post-step screenshot failed.", zap.Error(serr))
		} else {
			after = shot
			sess.setLastScreenshot(shot)
		}
	}
	// A capture taken only for verification is not kept on the record.
	if !sess.Config.AutoScreenshot {
		before = nil
	}
	sess.setScreenshots(idx, before, after)

	return result, nil
}

// performStep dispatches the step to the browser, or resolves it engine-side
// for step kinds that carry no browser action.
func (e *Engine) performStep(ctx context.Context, sess *Session, exec schemas.ActionExecutor, step schemas.PlanStep) (map[string]interface{}, error) {
	switch step.Type {
	case schemas.StepNarrate:
		// Narration is consumed downstream by the recording pipeline; the
		// engine only records that it was reached.
		return map[string]interface{}{"narration": step.Narration}, nil
	case schemas.StepAssert:
		return e.performAssert(ctx, sess, exec, step)
	}

	action := actionForStep(step)
	res, err := exec.Execute(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", step.Type, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%s failed: %s", step.Type, res.Error)
	}

	out := map[string]interface{}{
		"page_url":   res.PageURL,
		"page_title": res.PageTitle,
	}
	for k, v := range res.Result {
		out[k] = v
	}
	return out, nil
}

// performAssert asks the oracle whether the page matches the expected outcome.
// Without an oracle the assertion degrades to a recorded no-op rather than a
// spurious failure.
func (e *Engine) performAssert(ctx context.Context, sess *Session, exec schemas.ActionExecutor, step schemas.PlanStep) (map[string]interface{}, error) {
	if e.oracle == nil {
		return map[string]interface{}{"asserted": false, "reason": "no oracle configured"}, nil
	}
	shot, err := exec.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("assert screenshot: %w", err)
	}
	sess.setLastScreenshot(shot)

	verdict, err := e.oracle.Verify(ctx, shot, schemas.StepContext{
		Type:            step.Type,
		Target:          step.Target,
		Description:     step.Description,
		ExpectedOutcome: step.ExpectedOutcome,
	})
	if err != nil {
		// Fail open: oracle unavailability must not sink the walkthrough.
		return map[string]interface{}{"asserted": false, "reason": err.Error()}, nil
	}
	if !verdict.Ready {
		return nil, fmt.Errorf("assertion failed: %s", verdict.Issue)
	}
	return map[string]interface{}{
		"asserted":   true,
		"confidence": verdict.Confidence,
	}, nil
}

// actionForStep translates a plan step into the browser primitive it needs.
func actionForStep(step schemas.PlanStep) schemas.BrowserAction {
	action := schemas.BrowserAction{
		ID:     uuid.NewString(),
		Target: step.Target,
		Value:  step.Value,
	}
	switch step.Type {
	case schemas.StepNavigate:
		action.Type = schemas.ActionNavigate
		action.Target = step.Target
	case schemas.StepClick:
		action.Type = schemas.ActionClick
	case schemas.StepInput:
		action.Type = schemas.ActionInput
	case schemas.StepScroll:
		action.Type = schemas.ActionScroll
	case schemas.StepWait:
		action.Type = schemas.ActionWait
	case schemas.StepScreenshot:
		action.Type = schemas.ActionScreenshot
	case schemas.StepHover:
		action.Type = schemas.ActionHover
	default:
		action.Type = schemas.ActionType(step.Type)
	}
	return action
}

// fireMilestones emits FEATURE_MILESTONE for every milestone the given step
// order closes. Milestones fire on range completion regardless of the closing
// step's outcome (failed and skipped included); the walkthrough still moved
// through the feature. Each milestone fires at most once per session.
func (e *Engine) fireMilestones(ctx context.Context, sess *Session, order int) {
	for _, m := range sess.closingMilestones(order) {
		e.emit(ctx, sess, schemas.EventFeatureMilestone, map[string]interface{}{
			"milestone_id": m.ID,
			"name":         m.Name,
			"description":  m.Description,
			"start_step":   m.StartStep,
			"end_step":     m.EndStep,
			"importance":   m.Importance,
		})
	}
}
