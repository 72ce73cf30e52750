// internal/engine/verify.go
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

const (
	// loadingWait is how long wait_for_loading recovery idles before
	// re-verifying.
	loadingWait = 2 * time.Second
	// refreshSettle is the pause after a recovery page refresh.
	refreshSettle = 1 * time.Second
)

// closeSelectors is the shortlist of selectors close_modal tries after
// sending Escape. Ordered from most to least specific.
var closeSelectors = []string{
	"[aria-label='Close']",
	"[aria-label='close']",
	".modal-close",
	".close-button",
	"button.close",
}

// verifyAndRecover runs the pre-execution readiness check for a state
// sensitive step. When the oracle reports the page is blocked it runs the
// suggested recovery action, then re-verifies exactly once. Oracle errors fail
// open: a broken verifier must not block the walkthrough.
func (e *Engine) verifyAndRecover(ctx context.Context, log *zap.Logger, sess *Session, exec schemas.ActionExecutor, step schemas.PlanStep, screenshot []byte) error {
	stepCtx := schemas.StepContext{
		Type:            step.Type,
		Target:          step.Target,
		Description:     step.Description,
		ExpectedOutcome: step.ExpectedOutcome,
	}

	verdict := e.verify(ctx, log, screenshot, stepCtx)
	if verdict.Ready {
		return nil
	}
	if !sess.Config.EnableRecovery || verdict.RecoveryAction == schemas.RecoveryNone {
		return fmt.Errorf("page not ready for step %d: %s", step.Order, verdict.Issue)
	}

	log.Info("Page not ready; attempting recovery.",
		zap.String("issue", verdict.Issue),
		zap.String("recovery_action", string(verdict.RecoveryAction)))

	recErr := e.runRecovery(ctx, exec, step, verdict.RecoveryAction)
	e.emit(ctx, sess, schemas.EventRecoveryAttempted, map[string]interface{}{
		"step_order":      step.Order,
		"issue":           verdict.Issue,
		"recovery_action": string(verdict.RecoveryAction),
		"succeeded":       recErr == nil,
	})
	if recErr != nil {
		return fmt.Errorf("recovery %s failed: %w", verdict.RecoveryAction, recErr)
	}

	// Single re-verification pass; no recovery loops.
	shot, err := exec.Screenshot(ctx)
	if err != nil {
		log.Warn("Post-recovery screenshot failed; proceeding unverified.", zap.Error(err))
		return nil
	}
	sess.setLastScreenshot(shot)

	second := e.verify(ctx, log, shot, stepCtx)
	if !second.Ready {
		return fmt.Errorf("page still not ready after %s: %s", verdict.RecoveryAction, second.Issue)
	}
	return nil
}

// verify consults the oracle, translating any oracle failure into a ready
// verdict with rock-bottom confidence.
func (e *Engine) verify(ctx context.Context, log *zap.Logger, screenshot []byte, stepCtx schemas.StepContext) *schemas.Verdict {
	verdict, err := e.oracle.Verify(ctx, screenshot, stepCtx)
	if err != nil {
		log.Warn("Vision oracle unavailable; failing open.", zap.Error(err))
		return &schemas.Verdict{
			Ready:          true,
			RecoveryAction: schemas.RecoveryNone,
			Confidence:     0.1,
			Analysis:       "oracle unavailable",
		}
	}
	return verdict
}

// runRecovery executes one recovery procedure. Each procedure is bounded by
// the surrounding step timeout.
func (e *Engine) runRecovery(ctx context.Context, exec schemas.ActionExecutor, step schemas.PlanStep, action schemas.RecoveryAction) error {
	switch action {
	case schemas.RecoveryCloseModal:
		return e.recoverCloseModal(ctx, exec)

	case schemas.RecoveryScrollIntoView:
		res, err := exec.Execute(ctx, schemas.BrowserAction{
			ID:     uuid.NewString(),
			Type:   schemas.ActionScroll,
			Target: step.Target,
		})
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("scroll failed: %s", res.Error)
		}
		return nil

	case schemas.RecoveryWaitForLoading:
		if !sleepCtx(ctx, loadingWait) {
			return ctx.Err()
		}
		return nil

	case schemas.RecoveryClickOverlay:
		// Overlays that swallow clicks close on Escape far more reliably than
		// a blind click into them.
		res, err := exec.Execute(ctx, schemas.BrowserAction{
			ID:    uuid.NewString(),
			Type:  schemas.ActionPressKey,
			Value: "Escape",
		})
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("overlay dismiss failed: %s", res.Error)
		}
		return nil

	case schemas.RecoveryRefreshPage:
		res, err := exec.Execute(ctx, schemas.BrowserAction{
			ID:   uuid.NewString(),
			Type: schemas.ActionReload,
		})
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("reload failed: %s", res.Error)
		}
		if !sleepCtx(ctx, refreshSettle) {
			return ctx.Err()
		}
		return nil

	case schemas.RecoveryRetry:
		// Nothing page-side to do; the caller's re-verification is the retry.
		return nil

	default:
		return fmt.Errorf("unknown recovery action %q", action)
	}
}

// recoverCloseModal sends Escape and, only if that did not land, walks a
// shortlist of common close-button selectors, stopping at the first click
// that succeeds.
func (e *Engine) recoverCloseModal(ctx context.Context, exec schemas.ActionExecutor) error {
	escRes, escErr := exec.Execute(ctx, schemas.BrowserAction{
		ID:    uuid.NewString(),
		Type:  schemas.ActionPressKey,
		Value: "Escape",
	})
	if escErr == nil && escRes != nil && escRes.Success {
		return nil
	}

	for _, sel := range closeSelectors {
		res, err := exec.Execute(ctx, schemas.BrowserAction{
			ID:     uuid.NewString(),
			Type:   schemas.ActionClick,
			Target: sel,
		})
		if err == nil && res.Success {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("escape press and close-button clicks all failed")
}
