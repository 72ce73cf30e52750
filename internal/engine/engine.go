// internal/engine/engine.go

// Package engine drives pre-generated walkthrough plans through a live
// browser. One engine serves many sessions; each session runs its plan on a
// single goroutine, executing steps strictly in order while the command
// surface (pause, resume, stop, skip) steers it from outside.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

const (
	// retryBackoff is the flat delay between attempts of the same step.
	retryBackoff = 1 * time.Second
	// sinkTimeout bounds a single event delivery so a slow sink cannot stall
	// the step loop.
	sinkTimeout = 5 * time.Second
)

// ErrPlanTooLarge is returned by CreateSession when a plan exceeds the
// configured step ceiling.
var ErrPlanTooLarge = errors.New("plan exceeds configured max steps")

// Engine owns the session registry and the dependencies every session shares.
type Engine struct {
	provider schemas.ExecutorProvider
	plans    schemas.PlanStore
	oracle   schemas.VisionOracle
	sink     schemas.EventSink
	registry *Registry
	logger   *zap.Logger
	defaults schemas.SessionConfig
}

// New wires an engine from its dependencies. The oracle may be nil, in which
// case verification is disabled and every step executes unverified; every
// other dependency is required.
func New(
	provider schemas.ExecutorProvider,
	plans schemas.PlanStore,
	oracle schemas.VisionOracle,
	sink schemas.EventSink,
	logger *zap.Logger,
	defaults schemas.SessionConfig,
) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("engine: executor provider is required")
	}
	if plans == nil {
		return nil, errors.New("engine: plan store is required")
	}
	if sink == nil {
		return nil, errors.New("engine: event sink is required")
	}
	if logger == nil {
		return nil, errors.New("engine: logger is required")
	}

	return &Engine{
		provider: provider,
		plans:    plans,
		oracle:   oracle,
		sink:     sink,
		registry: NewRegistry(),
		logger:   logger.With(zap.String("component", "engine")),
		defaults: defaults,
	}, nil
}

// Registry exposes the session registry for status surfaces.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CreateSession loads the plan, validates it against the session config, and
// registers a new idle session. No browser resources are acquired yet; that
// happens when the session starts.
func (e *Engine) CreateSession(ctx context.Context, projectID, planID string, override *schemas.SessionConfig) (*Session, error) {
	plan, err := e.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("loading plan %q: %w", planID, err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan %q has no steps", planID)
	}

	cfg := e.defaults
	if override != nil {
		cfg = *override
		// A partially-populated override must not zero out the fields the
		// loop cannot run without; those fall back to the engine defaults.
		// Zero retries, zero pauses, and false flags are all meaningful
		// overrides and pass through untouched.
		if cfg.MaxSteps <= 0 {
			cfg.MaxSteps = e.defaults.MaxSteps
		}
		if cfg.StepTimeout <= 0 {
			cfg.StepTimeout = e.defaults.StepTimeout
		}
	}
	if len(plan.Steps) > cfg.MaxSteps {
		return nil, fmt.Errorf("%w: plan %q has %d steps, limit is %d",
			ErrPlanTooLarge, planID, len(plan.Steps), cfg.MaxSteps)
	}

	sess := newSession(projectID, plan, cfg)
	if err := e.registry.Add(sess); err != nil {
		return nil, err
	}

	e.logger.Info("Session created.",
		zap.String("session_id", sess.ID),
		zap.String("plan_id", planID),
		zap.Int("steps", len(plan.Steps)))

	e.emit(ctx, sess, schemas.EventSessionCreated, map[string]interface{}{
		"plan_id":     planID,
		"project_id":  projectID,
		"total_steps": len(plan.Steps),
	})
	return sess, nil
}

// Start launches the session's execution loop on its own goroutine and
// returns immediately. The returned channel closes when the run finishes.
func (e *Engine) Start(ctx context.Context, sess *Session) (<-chan struct{}, error) {
	runCtx, cancel := context.WithCancel(ctx)
	if !sess.arm(cancel) {
		cancel()
		return nil, fmt.Errorf("session %q already started", sess.ID)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		e.Run(runCtx, sess)
	}()
	return done, nil
}

// Run executes the session's plan to completion, blocking the caller. It is
// the single writer of session progress; commands mutate state concurrently
// only through the guarded session methods.
func (e *Engine) Run(ctx context.Context, sess *Session) {
	log := e.logger.With(zap.String("session_id", sess.ID))

	if !sess.transitionFrom(schemas.SessionIdle, schemas.SessionInitializing) {
		log.Warn("Run called on a session that is not idle.",
			zap.String("state", string(sess.State())))
		return
	}

	exec, err := e.provider.Acquire(ctx, sess.plan.StartURL)
	if err != nil {
		log.Error("Browser acquisition failed.", zap.Error(err))
		sess.markTerminal(schemas.SessionFailed, err.Error())
		e.emit(ctx, sess, schemas.EventExecutionFailed, map[string]interface{}{
			"error": err.Error(),
			"phase": "initializing",
		})
		return
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if cerr := exec.Close(closeCtx); cerr != nil {
			log.Warn("Browser session close failed.", zap.Error(cerr))
		}
	}()

	sess.markStarted(exec.ID())
	if !sess.transitionFrom(schemas.SessionInitializing, schemas.SessionExecuting) {
		// Stopped during initialization.
		return
	}
	e.emit(ctx, sess, schemas.EventExecutionStarted, map[string]interface{}{
		"browser_session_id": exec.ID(),
		"start_url":          sess.plan.StartURL,
		"total_steps":        len(sess.plan.Steps),
	})
	log.Info("Execution started.",
		zap.String("browser_session_id", exec.ID()),
		zap.Int("total_steps", len(sess.plan.Steps)))

	for i := range sess.plan.Steps {
		if stopped := e.waitAtBoundary(ctx, sess); stopped {
			return
		}

		sess.setCurrentStep(i)
		step := sess.plan.Steps[i]

		// A step skipped while pending is left alone; the skip command already
		// emitted its event. Its milestones still close below.
		if !sess.stepStatus(i).IsTerminal() {
			e.runStep(ctx, log, sess, exec, i, step)
		}

		// A record can also turn terminal as skipped mid-flight; milestones
		// close on any terminal outcome, so fire them here rather than inside
		// the per-outcome branches.
		if sess.stepStatus(i).IsTerminal() {
			e.fireMilestones(ctx, sess, step.Order)
		}

		if sess.State().IsTerminal() {
			return
		}
		if sess.stepStatus(i) == schemas.StepFailed && sess.Config.FailFast {
			sess.markTerminal(schemas.SessionFailed,
				fmt.Sprintf("step %d failed and fail-fast is enabled", step.Order))
			e.emit(ctx, sess, schemas.EventExecutionFailed, map[string]interface{}{
				"failed_step": step.Order,
			})
			return
		}

		if sess.Config.InterStepPause > 0 && i < len(sess.plan.Steps)-1 {
			if !sleepCtx(ctx, sess.Config.InterStepPause) {
				e.finishCancelled(ctx, sess)
				return
			}
		}
	}

	if sess.markTerminal(schemas.SessionCompleted, "") {
		snap := sess.Snapshot()
		completed, failed, skipped := tallySteps(snap.Steps)
		e.emit(ctx, sess, schemas.EventExecutionCompleted, map[string]interface{}{
			"steps_completed": completed,
			"steps_failed":    failed,
			"steps_skipped":   skipped,
		})
		log.Info("Execution completed.",
			zap.Int("completed", completed),
			zap.Int("failed", failed),
			zap.Int("skipped", skipped))
	}
}

// waitAtBoundary enforces the pause gate and cooperative cancellation between
// steps. Returns true when the loop must exit.
func (e *Engine) waitAtBoundary(ctx context.Context, sess *Session) bool {
	if sess.State().IsTerminal() {
		return true
	}
	if err := sess.gate.Wait(ctx); err != nil {
		e.finishCancelled(ctx, sess)
		return true
	}
	if sess.State().IsTerminal() {
		return true
	}
	return false
}

// finishCancelled records an external cancellation. The stop command marks the
// session terminal itself, so this is a no-op in that path.
func (e *Engine) finishCancelled(ctx context.Context, sess *Session) {
	if sess.markTerminal(schemas.SessionCancelled, "") {
		e.emit(ctx, sess, schemas.EventExecutionCancelled, map[string]interface{}{
			"at_step": sess.CurrentStep(),
			"reason":  "context cancelled",
		})
	}
}

// emit records the event on the session and forwards it to the sink. Sink
// failures are logged and swallowed: the event stream is advisory, the step
// loop is not.
func (e *Engine) emit(ctx context.Context, sess *Session, typ schemas.EventType, data map[string]interface{}) {
	ev := schemas.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		SessionID: sess.ID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	sess.appendEvent(ev)

	// Deliver on a detached context so late-session events (cancellation,
	// completion) still reach the sink after the run context dies.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := e.sink.Emit(sinkCtx, ev); err != nil {
		e.logger.Warn("Event sink delivery failed.",
			zap.String("session_id", sess.ID),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func tallySteps(steps []schemas.StepExecution) (completed, failed, skipped int) {
	for _, s := range steps {
		switch s.Status {
		case schemas.StepCompleted:
			completed++
		case schemas.StepFailed:
			failed++
		case schemas.StepSkipped:
			skipped++
		}
	}
	return completed, failed, skipped
}
