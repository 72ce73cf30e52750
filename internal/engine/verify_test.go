// internal/engine/verify_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

func TestVerification_ReadyPageExecutesDirectly(t *testing.T) {
	plan := testPlan(1)
	oracle := &mockOracle{}
	rig := newTestRig(t, plan, oracle)

	sess, err := rig.engine.CreateSession(context.Background(), "proj-1", plan.ID, nil)
	require.NoError(t, err)
	rig.engine.Run(context.Background(), sess)

	assert.Equal(t, schemas.SessionCompleted, sess.State())
	assert.Zero(t, rig.sink.Count(schemas.EventRecoveryAttempted))
}

func TestVerification_OracleErrorFailsOpen(t *testing.T) {
	plan := testPlan(1)
	oracle := &mockOracle{
		verifyFunc: func(ctx context.Context, screenshot []byte, step schemas.StepContext) (*schemas.Verdict, error) {
			return nil, errors.New("gemini quota exhausted")
		},
	}
	rig := newTestRig(t, plan, oracle)

	sess, err := rig.engine.CreateSession(context.Background(), "proj-1", plan.ID, nil)
	require.NoError(t, err)
	rig.engine.Run(context.Background(), sess)

	// Oracle unavailability must not block the walkthrough.
	assert.Equal(t, schemas.SessionCompleted, sess.State())
	assert.Equal(t, schemas.StepCompleted, sess.Snapshot().Steps[0].Status)
}

func TestVerification_CloseModalRecovery(t *testing.T) {
	plan := testPlan(1)

	var mu sync.Mutex
	verifyCalls := 0
	oracle := &mockOracle{
		verifyFunc: func(ctx context.Context, screenshot []byte, step schemas.StepContext) (*schemas.Verdict, error) {
			mu.Lock()
			defer mu.Unlock()
			verifyCalls++
			if verifyCalls == 1 {
				return &schemas.Verdict{
					Ready:          false,
					Issue:          "cookie consent dialog blocks the page",
					RecoveryAction: schemas.RecoveryCloseModal,
					Confidence:     0.85,
				}, nil
			}
			return &schemas.Verdict{Ready: true, RecoveryAction: schemas.RecoveryNone, Confidence: 0.9}, nil
		},
	}
	rig := newTestRig(t, plan, oracle)

	sess, err := rig.engine.CreateSession(context.Background(), "proj-1", plan.ID, nil)
	require.NoError(t, err)
	rig.engine.Run(context.Background(), sess)

	assert.Equal(t, schemas.SessionCompleted, sess.State())
	assert.Equal(t, 1, rig.sink.Count(schemas.EventRecoveryAttempted))

	// Recovery sent Escape before anything else.
	actions := rig.exec.ExecutedActions()
	require.NotEmpty(t, actions)
	assert.Equal(t, schemas.ActionPressKey, actions[0].Type)
	assert.Equal(t, "Escape", actions[0].Value)
	// The planned click still ran last.
	assert.Equal(t, schemas.ActionClick, actions[len(actions)-1].Type)
	assert.Equal(t, "#btn-0", actions[len(actions)-1].Target)
}

func TestVerification_RecoveryDoesNotHelp(t *testing.T) {
	plan := testPlan(1)
	oracle := &mockOracle{
		verifyFunc: func(ctx context.Context, screenshot []byte, step schemas.StepContext) (*schemas.Verdict, error) {
			return &schemas.Verdict{
				Ready:          false,
				Issue:          "spinner covers the page",
				RecoveryAction: schemas.RecoveryScrollIntoView,
				Confidence:     0.7,
			}, nil
		},
	}
	rig := newTestRig(t, plan, oracle)

	cfg := testConfig()
	cfg.MaxRetriesPerStep = 1
	sess, err := rig.engine.CreateSession(context.Background(), "proj-1", plan.ID, &cfg)
	require.NoError(t, err)
	rig.engine.Run(context.Background(), sess)

	// Both attempts verified, recovered, re-verified, and gave up.
	assert.Equal(t, schemas.SessionCompleted, sess.State())
	snap := sess.Snapshot()
	assert.Equal(t, schemas.StepFailed, snap.Steps[0].Status)
	assert.Contains(t, snap.Steps[0].Error, "still not ready")
	assert.Equal(t, 2, rig.sink.Count(schemas.EventRecoveryAttempted))

	// The planned click never executed; only recovery scrolls did.
	for _, a := range rig.exec.ExecutedActions() {
		assert.Equal(t, schemas.ActionScroll, a.Type)
	}
}

func TestVerification_RecoveryDisabledByConfig(t *testing.T) {
	plan := testPlan(1)
	oracle := &mockOracle{
		verifyFunc: func(ctx context.Context, screenshot []byte, step schemas.StepContext) (*schemas.Verdict, error) {
			return &schemas.Verdict{
				Ready:          false,
				Issue:          "modal in the way",
				RecoveryAction: schemas.RecoveryCloseModal,
				Confidence:     0.9,
			}, nil
		},
	}
	rig := newTestRig(t, plan, oracle)

	cfg := testConfig()
	cfg.EnableRecovery = false
	cfg.MaxRetriesPerStep = 0
	sess, err := rig.engine.CreateSession(context.Background(), "proj-1", plan.ID, &cfg)
	require.NoError(t, err)
	rig.engine.Run(context.Background(), sess)

	snap := sess.Snapshot()
	assert.Equal(t, schemas.StepFailed, snap.Steps[0].Status)
	assert.Zero(t, rig.sink.Count(schemas.EventRecoveryAttempted))
	assert.Empty(t, rig.exec.ExecutedActions())
}

func TestRecoverCloseModal_FallsBackToSelectors(t *testing.T) {
	plan := testPlan(1)
	rig := newTestRig(t, plan, nil)

	// Escape press errors; the first close-button selector works.
	rig.exec.executeFunc = func(ctx context.Context, action schemas.BrowserAction) (*schemas.ActionResult, error) {
		if action.Type == schemas.ActionPressKey {
			return nil, errors.New("input domain detached")
		}
		return &schemas.ActionResult{ActionID: action.ID, Success: true}, nil
	}

	err := rig.engine.recoverCloseModal(context.Background(), rig.exec)
	assert.NoError(t, err)

	actions := rig.exec.ExecutedActions()
	require.Len(t, actions, 2)
	assert.Equal(t, schemas.ActionPressKey, actions[0].Type)
	assert.Equal(t, closeSelectors[0], actions[1].Target)
}

func TestRecoverCloseModal_AllPathsFail(t *testing.T) {
	plan := testPlan(1)
	rig := newTestRig(t, plan, nil)

	// A dispatched Escape counts as a dismissal attempt even when no close
	// button selector matches anything.
	rig.exec.executeFunc = func(ctx context.Context, action schemas.BrowserAction) (*schemas.ActionResult, error) {
		if action.Type == schemas.ActionPressKey {
			return &schemas.ActionResult{ActionID: action.ID, Success: true}, nil
		}
		return &schemas.ActionResult{ActionID: action.ID, Success: false, Error: "no such element"}, nil
	}
	err := rig.engine.recoverCloseModal(context.Background(), rig.exec)
	assert.NoError(t, err)

	// But when the key press fails too, the procedure reports failure.
	rig.exec.executeFunc = func(ctx context.Context, action schemas.BrowserAction) (*schemas.ActionResult, error) {
		if action.Type == schemas.ActionPressKey {
			return nil, errors.New("input domain detached")
		}
		return &schemas.ActionResult{ActionID: action.ID, Success: false, Error: "no such element"}, nil
	}
	err = rig.engine.recoverCloseModal(context.Background(), rig.exec)
	assert.Error(t, err)
}
