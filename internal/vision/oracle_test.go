// internal/vision/oracle_test.go
package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

type stubGenerator struct {
	response string
	err      error

	gotSystem string
	gotUser   string
	gotPNG    []byte
}

func (s *stubGenerator) GenerateVision(ctx context.Context, systemPrompt, userPrompt string, png []byte) (string, error) {
	s.gotSystem = systemPrompt
	s.gotUser = userPrompt
	s.gotPNG = png
	return s.response, s.err
}

func stepCtx() schemas.StepContext {
	return schemas.StepContext{
		Type:            schemas.StepClick,
		Target:          "#submit",
		Description:     "submit the signup form",
		ExpectedOutcome: "dashboard is shown",
	}
}

func TestOracle_Verify(t *testing.T) {
	gen := &stubGenerator{
		response: `{"ready": false, "issue": "cookie banner", "recovery_action": "close_modal", "confidence": 0.92, "analysis": "A consent dialog covers the form."}`,
	}
	oracle, err := NewOracle(gen, zap.NewNop())
	require.NoError(t, err)

	verdict, err := oracle.Verify(context.Background(), []byte("png"), stepCtx())
	require.NoError(t, err)

	assert.False(t, verdict.Ready)
	assert.Equal(t, schemas.RecoveryCloseModal, verdict.RecoveryAction)
	assert.InDelta(t, 0.92, verdict.Confidence, 0.001)

	// The step context made it into the prompt.
	assert.Contains(t, gen.gotUser, "#submit")
	assert.Contains(t, gen.gotUser, "submit the signup form")
	assert.Contains(t, gen.gotUser, "dashboard is shown")
	assert.Equal(t, []byte("png"), gen.gotPNG)
}

func TestOracle_Verify_EmptyScreenshot(t *testing.T) {
	oracle, err := NewOracle(&stubGenerator{}, zap.NewNop())
	require.NoError(t, err)

	_, err = oracle.Verify(context.Background(), nil, stepCtx())
	assert.Error(t, err)
}

func TestOracle_Verify_GeneratorError(t *testing.T) {
	oracle, err := NewOracle(&stubGenerator{err: errors.New("quota exhausted")}, zap.NewNop())
	require.NoError(t, err)

	_, err = oracle.Verify(context.Background(), []byte("png"), stepCtx())
	assert.ErrorContains(t, err, "quota exhausted")
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
		ready    bool
		action   schemas.RecoveryAction
	}{
		{
			name:     "plain json",
			response: `{"ready": true, "recovery_action": "none", "confidence": 0.95}`,
			ready:    true,
			action:   schemas.RecoveryNone,
		},
		{
			name: "markdown fenced",
			response: "Here is my judgment:\n```json\n" +
				`{"ready": false, "issue": "spinner", "recovery_action": "wait_for_loading", "confidence": 0.7}` +
				"\n```",
			ready:  false,
			action: schemas.RecoveryWaitForLoading,
		},
		{
			name:     "json embedded in prose",
			response: `The page looks blocked. {"ready": false, "recovery_action": "refresh_page", "confidence": 0.5} Hope that helps.`,
			ready:    false,
			action:   schemas.RecoveryRefreshPage,
		},
		{
			name:     "missing recovery action defaults to none",
			response: `{"ready": true, "confidence": 1.0}`,
			ready:    true,
			action:   schemas.RecoveryNone,
		},
		{
			name:     "unknown recovery action",
			response: `{"ready": false, "recovery_action": "reboot_universe", "confidence": 0.5}`,
			wantErr:  true,
		},
		{
			name:     "confidence out of range",
			response: `{"ready": true, "recovery_action": "none", "confidence": 3.0}`,
			wantErr:  true,
		},
		{
			name:     "no json at all",
			response: "I cannot tell from this screenshot.",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseVerdict(tt.response)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ready, verdict.Ready)
			assert.Equal(t, tt.action, verdict.RecoveryAction)
		})
	}
}
