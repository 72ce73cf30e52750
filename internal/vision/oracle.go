// internal/vision/oracle.go
package vision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

const systemPrompt = `You are a visual QA assistant for automated product walkthroughs.
You are shown a browser screenshot and the next planned step. Judge whether the
page is ready for that step to execute.

Respond with a single JSON object:
{
  "ready": bool,           // can the step execute right now?
  "issue": string,         // what blocks it (empty when ready)
  "suggestion": string,    // free-form advice for a human reviewer
  "recovery_action": string, // one of: none, close_modal, scroll_into_view, wait_for_loading, click_overlay, refresh_page, retry
  "confidence": number,    // 0.0 - 1.0
  "analysis": string       // one or two sentences describing what you see
}

Pick "close_modal" for dialogs, cookie banners and popups covering the target.
Pick "scroll_into_view" when the target is likely below the fold.
Pick "wait_for_loading" for spinners, skeletons or blank content areas.
Pick "click_overlay" for transparent click-catchers.
Pick "refresh_page" for error pages or broken renders.
Pick "none" when the page is ready or nothing can help.`

// VisionGenerator is the slice of the Gemini client the oracle needs.
type VisionGenerator interface {
	GenerateVision(ctx context.Context, systemPrompt, userPrompt string, png []byte) (string, error)
}

// Oracle implements schemas.VisionOracle on top of a multimodal model.
type Oracle struct {
	client VisionGenerator
	logger *zap.Logger
}

var _ schemas.VisionOracle = (*Oracle)(nil)

// NewOracle wires an oracle around the given generator.
func NewOracle(client VisionGenerator, logger *zap.Logger) (*Oracle, error) {
	if client == nil {
		return nil, errors.New("vision: generator is required")
	}
	if logger == nil {
		return nil, errors.New("vision: logger is required")
	}
	return &Oracle{
		client: client,
		logger: logger.Named("vision.oracle"),
	}, nil
}

// Verify submits the screenshot and step context, returning the model's
// structured readiness verdict.
func (o *Oracle) Verify(ctx context.Context, screenshot []byte, step schemas.StepContext) (*schemas.Verdict, error) {
	if len(screenshot) == 0 {
		return nil, errors.New("verification requires a screenshot")
	}

	response, err := o.client.GenerateVision(ctx, systemPrompt, buildUserPrompt(step), screenshot)
	if err != nil {
		return nil, fmt.Errorf("vision generation: %w", err)
	}

	verdict, err := parseVerdict(response)
	if err != nil {
		o.logger.Warn("Could not parse oracle response.",
			zap.String("raw_response", response),
			zap.Error(err))
		return nil, err
	}

	o.logger.Debug("Verification verdict.",
		zap.Bool("ready", verdict.Ready),
		zap.String("recovery_action", string(verdict.RecoveryAction)),
		zap.Float64("confidence", verdict.Confidence))
	return verdict, nil
}

func buildUserPrompt(step schemas.StepContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Next planned step:\n- type: %s\n- description: %s\n", step.Type, step.Description)
	if step.Target != "" {
		fmt.Fprintf(&b, "- target selector: %s\n", step.Target)
	}
	if step.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "- expected outcome: %s\n", step.ExpectedOutcome)
	}
	b.WriteString("\nIs the page in the screenshot ready for this step?")
	return b.String()
}

// jsonBlockRegex extracts a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseVerdict robustly extracts the verdict JSON from the model response,
// handling markdown fences and surrounding prose.
func parseVerdict(response string) (*schemas.Verdict, error) {
	response = strings.TrimSpace(response)

	var raw string
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		raw = strings.TrimSpace(matches[1])
	} else {
		first := strings.Index(response, "{")
		last := strings.LastIndex(response, "}")
		if first != -1 && last > first {
			raw = response[first : last+1]
		} else {
			raw = response
		}
	}
	if raw == "" {
		return nil, errors.New("no JSON found in oracle response")
	}

	var verdict schemas.Verdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("unmarshalling verdict: %w", err)
	}

	if verdict.RecoveryAction == "" {
		verdict.RecoveryAction = schemas.RecoveryNone
	}
	if !knownRecoveryAction(verdict.RecoveryAction) {
		return nil, fmt.Errorf("oracle returned unknown recovery action %q", verdict.RecoveryAction)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return nil, fmt.Errorf("oracle confidence %v out of range", verdict.Confidence)
	}
	return &verdict, nil
}

func knownRecoveryAction(a schemas.RecoveryAction) bool {
	switch a {
	case schemas.RecoveryNone, schemas.RecoveryCloseModal, schemas.RecoveryScrollIntoView,
		schemas.RecoveryWaitForLoading, schemas.RecoveryClickOverlay,
		schemas.RecoveryRefreshPage, schemas.RecoveryRetry:
		return true
	}
	return false
}
