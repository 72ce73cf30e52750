// internal/plan/store.go

// Package plan loads and validates walkthrough plans. Plans are produced by
// an upstream generation pipeline and stored as one JSON document per plan.
package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrPlanNotFound is returned when no document exists for the requested ID.
var ErrPlanNotFound = errors.New("plan not found")

// FileStore serves plans from a directory of <plan-id>.json documents.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

var _ schemas.PlanStore = (*FileStore)(nil)

// NewFileStore validates the directory and returns a store over it.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		return nil, errors.New("plan: logger is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("plan directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plan path %q is not a directory", dir)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.Named("plan_store"),
	}, nil
}

// GetPlan loads and validates the plan document for the given ID.
func (s *FileStore) GetPlan(ctx context.Context, planID string) (*schemas.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if planID == "" || strings.ContainsAny(planID, `/\`) || strings.Contains(planID, "..") {
		return nil, fmt.Errorf("invalid plan id %q", planID)
	}

	path := filepath.Join(s.dir, planID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return nil, fmt.Errorf("reading plan %q: %w", planID, err)
	}

	var p schemas.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding plan %q: %w", planID, err)
	}
	if p.ID == "" {
		p.ID = planID
	}

	if err := Validate(&p); err != nil {
		return nil, fmt.Errorf("plan %q: %w", planID, err)
	}

	s.logger.Debug("Plan loaded.",
		zap.String("plan_id", p.ID),
		zap.Int("steps", len(p.Steps)),
		zap.Int("milestones", len(p.Milestones)))
	return &p, nil
}

// Validate checks the structural invariants a plan must satisfy before the
// engine will run it.
func Validate(p *schemas.Plan) error {
	if p.StartURL == "" {
		return errors.New("start_url is required")
	}
	if len(p.Steps) == 0 {
		return errors.New("plan has no steps")
	}

	seen := make(map[int]bool, len(p.Steps))
	for i, step := range p.Steps {
		if step.Order != i {
			return fmt.Errorf("step %d has order %d; orders must be contiguous from zero", i, step.Order)
		}
		if seen[step.Order] {
			return fmt.Errorf("duplicate step order %d", step.Order)
		}
		seen[step.Order] = true

		if step.Type == "" {
			return fmt.Errorf("step %d is missing a type", i)
		}
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, m := range p.Milestones {
		if m.ID == "" {
			return errors.New("milestone is missing an id")
		}
		if m.StartStep < 0 || m.EndStep >= len(p.Steps) || m.EndStep < m.StartStep {
			return fmt.Errorf("milestone %q has invalid range [%d, %d] for %d steps",
				m.ID, m.StartStep, m.EndStep, len(p.Steps))
		}
	}
	return nil
}

func validateStep(step schemas.PlanStep) error {
	switch step.Type {
	case schemas.StepNavigate:
		if step.Target == "" {
			return errors.New("navigate step requires a target URL")
		}
	case schemas.StepClick, schemas.StepHover:
		if step.Target == "" {
			return fmt.Errorf("%s step requires a target selector", step.Type)
		}
	case schemas.StepInput:
		if step.Target == "" {
			return errors.New("type step requires a target selector")
		}
	case schemas.StepNarrate:
		if step.Narration == "" && step.Description == "" {
			return errors.New("narrate step requires narration text")
		}
	case schemas.StepScroll, schemas.StepWait, schemas.StepScreenshot, schemas.StepAssert:
		// No mandatory fields.
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
	return nil
}
