// internal/plan/store_test.go
package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

func validPlan() *schemas.Plan {
	return &schemas.Plan{
		ID:        "plan-1",
		ProjectID: "proj-1",
		StartURL:  "https://app.example.com",
		Steps: []schemas.PlanStep{
			{ID: "s0", Order: 0, Type: schemas.StepNavigate, Target: "https://app.example.com/login", Description: "open login"},
			{ID: "s1", Order: 1, Type: schemas.StepInput, Target: "#email", Value: "demo@example.com", Description: "enter email"},
			{ID: "s2", Order: 2, Type: schemas.StepClick, Target: "#submit", Description: "submit"},
		},
		Milestones: []schemas.Milestone{
			{ID: "m1", Name: "login", StartStep: 0, EndStep: 2},
		},
	}
}

func writePlan(t *testing.T, dir string, p *schemas.Plan) {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, p.ID+".json"), data, 0o644))
}

func newStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	s, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestFileStore_GetPlan(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, validPlan())
	store := newStore(t, dir)

	p, err := store.GetPlan(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "plan-1", p.ID)
	assert.Len(t, p.Steps, 3)
	assert.Len(t, p.Milestones, 1)
}

func TestFileStore_GetPlan_NotFound(t *testing.T) {
	store := newStore(t, t.TempDir())
	_, err := store.GetPlan(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestFileStore_GetPlan_RejectsPathTraversal(t *testing.T) {
	store := newStore(t, t.TempDir())
	for _, id := range []string{"", "../etc/passwd", "a/b", `a\b`} {
		_, err := store.GetPlan(context.Background(), id)
		assert.Error(t, err, "id %q must be rejected", id)
	}
}

func TestFileStore_GetPlan_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644))
	store := newStore(t, dir)

	_, err := store.GetPlan(context.Background(), "broken")
	assert.Error(t, err)
}

func TestNewFileStore_MissingDir(t *testing.T) {
	_, err := NewFileStore("/definitely/not/here", zap.NewNop())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *schemas.Plan)
		ok     bool
	}{
		{name: "valid", mutate: func(p *schemas.Plan) {}, ok: true},
		{name: "missing start url", mutate: func(p *schemas.Plan) { p.StartURL = "" }},
		{name: "no steps", mutate: func(p *schemas.Plan) { p.Steps = nil }},
		{name: "non-contiguous orders", mutate: func(p *schemas.Plan) { p.Steps[2].Order = 7 }},
		{name: "navigate without target", mutate: func(p *schemas.Plan) { p.Steps[0].Target = "" }},
		{name: "click without selector", mutate: func(p *schemas.Plan) { p.Steps[2].Target = "" }},
		{name: "unknown step type", mutate: func(p *schemas.Plan) { p.Steps[1].Type = "teleport" }},
		{name: "milestone end out of range", mutate: func(p *schemas.Plan) { p.Milestones[0].EndStep = 99 }},
		{name: "milestone inverted range", mutate: func(p *schemas.Plan) {
			p.Milestones[0].StartStep = 2
			p.Milestones[0].EndStep = 0
		}},
		{name: "milestone without id", mutate: func(p *schemas.Plan) { p.Milestones[0].ID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)
			err := Validate(p)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
