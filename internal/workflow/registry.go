// Package workflow implements the request/approval engine: template
// registry, approver resolution, the lifecycle state machine over
// requests, and the consistency reconciler that repairs drift between
// stored request state and the state implied by recorded approvals.
package workflow

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

// Registry maps a request type to its ordered step definitions.
// Templates are loaded once at startup and immutable per deployment.
type Registry struct {
	steps map[string][]*entity.StepDefinition
}

// NewRegistry loads every step definition from the store and indexes
// them by request type, sorted by ascending order.
func NewRegistry(ctx context.Context, repo port.StepRepository, logger *zap.Logger) (*Registry, error) {
	all, err := repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow templates: %w", err)
	}

	byType := make(map[string][]*entity.StepDefinition)
	for _, step := range all {
		byType[step.RequestType] = append(byType[step.RequestType], step)
	}
	for requestType, steps := range byType {
		sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
		for i := 1; i < len(steps); i++ {
			if steps[i].Order == steps[i-1].Order {
				return nil, fmt.Errorf("workflow template %q has duplicate step order %d", requestType, steps[i].Order)
			}
		}
		logger.Info("Workflow template loaded",
			zap.String("request_type", requestType),
			zap.Int("steps", len(steps)))
	}

	return &Registry{steps: byType}, nil
}

// NewStaticRegistry builds a registry from in-memory definitions.
func NewStaticRegistry(steps []*entity.StepDefinition) *Registry {
	byType := make(map[string][]*entity.StepDefinition)
	for _, step := range steps {
		byType[step.RequestType] = append(byType[step.RequestType], step)
	}
	for _, s := range byType {
		sort.Slice(s, func(i, j int) bool { return s[i].Order < s[j].Order })
	}
	return &Registry{steps: byType}
}

// StepsFor returns the ordered step definitions for a request type.
// The result is nil for an unknown type.
func (r *Registry) StepsFor(requestType string) []*entity.StepDefinition {
	return r.steps[requestType]
}

// FirstStep returns the step with the lowest order, or nil when the
// type has no steps.
func (r *Registry) FirstStep(requestType string) *entity.StepDefinition {
	steps := r.steps[requestType]
	if len(steps) == 0 {
		return nil
	}
	return steps[0]
}

// NextStep returns the step with the next-greater order after current,
// or nil when current is the last step. No gap assumptions are made.
func (r *Registry) NextStep(requestType string, current *entity.StepDefinition) *entity.StepDefinition {
	for _, step := range r.steps[requestType] {
		if step.Order > current.Order {
			return step
		}
	}
	return nil
}

// IsLast reports whether step is the final step of its template.
func (r *Registry) IsLast(requestType string, step *entity.StepDefinition) bool {
	return r.NextStep(requestType, step) == nil
}

// StepByID finds a step of the given type by its id.
func (r *Registry) StepByID(requestType string, stepID int64) *entity.StepDefinition {
	for _, step := range r.steps[requestType] {
		if step.ID == stepID {
			return step
		}
	}
	return nil
}
