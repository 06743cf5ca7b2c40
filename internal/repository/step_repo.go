package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

// StepRepository implements port.StepRepository over sqlite. Step
// definitions are read-only at runtime.
type StepRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *zap.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

// ListAll returns every step definition, ordered by type and order.
func (r *StepRepository) ListAll(ctx context.Context) ([]*entity.StepDefinition, error) {
	query := `
		SELECT id, request_type, step_order, step_type, approver_rule
		FROM workflow_steps
		ORDER BY request_type, step_order
	`
	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list workflow steps", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []*entity.StepDefinition
	for rows.Next() {
		var (
			step     entity.StepDefinition
			stepType string
		)
		if err := rows.Scan(&step.ID, &step.RequestType, &step.Order, &stepType, &step.ApproverRule); err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}
		step.StepType = entity.StepType(stepType)
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

var _ port.StepRepository = (*StepRepository)(nil)
