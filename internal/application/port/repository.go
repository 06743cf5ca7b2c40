// Package port declares the interfaces the workflow core consumes.
// Implementations live in infrastructure packages; the core never
// depends on a concrete store or directory.
package port

import (
	"context"
	"time"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// RequestRepository owns Request rows.
type RequestRepository interface {
	Create(ctx context.Context, request *entity.Request) error
	GetByID(ctx context.Context, id int64) (*entity.Request, error)

	// UpdateState writes status and current step unconditionally and
	// bumps the version counter.
	UpdateState(ctx context.Context, id int64, status workflow.Status, currentStepID *int64) error

	// UpdateStateVersioned is a conditional compare-and-swap on the
	// version column. It returns a *workflow.ConflictError when the
	// request changed underneath the caller.
	UpdateStateVersioned(ctx context.Context, id int64, status workflow.Status, currentStepID *int64, expectedVersion int64) error

	// ListActive returns up to limit requests with an active status,
	// most-recently-created first.
	ListActive(ctx context.Context, limit int) ([]*entity.Request, error)

	List(ctx context.Context, limit, offset int) ([]*entity.Request, error)
}

// StepRepository reads workflow templates. Templates are immutable at
// runtime; the registry loads them once.
type StepRepository interface {
	ListAll(ctx context.Context) ([]*entity.StepDefinition, error)
}

// ApprovalRepository owns Approval rows.
type ApprovalRepository interface {
	CreateBatch(ctx context.Context, approvals []*entity.Approval) error
	GetByRequest(ctx context.Context, requestID int64) ([]*entity.Approval, error)

	// GetPending returns the pending row for one approver at one step,
	// or nil when the approver has no pending record there.
	GetPending(ctx context.Context, requestID, stepID int64, approverID string) (*entity.Approval, error)

	// Decide moves a pending row to a decided status. Decided rows are
	// immutable; Decide fails on anything but a pending row.
	Decide(ctx context.Context, id int64, status entity.ApprovalStatus, comments string, decidedAt time.Time) error

	// CancelPendingAtStep voids all still-pending rows at a step, used
	// when a request is rejected or cancelled.
	CancelPendingAtStep(ctx context.Context, requestID, stepID int64) error
}

// TransactionManager runs a function within a store transaction. The
// transaction travels in the context so repositories pick it up
// transparently.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
