package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

// ApprovalRepository implements port.ApprovalRepository over sqlite.
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

const approvalColumns = `id, request_id, step_id, approver_id, status, comments, created_at, decided_at`

// CreateBatch inserts the eager Approval rows for one step entry. The
// unique index on (request_id, step_id, approver_id) rejects duplicate
// assignments.
func (r *ApprovalRepository) CreateBatch(ctx context.Context, approvals []*entity.Approval) error {
	query := `
		INSERT INTO approvals (request_id, step_id, approver_id, status, comments, decided_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	exec := executorFrom(ctx, r.db)
	for _, a := range approvals {
		status := a.Status
		if status == "" {
			status = entity.ApprovalPending
		}
		result, err := exec.ExecContext(ctx, query,
			a.RequestID, a.StepID, a.ApproverID, string(status), a.Comments, a.DecidedAt)
		if err != nil {
			r.logger.Error("Failed to create approval",
				zap.Int64("request_id", a.RequestID),
				zap.Int64("step_id", a.StepID),
				zap.String("approver_id", a.ApproverID),
				zap.Error(err))
			return fmt.Errorf("failed to create approval: %w", err)
		}
		if a.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

// GetByRequest returns every approval of a request across all steps,
// oldest first.
func (r *ApprovalRepository) GetByRequest(ctx context.Context, requestID int64) ([]*entity.Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE request_id = ?
		ORDER BY id
	`
	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to list approvals", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*entity.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

// GetPending returns the pending row for one approver at one step, or
// nil when none exists.
func (r *ApprovalRepository) GetPending(ctx context.Context, requestID, stepID int64, approverID string) (*entity.Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE request_id = ? AND step_id = ? AND approver_id = ? AND status = ?
	`
	approval, err := scanApproval(executorFrom(ctx, r.db).QueryRowContext(ctx, query,
		requestID, stepID, approverID, string(entity.ApprovalPending)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get pending approval",
			zap.Int64("request_id", requestID),
			zap.String("approver_id", approverID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get pending approval: %w", err)
	}
	return approval, nil
}

// Decide moves a pending row to a decided status. Decided rows are
// immutable: the guard on status makes a double decision a no-op
// reported as an error.
func (r *ApprovalRepository) Decide(ctx context.Context, id int64, status entity.ApprovalStatus, comments string, decidedAt time.Time) error {
	query := `
		UPDATE approvals
		SET status = ?, comments = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		string(status), comments, decidedAt, id, string(entity.ApprovalPending))
	if err != nil {
		r.logger.Error("Failed to record decision", zap.Int64("approval_id", id), zap.Error(err))
		return fmt.Errorf("failed to record decision: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("approval %d is not pending", id)
	}
	return nil
}

// CancelPendingAtStep voids every still-pending row at a step.
func (r *ApprovalRepository) CancelPendingAtStep(ctx context.Context, requestID, stepID int64) error {
	query := `
		UPDATE approvals
		SET status = ?
		WHERE request_id = ? AND step_id = ? AND status = ?
	`
	_, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		string(entity.ApprovalCancelled), requestID, stepID, string(entity.ApprovalPending))
	if err != nil {
		r.logger.Error("Failed to cancel pending approvals",
			zap.Int64("request_id", requestID),
			zap.Int64("step_id", stepID),
			zap.Error(err))
		return fmt.Errorf("failed to cancel pending approvals: %w", err)
	}
	return nil
}

func scanApproval(row rowScanner) (*entity.Approval, error) {
	var (
		approval  entity.Approval
		status    string
		decidedAt sql.NullTime
	)
	err := row.Scan(
		&approval.ID,
		&approval.RequestID,
		&approval.StepID,
		&approval.ApproverID,
		&status,
		&approval.Comments,
		&approval.CreatedAt,
		&decidedAt,
	)
	if err != nil {
		return nil, err
	}

	approval.Status = entity.ApprovalStatus(status)
	if decidedAt.Valid {
		approval.DecidedAt = &decidedAt.Time
	}
	return &approval, nil
}

var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
