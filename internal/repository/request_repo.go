package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// RequestRepository implements port.RequestRepository over sqlite.
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db *sql.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{db: db, logger: logger}
}

const requestColumns = `id, request_type, submitter_id, status, current_step_id, form_data, version, created_at, updated_at`

// Create inserts a new request and sets its generated id.
func (r *RequestRepository) Create(ctx context.Context, request *entity.Request) error {
	formData, err := json.Marshal(request.FormData)
	if err != nil {
		return fmt.Errorf("failed to encode form data: %w", err)
	}

	query := `
		INSERT INTO requests (request_type, submitter_id, status, current_step_id, form_data)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		request.Type,
		request.SubmitterID,
		string(request.Status),
		request.CurrentStepID,
		string(formData),
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	request.ID = id
	return nil
}

// GetByID retrieves a request by id, or nil when it does not exist.
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = ?`

	request, err := scanRequest(executorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return request, nil
}

// UpdateState writes status and current step and bumps the version.
func (r *RequestRepository) UpdateState(ctx context.Context, id int64, status workflow.Status, currentStepID *int64) error {
	query := `
		UPDATE requests
		SET status = ?, current_step_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	_, err := executorFrom(ctx, r.db).ExecContext(ctx, query, string(status), currentStepID, id)
	if err != nil {
		r.logger.Error("Failed to update request state",
			zap.Int64("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to update request state: %w", err)
	}
	return nil
}

// UpdateStateVersioned is the conditional variant used by the
// reconciler: the write only applies when the stored version still
// matches expectedVersion, otherwise a ConflictError is returned.
func (r *RequestRepository) UpdateStateVersioned(ctx context.Context, id int64, status workflow.Status, currentStepID *int64, expectedVersion int64) error {
	query := `
		UPDATE requests
		SET status = ?, current_step_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`
	result, err := executorFrom(ctx, r.db).ExecContext(ctx, query, string(status), currentStepID, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update request state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return &workflow.ConflictError{RequestID: id}
	}
	return nil
}

// ListActive returns up to limit requests in an active status,
// most-recently-created first.
func (r *RequestRepository) ListActive(ctx context.Context, limit int) ([]*entity.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status IN (?, ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query,
		string(workflow.StatusPending),
		string(workflow.StatusInProgress),
		limit,
	)
	if err != nil {
		r.logger.Error("Failed to list active requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list active requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// List retrieves requests with pagination, newest first.
func (r *RequestRepository) List(ctx context.Context, limit, offset int) ([]*entity.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.Request, error) {
	var (
		request       entity.Request
		status        string
		currentStepID sql.NullInt64
		formData      string
	)
	err := row.Scan(
		&request.ID,
		&request.Type,
		&request.SubmitterID,
		&status,
		&currentStepID,
		&formData,
		&request.Version,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	request.Status = workflow.Status(status)
	if currentStepID.Valid {
		request.CurrentStepID = &currentStepID.Int64
	}
	if err := json.Unmarshal([]byte(formData), &request.FormData); err != nil {
		return nil, fmt.Errorf("failed to decode form data: %w", err)
	}
	return &request, nil
}

func collectRequests(rows *sql.Rows) ([]*entity.Request, error) {
	var requests []*entity.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

var _ port.RequestRepository = (*RequestRepository)(nil)
