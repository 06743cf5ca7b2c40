package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
	"github.com/garyjia/portal-workflow/internal/form"
)

// ErrInvalidDecision is returned when a decision is neither approved
// nor rejected.
var ErrInvalidDecision = errors.New("decision must be approved or rejected")

// noEligibleApproverComment is the synthetic system comment written
// when a request's first step resolves to no approvers.
const noEligibleApproverComment = "no eligible approver"

// Engine orchestrates submission, decision recording, and step
// advancement for requests.
//
// Decide and Cancel are serialized per request id through an
// in-process lock table; the read-decide-write sequence for one
// request never interleaves with another writer's. Notification
// intents are published through a non-blocking publisher, so no
// network I/O happens inside the critical section.
type Engine struct {
	requests  port.RequestRepository
	approvals port.ApprovalRepository
	registry  *Registry
	resolver  *Resolver
	schemas   map[string][]entity.FieldSchema
	tx        port.TransactionManager
	intents   port.IntentPublisher
	logger    *zap.Logger
	locks     *lockTable
}

// NewEngine creates a workflow engine. A request type whose schema has
// no fields is accepted but logged as a configuration warning: such a
// form is vacuously valid for any input.
func NewEngine(
	requests port.RequestRepository,
	approvals port.ApprovalRepository,
	registry *Registry,
	resolver *Resolver,
	schemas map[string][]entity.FieldSchema,
	tx port.TransactionManager,
	intents port.IntentPublisher,
	logger *zap.Logger,
) *Engine {
	for requestType, schema := range schemas {
		if len(schema) == 0 {
			logger.Warn("Request type has an empty form schema",
				zap.String("request_type", requestType))
		}
	}

	return &Engine{
		requests:  requests,
		approvals: approvals,
		registry:  registry,
		resolver:  resolver,
		schemas:   schemas,
		tx:        tx,
		intents:   intents,
		logger:    logger,
		locks:     newLockTable(),
	}
}

// RequestDetail is the read model for rendering approval timelines.
type RequestDetail struct {
	Request          *entity.Request
	Approvals        []*entity.Approval
	CurrentApprovers []string
}

// Submit validates formData against the type's schema, creates the
// request at the template's first step, and eagerly creates one
// pending Approval per resolved approver.
//
// When the first step resolves to no approvers the request is created
// and immediately rejected with a system comment instead of being left
// stuck in pending with no Approval rows.
func (e *Engine) Submit(ctx context.Context, requestType, submitterID string, formData map[string]interface{}) (*entity.Request, error) {
	schema, hasSchema := e.schemas[requestType]
	steps := e.registry.StepsFor(requestType)
	if !hasSchema && len(steps) == 0 {
		return nil, &domainwf.NotFoundError{Kind: "request type", ID: requestType}
	}

	if result := form.Validate(formData, schema); !result.Valid {
		return nil, &domainwf.ValidationError{Errors: result.Errors}
	}

	if len(steps) == 0 {
		return nil, &domainwf.ConfigurationError{
			Reason: fmt.Sprintf("request type %q has no workflow steps", requestType),
		}
	}
	first := steps[0]

	request := &entity.Request{
		Type:          requestType,
		SubmitterID:   submitterID,
		Status:        domainwf.StatusPending,
		CurrentStepID: &first.ID,
		FormData:      formData,
	}

	approvers, err := e.resolver.Resolve(ctx, first, request)
	var cfgErr *domainwf.ConfigurationError
	if errors.As(err, &cfgErr) {
		return e.submitRejected(ctx, request, first, cfgErr)
	}
	if err != nil {
		return nil, err
	}

	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := e.requests.Create(ctx, request); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return e.approvals.CreateBatch(ctx, pendingApprovals(request.ID, first.ID, approvers))
	})
	if err != nil {
		e.logger.Error("Failed to submit request",
			zap.String("request_type", requestType),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("Request submitted",
		zap.Int64("request_id", request.ID),
		zap.String("request_type", requestType),
		zap.Int("approvers", len(approvers)))
	e.emit(ctx, entity.IntentRequestSubmitted, request, nil)

	return request, nil
}

// submitRejected persists a request whose first step could not be
// entered, already in rejected status, with a synthetic system
// approval row recording why.
func (e *Engine) submitRejected(ctx context.Context, request *entity.Request, first *entity.StepDefinition, cause *domainwf.ConfigurationError) (*entity.Request, error) {
	request.Status = domainwf.StatusRejected
	request.CurrentStepID = nil

	now := time.Now()
	err := e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := e.requests.Create(ctx, request); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return e.approvals.CreateBatch(ctx, []*entity.Approval{{
			RequestID:  request.ID,
			StepID:     first.ID,
			ApproverID: entity.SystemApproverID,
			Status:     entity.ApprovalRejected,
			Comments:   noEligibleApproverComment,
			DecidedAt:  &now,
		}})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Warn("Request rejected at submission, first step has no approvers",
		zap.Int64("request_id", request.ID),
		zap.String("reason", cause.Reason))
	e.emit(ctx, entity.IntentRequestClosed, request, map[string]interface{}{
		"reason": noEligibleApproverComment,
	})

	return request, nil
}

// Decide records one approver's decision on the request's current step
// and advances or terminates the request accordingly.
//
// The decision write and the advancement write are separate units:
// if the process dies between them the reconciler replays the
// advancement from the recorded approvals.
func (e *Engine) Decide(ctx context.Context, requestID int64, approverID string, decision entity.ApprovalStatus, comments string) (*entity.Request, error) {
	if decision != entity.ApprovalApproved && decision != entity.ApprovalRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	release := e.locks.acquire(requestID)
	defer release()

	request, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, &domainwf.NotFoundError{Kind: "request", ID: fmt.Sprint(requestID)}
	}
	if !request.Status.IsActive() {
		return nil, &domainwf.StateError{Status: request.Status, Action: "decide on"}
	}

	stepID := *request.CurrentStepID
	step := e.registry.StepByID(request.Type, stepID)
	if step == nil {
		return nil, &domainwf.ConfigurationError{
			Reason: fmt.Sprintf("request %d references unknown step %d", requestID, stepID),
		}
	}

	pending, err := e.approvals.GetPending(ctx, requestID, stepID, approverID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, &domainwf.NotFoundError{
			Kind: "pending approval",
			ID:   fmt.Sprintf("request %d approver %s", requestID, approverID),
		}
	}

	if err := e.approvals.Decide(ctx, pending.ID, decision, comments, time.Now()); err != nil {
		return nil, err
	}
	e.logger.Info("Decision recorded",
		zap.Int64("request_id", requestID),
		zap.Int64("step_id", stepID),
		zap.String("approver_id", approverID),
		zap.String("decision", string(decision)))

	e.emit(ctx, entity.IntentApprovalRecorded, request, map[string]interface{}{
		"approver_id": approverID,
		"decision":    string(decision),
	})

	// First rejection on an approval step wins: the request terminates
	// and the step's other pending rows are voided, not left dangling.
	if step.StepType == entity.StepApproval && decision == entity.ApprovalRejected {
		err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
			if err := e.approvals.CancelPendingAtStep(ctx, requestID, stepID); err != nil {
				return err
			}
			return e.requests.UpdateState(ctx, requestID, domainwf.StatusRejected, nil)
		})
		if err != nil {
			return nil, err
		}
		request.Status = domainwf.StatusRejected
		request.CurrentStepID = nil
		e.emit(ctx, entity.IntentRequestClosed, request, nil)
		return e.requests.GetByID(ctx, requestID)
	}

	rows, err := e.approvals.GetByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !stepSatisfied(step, rowsAtStep(rows, stepID)) {
		// Step still waiting on other approvers; the first decision
		// moves the request out of pending.
		if request.Status == domainwf.StatusPending {
			if err := e.requests.UpdateState(ctx, requestID, domainwf.StatusInProgress, &stepID); err != nil {
				return nil, err
			}
			request.Status = domainwf.StatusInProgress
			e.emit(ctx, entity.IntentRequestAdvanced, request, nil)
		}
		return e.requests.GetByID(ctx, requestID)
	}

	if err := e.advance(ctx, request, step); err != nil {
		return nil, err
	}
	return e.requests.GetByID(ctx, requestID)
}

// advance moves a request whose current step is satisfied to the next
// step, or to approved when the satisfied step was the last one.
// Entering a step resolves its approvers and eagerly creates their
// pending Approval rows.
func (e *Engine) advance(ctx context.Context, request *entity.Request, current *entity.StepDefinition) error {
	next := e.registry.NextStep(request.Type, current)
	if next == nil {
		if err := e.requests.UpdateState(ctx, request.ID, domainwf.StatusApproved, nil); err != nil {
			return err
		}
		request.Status = domainwf.StatusApproved
		request.CurrentStepID = nil
		e.logger.Info("Request approved", zap.Int64("request_id", request.ID))
		e.emit(ctx, entity.IntentRequestClosed, request, nil)
		return nil
	}

	approvers, err := e.resolver.Resolve(ctx, next, request)
	if err != nil {
		// The decision is already recorded; surfacing the error leaves
		// the request one step behind its approvals, which the
		// reconciler repairs once the template is fixed.
		return err
	}

	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := e.approvals.CreateBatch(ctx, pendingApprovals(request.ID, next.ID, approvers)); err != nil {
			return err
		}
		return e.requests.UpdateState(ctx, request.ID, domainwf.StatusInProgress, &next.ID)
	})
	if err != nil {
		return err
	}

	request.Status = domainwf.StatusInProgress
	request.CurrentStepID = &next.ID
	e.logger.Info("Request advanced",
		zap.Int64("request_id", request.ID),
		zap.Int64("step_id", next.ID),
		zap.Int("approvers", len(approvers)))
	e.emit(ctx, entity.IntentRequestAdvanced, request, nil)
	return nil
}

// Cancel terminates an active request on explicit submitter or
// administrator action. Cancellation is authoritative: it is never
// derived from approvals and the reconciler never reverses it.
func (e *Engine) Cancel(ctx context.Context, requestID int64, byUserID string) (*entity.Request, error) {
	release := e.locks.acquire(requestID)
	defer release()

	request, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, &domainwf.NotFoundError{Kind: "request", ID: fmt.Sprint(requestID)}
	}
	if !request.Status.IsActive() {
		return nil, &domainwf.StateError{Status: request.Status, Action: "cancel"}
	}

	stepID := *request.CurrentStepID
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := e.approvals.CancelPendingAtStep(ctx, requestID, stepID); err != nil {
			return err
		}
		return e.requests.UpdateState(ctx, requestID, domainwf.StatusCancelled, nil)
	})
	if err != nil {
		return nil, err
	}

	request.Status = domainwf.StatusCancelled
	request.CurrentStepID = nil
	e.logger.Info("Request cancelled",
		zap.Int64("request_id", requestID),
		zap.String("by_user_id", byUserID))
	e.emit(ctx, entity.IntentRequestClosed, request, map[string]interface{}{
		"cancelled_by": byUserID,
	})

	return e.requests.GetByID(ctx, requestID)
}

// GetRequest returns the request, its full approval history, and the
// approvers still expected to act on the current step. Eager Approval
// creation makes "who still needs to act" a pure read.
func (e *Engine) GetRequest(ctx context.Context, requestID int64) (*RequestDetail, error) {
	request, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, &domainwf.NotFoundError{Kind: "request", ID: fmt.Sprint(requestID)}
	}

	rows, err := e.approvals.GetByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	detail := &RequestDetail{Request: request, Approvals: rows}
	if request.CurrentStepID != nil {
		for _, a := range rowsAtStep(rows, *request.CurrentStepID) {
			if a.Status == entity.ApprovalPending {
				detail.CurrentApprovers = append(detail.CurrentApprovers, a.ApproverID)
			}
		}
	}
	return detail, nil
}

// ListRequests returns a page of requests, newest first.
func (e *Engine) ListRequests(ctx context.Context, limit, offset int) ([]*entity.Request, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.requests.List(ctx, limit, offset)
}

func (e *Engine) emit(ctx context.Context, kind entity.IntentKind, request *entity.Request, payload map[string]interface{}) {
	e.intents.Publish(ctx, entity.NotificationIntent{
		Kind:      kind,
		RequestID: request.ID,
		Status:    request.Status,
		StepID:    request.CurrentStepID,
		Payload:   payload,
	})
}

// pendingApprovals builds the eager Approval rows created at step
// entry, one per resolved approver.
func pendingApprovals(requestID, stepID int64, approvers []string) []*entity.Approval {
	rows := make([]*entity.Approval, 0, len(approvers))
	for _, id := range approvers {
		rows = append(rows, &entity.Approval{
			RequestID:  requestID,
			StepID:     stepID,
			ApproverID: id,
			Status:     entity.ApprovalPending,
		})
	}
	return rows
}

// rowsAtStep filters a request's approvals down to one step.
func rowsAtStep(rows []*entity.Approval, stepID int64) []*entity.Approval {
	var out []*entity.Approval
	for _, a := range rows {
		if a.StepID == stepID {
			out = append(out, a)
		}
	}
	return out
}

// stepSatisfied applies the step-type satisfaction rule to the rows of
// one step. An approval step needs every resolved approver to have
// approved; an opinion step only needs every resolved approver to have
// recorded some decision, regardless of polarity.
func stepSatisfied(step *entity.StepDefinition, rows []*entity.Approval) bool {
	if len(rows) == 0 {
		return false
	}
	for _, a := range rows {
		switch step.StepType {
		case entity.StepApproval:
			if a.Status != entity.ApprovalApproved {
				return false
			}
		case entity.StepOpinion:
			if !a.Status.Decided() {
				return false
			}
		}
	}
	return true
}

// stepRejected reports whether an approval-type step has recorded a
// rejection. Opinion steps never reject.
func stepRejected(step *entity.StepDefinition, rows []*entity.Approval) bool {
	if step.StepType != entity.StepApproval {
		return false
	}
	for _, a := range rows {
		if a.Status == entity.ApprovalRejected {
			return true
		}
	}
	return false
}
