package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// Reconciler recomputes a request's ideal state from its recorded
// approvals and repairs drift, e.g. after a crash between the decision
// write and the advancement write. It only ever moves a request toward
// its approval-implied state, via a conditional compare-and-swap, so
// it is safe to run concurrently with live decisions.
type Reconciler struct {
	requests  port.RequestRepository
	approvals port.ApprovalRepository
	registry  *Registry
	resolver  *Resolver
	intents   port.IntentPublisher
	logger    *zap.Logger
}

// NewReconciler creates a reconciler over the same collaborators the
// engine uses.
func NewReconciler(
	requests port.RequestRepository,
	approvals port.ApprovalRepository,
	registry *Registry,
	resolver *Resolver,
	intents port.IntentPublisher,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		requests:  requests,
		approvals: approvals,
		registry:  registry,
		resolver:  resolver,
		intents:   intents,
		logger:    logger,
	}
}

// Outcome reports what one reconciliation pass did.
type Outcome struct {
	Fixed bool   `json:"fixed"`
	Issue string `json:"issue,omitempty"`
}

// Summary aggregates a batch pass. Failures maps request id to the
// error that prevented its reconciliation.
type Summary struct {
	Checked  int              `json:"checked"`
	Fixed    int              `json:"fixed"`
	Errors   int              `json:"errors"`
	Failures map[int64]string `json:"failures,omitempty"`
}

// idealState is the replayed target for one request.
type idealState struct {
	status domainwf.Status
	step   *entity.StepDefinition
}

// Reconcile compares one request's stored state to the state implied
// by its approvals and repairs a mismatch. A concurrent writer winning
// the conditional update is not an error: the stale fix is discarded
// and reported as Fixed: false.
func (r *Reconciler) Reconcile(ctx context.Context, requestID int64) (Outcome, error) {
	request, err := r.requests.GetByID(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	if request == nil {
		return Outcome{}, &domainwf.NotFoundError{Kind: "request", ID: fmt.Sprint(requestID)}
	}

	// Terminal states are authoritative. Cancellation in particular is
	// outside the approval-derived model and must never be re-derived
	// or reversed.
	if request.Status.IsTerminal() {
		return Outcome{}, nil
	}

	steps := r.registry.StepsFor(request.Type)
	if len(steps) == 0 {
		return Outcome{}, &domainwf.ConfigurationError{
			Reason: fmt.Sprintf("request type %q has no workflow steps", request.Type),
		}
	}

	rows, err := r.approvals.GetByRequest(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}

	ideal := replay(steps, rows)

	storedStep := request.CurrentStepID
	var idealStepID *int64
	if ideal.step != nil {
		idealStepID = &ideal.step.ID
	}

	if ideal.status == request.Status && stepIDsEqual(storedStep, idealStepID) {
		// State matches, but a crash between the state write and the
		// approver-row write can still leave the current step without
		// its eager rows.
		if idealStepID != nil && len(rowsAtStep(rows, *idealStepID)) == 0 {
			return r.recreateApproverRows(ctx, request, ideal.step)
		}
		return Outcome{}, nil
	}

	issue := describeDrift(request, ideal, idealStepID)

	if err := r.requests.UpdateStateVersioned(ctx, requestID, ideal.status, idealStepID, request.Version); err != nil {
		var conflict *domainwf.ConflictError
		if errors.As(err, &conflict) {
			// Another writer already fixed or changed it; a stale
			// reconciliation must be discarded, not applied.
			r.logger.Debug("Reconciliation discarded, request changed concurrently",
				zap.Int64("request_id", requestID))
			return Outcome{}, nil
		}
		return Outcome{}, err
	}

	// Entering a step that never got its Approval rows: create them
	// exactly as step entry would.
	if ideal.step != nil && len(rowsAtStep(rows, ideal.step.ID)) == 0 {
		approvers, err := r.resolver.Resolve(ctx, ideal.step, request)
		if err != nil {
			return Outcome{Fixed: true, Issue: issue}, err
		}
		if err := r.approvals.CreateBatch(ctx, pendingApprovals(requestID, ideal.step.ID, approvers)); err != nil {
			return Outcome{Fixed: true, Issue: issue}, err
		}
	}

	request.Status = ideal.status
	request.CurrentStepID = idealStepID
	kind := entity.IntentRequestAdvanced
	if ideal.status.IsTerminal() {
		kind = entity.IntentRequestClosed
	}
	r.intents.Publish(ctx, entity.NotificationIntent{
		Kind:      kind,
		RequestID: requestID,
		Status:    ideal.status,
		StepID:    idealStepID,
		Payload:   map[string]interface{}{"reconciled": true},
	})

	r.logger.Info("Request state repaired",
		zap.Int64("request_id", requestID),
		zap.String("issue", issue))
	return Outcome{Fixed: true, Issue: issue}, nil
}

// recreateApproverRows repairs a current step that lost its eager
// Approval rows without any state drift.
func (r *Reconciler) recreateApproverRows(ctx context.Context, request *entity.Request, step *entity.StepDefinition) (Outcome, error) {
	approvers, err := r.resolver.Resolve(ctx, step, request)
	if err != nil {
		return Outcome{}, err
	}
	if err := r.approvals.CreateBatch(ctx, pendingApprovals(request.ID, step.ID, approvers)); err != nil {
		return Outcome{}, err
	}

	issue := fmt.Sprintf("recreated %d missing approver assignments for step %d", len(approvers), step.ID)
	r.logger.Info("Approver rows recreated",
		zap.Int64("request_id", request.ID),
		zap.Int64("step_id", step.ID))
	return Outcome{Fixed: true, Issue: issue}, nil
}

// ReconcileActive reconciles up to limit active requests, newest
// first. Per-request errors are collected, not raised: one bad record
// must not block reconciliation of the rest. Running the batch twice
// with no intervening decisions fixes nothing on the second pass.
func (r *Reconciler) ReconcileActive(ctx context.Context, limit int) (Summary, error) {
	requests, err := r.requests.ListActive(ctx, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list active requests: %w", err)
	}

	summary := Summary{Failures: make(map[int64]string)}
	for _, request := range requests {
		summary.Checked++
		outcome, err := r.Reconcile(ctx, request.ID)
		if err != nil {
			summary.Errors++
			summary.Failures[request.ID] = err.Error()
			r.logger.Error("Failed to reconcile request",
				zap.Int64("request_id", request.ID),
				zap.Error(err))
			continue
		}
		if outcome.Fixed {
			summary.Fixed++
		}
	}

	r.logger.Info("Reconciliation batch complete",
		zap.Int("checked", summary.Checked),
		zap.Int("fixed", summary.Fixed),
		zap.Int("errors", summary.Errors))
	return summary, nil
}

// replay recomputes the ideal state from approvals alone, applying the
// same satisfaction rules as the engine from the first step forward.
// A decided rejection on any approval-type step short-circuits to
// rejected; otherwise the request sits at the first unsatisfied step.
// Absence of progress is not drift: all-pending approvals replay to
// the stored pending/in_progress state, never to a terminal one.
func replay(steps []*entity.StepDefinition, rows []*entity.Approval) idealState {
	anyDecision := false
	for _, a := range rows {
		if a.Status.Decided() && a.ApproverID != entity.SystemApproverID {
			anyDecision = true
			break
		}
	}

	activeStatus := domainwf.StatusPending
	if anyDecision {
		activeStatus = domainwf.StatusInProgress
	}

	for _, step := range steps {
		stepRows := rowsAtStep(rows, step.ID)
		if stepRejected(step, stepRows) {
			return idealState{status: domainwf.StatusRejected}
		}
		if !stepSatisfied(step, stepRows) {
			return idealState{status: activeStatus, step: step}
		}
	}
	return idealState{status: domainwf.StatusApproved}
}

func describeDrift(request *entity.Request, ideal idealState, idealStepID *int64) string {
	stored := "none"
	if request.CurrentStepID != nil {
		stored = fmt.Sprint(*request.CurrentStepID)
	}
	target := "none"
	if idealStepID != nil {
		target = fmt.Sprint(*idealStepID)
	}
	return fmt.Sprintf("corrected status %s (step %s) to %s (step %s) from recorded approvals",
		request.Status, stored, ideal.status, target)
}

func stepIDsEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
