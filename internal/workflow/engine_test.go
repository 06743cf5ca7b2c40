package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
)

func TestSubmitCreatesPendingRequestWithEagerApprovals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusPending, request.Status)
	require.NotNil(t, request.CurrentStepID)
	assert.Equal(t, int64(1), *request.CurrentStepID)

	rows, err := e.approvals.GetByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "u-101", rows[0].ApproverID)
	assert.Equal(t, "u-102", rows[1].ApproverID)
	for _, row := range rows {
		assert.Equal(t, entity.ApprovalPending, row.Status)
		assert.Equal(t, int64(1), row.StepID)
	}

	assert.Equal(t, []entity.IntentKind{entity.IntentRequestSubmitted}, e.published.kinds())
}

func TestSubmitRejectsInvalidForm(t *testing.T) {
	e := newEnv(t)

	_, err := e.engine.Submit(context.Background(), "expense_claim", "u-001", map[string]interface{}{
		"total_amount": "lots",
	})

	var validationErr *domainwf.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{
		"field Title is required",
		"field Total Amount must be a number",
	}, validationErr.Errors)

	active, _ := e.requests.ListActive(context.Background(), 10)
	assert.Empty(t, active, "nothing persisted on validation failure")
}

func TestSubmitUnknownTypeIsNotFound(t *testing.T) {
	e := newEnv(t)

	_, err := e.engine.Submit(context.Background(), "vacation", "u-001", nil)

	var notFoundErr *domainwf.NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}

func TestSubmitWithNoEligibleApproverRejectsImmediately(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// manager_id is optional; without it the dynamic rule resolves to
	// no approvers
	request, err := e.engine.Submit(ctx, "leave_request", "u-001", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusRejected, request.Status)
	assert.Nil(t, request.CurrentStepID)

	rows, err := e.approvals.GetByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, entity.SystemApproverID, rows[0].ApproverID)
	assert.Equal(t, entity.ApprovalRejected, rows[0].Status)
	assert.Equal(t, "no eligible approver", rows[0].Comments)

	assert.Equal(t, []entity.IntentKind{entity.IntentRequestClosed}, e.published.kinds())
}

func TestDecideFirstApprovalMovesPendingToInProgress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)

	updated, err := e.engine.Decide(ctx, request.ID, "u-101", entity.ApprovalApproved, "ok")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusInProgress, updated.Status)
	require.NotNil(t, updated.CurrentStepID)
	assert.Equal(t, int64(1), *updated.CurrentStepID, "step 1 still waits for u-102")
}

func TestDecideAdvancesWhenStepSatisfied(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)

	_, err = e.engine.Decide(ctx, request.ID, "u-101", entity.ApprovalApproved, "")
	require.NoError(t, err)
	updated, err := e.engine.Decide(ctx, request.ID, "u-102", entity.ApprovalApproved, "")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StatusInProgress, updated.Status)
	require.NotNil(t, updated.CurrentStepID)
	assert.Equal(t, int64(2), *updated.CurrentStepID)

	rows, err := e.approvals.GetByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3, "audit row created eagerly at step entry")
	assert.Equal(t, "u-201", rows[2].ApproverID)
	assert.Equal(t, entity.ApprovalPending, rows[2].Status)
}

func TestDecideFirstRejectionWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)

	updated, err := e.engine.Decide(ctx, request.ID, "u-101", entity.ApprovalRejected, "over budget")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusRejected, updated.Status)
	assert.Nil(t, updated.CurrentStepID)

	rows, err := e.approvals.GetByRequest(ctx, request.ID)
	require.NoError(t, err)
	byApprover := map[string]entity.ApprovalStatus{}
	for _, row := range rows {
		byApprover[row.ApproverID] = row.Status
	}
	assert.Equal(t, entity.ApprovalRejected, byApprover["u-101"])
	assert.Equal(t, entity.ApprovalCancelled, byApprover["u-102"], "sibling pending row voided")

	// Late decisions bounce off the terminal status.
	_, err = e.engine.Decide(ctx, request.ID, "u-102", entity.ApprovalApproved, "")
	var stateErr *domainwf.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domainwf.StatusRejected, stateErr.Status)
}

func TestOpinionStepNeverBlocksOrRejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)
	_, err = e.engine.Decide(ctx, request.ID, "u-101", entity.ApprovalApproved, "")
	require.NoError(t, err)
	_, err = e.engine.Decide(ctx, request.ID, "u-102", entity.ApprovalApproved, "")
	require.NoError(t, err)

	// A rejected opinion advances the request instead of terminating it.
	updated, err := e.engine.Decide(ctx, request.ID, "u-201", entity.ApprovalRejected, "numbers look off")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusInProgress, updated.Status)
	require.NotNil(t, updated.CurrentStepID)
	assert.Equal(t, int64(3), *updated.CurrentStepID)
}

func TestFullApprovalPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)

	for _, decision := range []struct {
		approver string
		status   entity.ApprovalStatus
	}{
		{"u-101", entity.ApprovalApproved},
		{"u-102", entity.ApprovalApproved},
		{"u-201", entity.ApprovalApproved},
		{"u-director", entity.ApprovalApproved},
	} {
		_, err = e.engine.Decide(ctx, request.ID, decision.approver, decision.status, "")
		require.NoError(t, err, decision.approver)
	}

	final, err := e.requests.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusApproved, final.Status)
	assert.Nil(t, final.CurrentStepID)

	kinds := e.published.kinds()
	assert.Equal(t, entity.IntentRequestSubmitted, kinds[0])
	assert.Equal(t, entity.IntentRequestClosed, kinds[len(kinds)-1])
}

func TestDecideRejectsUnknownApprover(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)

	_, err = e.engine.Decide(ctx, request.ID, "u-999", entity.ApprovalApproved, "")
	var notFoundErr *domainwf.NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "pending approval", notFoundErr.Kind)
}

func TestDecideIsIdempotentPerApprover(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)

	_, err = e.engine.Decide(ctx, request.ID, "u-101", entity.ApprovalApproved, "")
	require.NoError(t, err)

	// The row is no longer pending, so a second decision finds nothing.
	_, err = e.engine.Decide(ctx, request.ID, "u-101", entity.ApprovalApproved, "")
	var notFoundErr *domainwf.NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}

func TestDecideValidatesDecisionValue(t *testing.T) {
	e := newEnv(t)

	_, err := e.engine.Decide(context.Background(), 1, "u-101", entity.ApprovalStatus("maybe"), "")
	require.ErrorIs(t, err, ErrInvalidDecision)

	_, err = e.engine.Decide(context.Background(), 1, "u-101", entity.ApprovalPending, "")
	require.ErrorIs(t, err, ErrInvalidDecision)
}

func TestDecideMissingRequest(t *testing.T) {
	e := newEnv(t)

	_, err := e.engine.Decide(context.Background(), 404, "u-101", entity.ApprovalApproved, "")
	var notFoundErr *domainwf.NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "request", notFoundErr.Kind)
}

func TestCancelActiveRequest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)

	cancelled, err := e.engine.Cancel(ctx, request.ID, "u-001")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.CurrentStepID)

	rows, err := e.approvals.GetByRequest(ctx, request.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, entity.ApprovalCancelled, row.Status)
	}

	_, err = e.engine.Cancel(ctx, request.ID, "u-001")
	var stateErr *domainwf.StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestGetRequestListsCurrentApprovers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)
	_, err = e.engine.Decide(ctx, request.ID, "u-101", entity.ApprovalApproved, "")
	require.NoError(t, err)

	detail, err := e.engine.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Approvals, 2)
	assert.Equal(t, []string{"u-102"}, detail.CurrentApprovers)
}

func TestConcurrentDecisionsOneWinnerPerApprover(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	request, err := e.engine.Submit(ctx, "expense_claim", "u-001", validExpenseForm())
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.engine.Decide(ctx, request.ID, "u-101", entity.ApprovalApproved, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one attempt records the decision")

	rows, err := e.approvals.GetByRequest(ctx, request.ID)
	require.NoError(t, err)
	decided := 0
	for _, row := range rows {
		if row.ApproverID == "u-101" && row.Status == entity.ApprovalApproved {
			decided++
		}
	}
	assert.Equal(t, 1, decided)
}
