package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
	"github.com/garyjia/portal-workflow/internal/identity"
	"github.com/garyjia/portal-workflow/internal/rules"
)

// memRequestRepo is an in-memory port.RequestRepository. Reads return
// copies so tests see the same snapshot semantics the sql store gives.
type memRequestRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*entity.Request
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{rows: make(map[int64]*entity.Request)}
}

func (r *memRequestRepo) Create(ctx context.Context, request *entity.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	request.ID = r.nextID
	request.CreatedAt = time.Now()
	request.UpdatedAt = request.CreatedAt
	stored := *request
	r.rows[request.ID] = &stored
	return nil
}

func (r *memRequestRepo) GetByID(ctx context.Context, id int64) (*entity.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	out := *stored
	return &out, nil
}

func (r *memRequestRepo) UpdateState(ctx context.Context, id int64, status domainwf.Status, currentStepID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("request %d not found", id)
	}
	stored.Status = status
	stored.CurrentStepID = currentStepID
	stored.Version++
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *memRequestRepo) UpdateStateVersioned(ctx context.Context, id int64, status domainwf.Status, currentStepID *int64, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[id]
	if !ok || stored.Version != expectedVersion {
		return &domainwf.ConflictError{RequestID: id}
	}
	stored.Status = status
	stored.CurrentStepID = currentStepID
	stored.Version++
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *memRequestRepo) ListActive(ctx context.Context, limit int) ([]*entity.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Request
	for _, stored := range r.rows {
		if stored.Status.IsActive() {
			copied := *stored
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRequestRepo) List(ctx context.Context, limit, offset int) ([]*entity.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Request
	for _, stored := range r.rows {
		copied := *stored
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// setState overwrites a request's state directly, bypassing version
// bumps, to simulate drift left by a crash.
func (r *memRequestRepo) setState(id int64, status domainwf.Status, currentStepID *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.rows[id]
	stored.Status = status
	stored.CurrentStepID = currentStepID
}

// memApprovalRepo is an in-memory port.ApprovalRepository.
type memApprovalRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*entity.Approval
}

func newMemApprovalRepo() *memApprovalRepo {
	return &memApprovalRepo{}
}

func (r *memApprovalRepo) CreateBatch(ctx context.Context, approvals []*entity.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range approvals {
		r.nextID++
		a.ID = r.nextID
		if a.Status == "" {
			a.Status = entity.ApprovalPending
		}
		a.CreatedAt = time.Now()
		stored := *a
		r.rows = append(r.rows, &stored)
	}
	return nil
}

func (r *memApprovalRepo) GetByRequest(ctx context.Context, requestID int64) ([]*entity.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Approval
	for _, stored := range r.rows {
		if stored.RequestID == requestID {
			copied := *stored
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memApprovalRepo) GetPending(ctx context.Context, requestID, stepID int64, approverID string) (*entity.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.rows {
		if stored.RequestID == requestID && stored.StepID == stepID &&
			stored.ApproverID == approverID && stored.Status == entity.ApprovalPending {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memApprovalRepo) Decide(ctx context.Context, id int64, status entity.ApprovalStatus, comments string, decidedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.rows {
		if stored.ID == id {
			if stored.Status != entity.ApprovalPending {
				return fmt.Errorf("approval %d is not pending", id)
			}
			stored.Status = status
			stored.Comments = comments
			stored.DecidedAt = &decidedAt
			return nil
		}
	}
	return fmt.Errorf("approval %d is not pending", id)
}

func (r *memApprovalRepo) CancelPendingAtStep(ctx context.Context, requestID, stepID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.rows {
		if stored.RequestID == requestID && stored.StepID == stepID &&
			stored.Status == entity.ApprovalPending {
			stored.Status = entity.ApprovalCancelled
		}
	}
	return nil
}

// deleteAtStep drops rows outright to simulate a crash before the
// eager-creation write landed.
func (r *memApprovalRepo) deleteAtStep(requestID, stepID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, stored := range r.rows {
		if stored.RequestID != requestID || stored.StepID != stepID {
			kept = append(kept, stored)
		}
	}
	r.rows = kept
}

// memTxManager runs the function directly; the in-memory stores are
// not transactional.
type memTxManager struct{}

func (memTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// capturePublisher records published intents for assertions.
type capturePublisher struct {
	mu      sync.Mutex
	intents []entity.NotificationIntent
}

func (p *capturePublisher) Publish(ctx context.Context, intent entity.NotificationIntent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents = append(p.intents, intent)
}

func (p *capturePublisher) kinds() []entity.IntentKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]entity.IntentKind, 0, len(p.intents))
	for _, intent := range p.intents {
		out = append(out, intent.Kind)
	}
	return out
}

// env bundles an engine and reconciler over shared in-memory stores
// with the standard expense workflow: finance approval, audit opinion,
// director approval.
type env struct {
	engine     *Engine
	reconciler *Reconciler
	requests   *memRequestRepo
	approvals  *memApprovalRepo
	registry   *Registry
	published  *capturePublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()

	steps := []*entity.StepDefinition{
		{ID: 1, RequestType: "expense_claim", Order: 1, StepType: entity.StepApproval, ApproverRule: "role:finance"},
		{ID: 2, RequestType: "expense_claim", Order: 2, StepType: entity.StepOpinion, ApproverRule: "role:audit"},
		{ID: 3, RequestType: "expense_claim", Order: 3, StepType: entity.StepApproval, ApproverRule: "user:u-director"},
		{ID: 4, RequestType: "leave_request", Order: 1, StepType: entity.StepApproval, ApproverRule: "expr:form.manager_id"},
	}
	registry := NewStaticRegistry(steps)

	directory := identity.NewStaticDirectory(map[string][]string{
		"finance": {"u-101", "u-102"},
		"audit":   {"u-201"},
	})
	resolver := NewResolver(directory, rules.NewExprEvaluator(), zap.NewNop())

	schemas := map[string][]entity.FieldSchema{
		"expense_claim": {
			{Name: "title", Label: "Title", Type: entity.FieldText, Required: true},
			{Name: "total_amount", Label: "Total Amount", Type: entity.FieldNumber, Required: true},
		},
		"leave_request": {
			{Name: "manager_id", Label: "Manager", Type: entity.FieldText, Required: false},
		},
	}

	requests := newMemRequestRepo()
	approvals := newMemApprovalRepo()
	published := &capturePublisher{}

	return &env{
		engine: NewEngine(requests, approvals, registry, resolver, schemas,
			memTxManager{}, published, zap.NewNop()),
		reconciler: NewReconciler(requests, approvals, registry, resolver,
			published, zap.NewNop()),
		requests:  requests,
		approvals: approvals,
		registry:  registry,
		published: published,
	}
}

func validExpenseForm() map[string]interface{} {
	return map[string]interface{}{
		"title":        "team offsite",
		"total_amount": 420.5,
	}
}
