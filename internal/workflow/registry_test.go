package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

type stubStepRepo struct {
	steps []*entity.StepDefinition
	err   error
}

func (r *stubStepRepo) ListAll(ctx context.Context) ([]*entity.StepDefinition, error) {
	return r.steps, r.err
}

func expenseSteps() []*entity.StepDefinition {
	return []*entity.StepDefinition{
		{ID: 3, RequestType: "expense_claim", Order: 3, StepType: entity.StepApproval, ApproverRule: "user:director"},
		{ID: 1, RequestType: "expense_claim", Order: 1, StepType: entity.StepApproval, ApproverRule: "role:finance"},
		{ID: 2, RequestType: "expense_claim", Order: 2, StepType: entity.StepOpinion, ApproverRule: "role:audit"},
	}
}

func TestNewRegistrySortsByOrder(t *testing.T) {
	registry, err := NewRegistry(context.Background(), &stubStepRepo{steps: expenseSteps()}, zap.NewNop())
	require.NoError(t, err)

	steps := registry.StepsFor("expense_claim")
	require.Len(t, steps, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{steps[0].ID, steps[1].ID, steps[2].ID})
}

func TestNewRegistryRejectsDuplicateOrder(t *testing.T) {
	steps := []*entity.StepDefinition{
		{ID: 1, RequestType: "expense_claim", Order: 1},
		{ID: 2, RequestType: "expense_claim", Order: 1},
	}
	_, err := NewRegistry(context.Background(), &stubStepRepo{steps: steps}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step order")
}

func TestRegistryNavigation(t *testing.T) {
	registry := NewStaticRegistry(expenseSteps())

	first := registry.FirstStep("expense_claim")
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.ID)

	second := registry.NextStep("expense_claim", first)
	require.NotNil(t, second)
	assert.Equal(t, int64(2), second.ID)
	assert.False(t, registry.IsLast("expense_claim", second))

	third := registry.NextStep("expense_claim", second)
	require.NotNil(t, third)
	assert.Nil(t, registry.NextStep("expense_claim", third))
	assert.True(t, registry.IsLast("expense_claim", third))
}

func TestRegistryNextStepSkipsOrderGaps(t *testing.T) {
	registry := NewStaticRegistry([]*entity.StepDefinition{
		{ID: 10, RequestType: "procurement", Order: 10},
		{ID: 30, RequestType: "procurement", Order: 30},
	})

	next := registry.NextStep("procurement", registry.FirstStep("procurement"))
	require.NotNil(t, next)
	assert.Equal(t, int64(30), next.ID)
}

func TestRegistryUnknownType(t *testing.T) {
	registry := NewStaticRegistry(expenseSteps())

	assert.Nil(t, registry.StepsFor("unknown"))
	assert.Nil(t, registry.FirstStep("unknown"))
	assert.Nil(t, registry.StepByID("unknown", 1))
}

func TestRegistryStepByID(t *testing.T) {
	registry := NewStaticRegistry(expenseSteps())

	step := registry.StepByID("expense_claim", 2)
	require.NotNil(t, step)
	assert.Equal(t, entity.StepOpinion, step.StepType)
	assert.Nil(t, registry.StepByID("expense_claim", 99))
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		rule     string
		wantKind entity.RuleKind
		wantArg  string
	}{
		{"role:finance", entity.RuleRole, "finance"},
		{"user:director", entity.RuleUser, "director"},
		{"expr:form.manager_id", entity.RuleExpr, "form.manager_id"},
		{"finance", entity.RuleRole, "finance"},
		{"group:finance", entity.RuleRole, "group:finance"},
	}

	for _, tt := range tests {
		step := &entity.StepDefinition{ApproverRule: tt.rule}
		kind, arg := step.ParseRule()
		assert.Equal(t, tt.wantKind, kind, tt.rule)
		assert.Equal(t, tt.wantArg, arg, tt.rule)
	}
}
