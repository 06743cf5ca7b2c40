package entity

import "strings"

// StepType distinguishes blocking approval steps from informational
// opinion steps.
type StepType string

const (
	// StepApproval blocks until every resolved approver approves and
	// rejects the whole request on the first rejection.
	StepApproval StepType = "approval"
	// StepOpinion is satisfied once every resolved approver has
	// recorded any decision; it never causes a rejection.
	StepOpinion StepType = "opinion"
)

// RuleKind identifies the approver-resolution strategy of a step.
type RuleKind string

const (
	RuleRole RuleKind = "role"
	RuleUser RuleKind = "user"
	RuleExpr RuleKind = "expr"
)

// StepDefinition is a template-level stage, shared across all requests
// of a type. Order is strictly increasing and unique within a type;
// advancement moves to the step with the next-greater order.
type StepDefinition struct {
	ID           int64
	RequestType  string
	Order        int
	StepType     StepType
	ApproverRule string
}

// ParseRule splits the approver rule into its kind and argument.
// Rules are written as "role:finance", "user:u-102" or
// "expr:form.manager_id". An unprefixed rule is treated as a role
// name.
func (s *StepDefinition) ParseRule() (RuleKind, string) {
	kind, arg, found := strings.Cut(s.ApproverRule, ":")
	if !found {
		return RuleRole, s.ApproverRule
	}
	switch RuleKind(kind) {
	case RuleRole, RuleUser, RuleExpr:
		return RuleKind(kind), arg
	default:
		return RuleRole, s.ApproverRule
	}
}
