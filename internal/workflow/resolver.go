package workflow

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
	"github.com/garyjia/portal-workflow/internal/rules"
)

// Resolver turns a step's abstract approver rule into concrete
// identities. Role rules are re-resolved at every step entry so role
// membership changes after submission still take effect.
type Resolver struct {
	directory port.IdentityDirectory
	evaluator rules.Evaluator
	logger    *zap.Logger
}

// NewResolver creates a resolver over an identity directory and a rule
// evaluator.
func NewResolver(directory port.IdentityDirectory, evaluator rules.Evaluator, logger *zap.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Resolve returns the deduplicated, sorted set of approver ids for a
// step of a request. A role or expression rule that yields no
// identities is a configuration error: it must block step entry, not
// silently skip the step.
func (r *Resolver) Resolve(ctx context.Context, step *entity.StepDefinition, request *entity.Request) ([]string, error) {
	kind, arg := step.ParseRule()

	var (
		approvers []string
		err       error
	)
	switch kind {
	case entity.RuleUser:
		approvers = []string{arg}

	case entity.RuleRole:
		approvers, err = r.directory.UsersWithRole(ctx, arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %q: %w", arg, err)
		}

	case entity.RuleExpr:
		approvers, err = r.resolveExpr(arg, request)
		if err != nil {
			return nil, err
		}
	}

	approvers = dedupe(approvers)
	if len(approvers) == 0 {
		return nil, &domainwf.ConfigurationError{
			Reason: fmt.Sprintf("step %d rule %q resolved to no approvers", step.ID, step.ApproverRule),
		}
	}

	r.logger.Debug("Approvers resolved",
		zap.Int64("step_id", step.ID),
		zap.String("rule", step.ApproverRule),
		zap.Int("count", len(approvers)))
	return approvers, nil
}

// resolveExpr evaluates a dynamic rule against the request's form
// data. The expression must yield a user id string or a list of them.
func (r *Resolver) resolveExpr(expression string, request *entity.Request) ([]string, error) {
	env := map[string]interface{}{
		"form":      request.FormData,
		"submitter": request.SubmitterID,
		"type":      request.Type,
	}

	result, err := r.evaluator.Evaluate(expression, env)
	if err != nil {
		return nil, &domainwf.ConfigurationError{
			Reason: fmt.Sprintf("dynamic rule %q failed: %v", expression, err),
		}
	}

	switch v := result.(type) {
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &domainwf.ConfigurationError{
					Reason: fmt.Sprintf("dynamic rule %q yielded non-string approver %v", expression, item),
				}
			}
			if s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, &domainwf.ConfigurationError{
			Reason: fmt.Sprintf("dynamic rule %q yielded %T, want user id or list", expression, result),
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
