// Package rules evaluates dynamic approver-rule expressions against a
// request's form data. Expressions are a small injected strategy, not
// an embedded rule language of our own.
package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator runs a rule expression against an environment and returns
// its raw result. Callers interpret the result (e.g. as approver ids).
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (interface{}, error)
}

// ExprEvaluator is an Evaluator backed by expr-lang/expr with a
// compiled-program cache.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator creates an ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate compiles the expression on first use and runs it against
// env. Compiled programs are cached per expression text.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (interface{}, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty rule expression")
	}

	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.AllowUndefinedVariables())
			if err != nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("failed to compile rule %q: %w", expression, err)
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate rule %q: %w", expression, err)
	}
	return result, nil
}
