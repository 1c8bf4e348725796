// Package rules evaluates pluggable compliance and eligibility predicates
// expressed in CEL. The shipped rule set carries the placeholder thresholds
// the business has not yet replaced; organizations override expressions via
// configuration without touching agent code.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Default predicate expressions, evaluated against a `record` map built from
// the loan-lock record. A true result means the check passes.
var DefaultRules = map[string]string{
	// Loan status must be one the lock desk may act on.
	"loan_status_eligible": `record.loan_status in ["pre-approved", "underwritten", "conditionally_approved", "clear_to_close"]`,
	// TRID applies at or above the residential threshold; treated as
	// satisfied until the real integration lands.
	"trid_applicable": `record.loan_amount >= 100000.0`,
	// Per-term lock fees above this ceiling are flagged for review.
	"fee_reasonable": `record.max_lock_fee <= 1000.0`,
	// DTI above the standard threshold is a warning, not a failure.
	"dti_acceptable": `record.debt_to_income <= 43.0`,
}

// Engine compiles and caches CEL programs for named rules.
type Engine struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
	rules map[string]string
}

// NewEngine builds an engine over the given rule set; nil means DefaultRules.
func NewEngine(ruleSet map[string]string) (*Engine, error) {
	if ruleSet == nil {
		ruleSet = DefaultRules
	}
	env, err := cel.NewEnv(
		cel.Variable("record", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &Engine{
		env:   env,
		cache: make(map[string]cel.Program),
		rules: ruleSet,
	}, nil
}

// Has reports whether the named rule exists in the active rule set.
func (e *Engine) Has(name string) bool {
	_, ok := e.rules[name]
	return ok
}

// Eval evaluates the named rule against the record input. Missing rules are
// an error so a typo cannot silently pass a check.
func (e *Engine) Eval(name string, record map[string]any) (bool, error) {
	expr, ok := e.rules[name]
	if !ok {
		return false, fmt.Errorf("unknown rule %q", name)
	}
	prg, err := e.program(name, expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"record": record})
	if err != nil {
		return false, fmt.Errorf("evaluate rule %q: %w", name, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not yield a boolean", name)
	}
	return allowed, nil
}

func (e *Engine) program(name, expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[name]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[name]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule %q: %w", name, issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program rule %q: %w", name, err)
	}
	e.cache[name] = prg
	return prg, nil
}
