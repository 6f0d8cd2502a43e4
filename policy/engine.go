// Package policy gates admin-only session actions through OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.session_policy.decision"),
		rego.Module("session_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Allow evaluates the session policy for one action. Input carries the
// action name and the acting member's role. Anything but an explicit
// "allow" denies the action.
func (e *Engine) Allow(ctx context.Context, action, role string) (bool, error) {
	input := map[string]interface{}{
		"action": action,
		"role":   role,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	decision, ok := results[0].Expressions[0].Value.(string)
	return ok && decision == "allow", nil
}

// DefaultPolicy encodes the built-in rule set: lifecycle actions are
// admin-only, everything a regular participant does is allowed.
const DefaultPolicy = `
package session_policy

import rego.v1

default decision := "deny"

admin_actions := {"start", "force_proceed", "cancel"}

decision := "allow" if {
	admin_actions[input.action]
	input.role == "admin"
}

decision := "allow" if {
	not admin_actions[input.action]
}
`
