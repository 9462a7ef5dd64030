// Package guard compiles the boolean expression strings a job class can
// attach to gate its Start pass (SPEC_FULL.md §D.4) using
// github.com/Knetic/govaluate, the expression engine the teacher's
// controllers/call package uses for its Until/Condition fields
// (controllers/call/lifecycle.go).
package guard

import (
	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"
)

// Compile parses expr once and returns a predicate closure evaluating it
// against a job's environment. An empty expr is rejected by the caller
// before Compile is ever invoked (engine.ClassSpec.Guard == "" means no
// guard).
func Compile(expr string) (func(env map[string]string) bool, error) {
	exp, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "compile guard expression %q", expr)
	}

	return func(env map[string]string) bool {
		params := make(map[string]interface{}, len(env))
		for k, v := range env {
			params[k] = v
		}

		result, err := exp.Evaluate(params)
		if err != nil {
			// A guard referencing a variable the event never set is
			// common (e.g. optional env) — treat it as "not eligible"
			// rather than propagating an error into the dispatch pass.
			return false
		}

		truthy, ok := result.(bool)

		return ok && truthy
	}, nil
}
