package guard_test

import (
	"testing"

	"github.com/carv-ics-forth/initd/internal/guard"
)

func TestCompileRejectsMalformedExpression(t *testing.T) {
	if _, err := guard.Compile("FOO =="); err == nil {
		t.Fatal("expected an error compiling a malformed guard expression")
	}
}

func TestCompileEvaluatesTruthiness(t *testing.T) {
	pred, err := guard.Compile(`ENV == "prod"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !pred(map[string]string{"ENV": "prod"}) {
		t.Fatal("expected the guard to accept ENV=prod")
	}
	if pred(map[string]string{"ENV": "staging"}) {
		t.Fatal("expected the guard to reject ENV=staging")
	}
}

func TestCompileMissingVariableIsNotEligible(t *testing.T) {
	pred, err := guard.Compile(`UNDEFINED == "1"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if pred(map[string]string{}) {
		t.Fatal("a guard referencing an unset variable must be treated as ineligible, not erroring")
	}
}

func TestCompileNonBooleanResultIsNotEligible(t *testing.T) {
	pred, err := guard.Compile(`1 + 1`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if pred(map[string]string{}) {
		t.Fatal("a non-boolean guard result must be treated as ineligible")
	}
}
