package engine

import (
	"testing"

	"github.com/go-logr/logr"
)

// These cover the "Idempotence laws" spec.md §8 calls out explicitly:
// change_goal(j,g) applied twice has the effect of one call, and
// job_failed(j,p1,s1) followed by job_failed(j,p2,s2) keeps only the first
// failure. Both are white-box since they exercise unexported entry points
// directly rather than through the control surface.
func TestChangeGoalIdempotent(t *testing.T) {
	e := New(logr.Discard(), NewRegistry(), nil)
	j := &Job{Class: &JobClass{Name: "c"}, State: Waiting, Goal: Stop, FailedProcess: NoProcess}

	if err := e.changeGoal(j, Start); err != nil {
		t.Fatalf("first changeGoal: %v", err)
	}
	if j.State != Starting {
		t.Fatalf("state after first changeGoal = %v, want Starting (held by its own starting event until Poll)", j.State)
	}

	stateAfterFirst := j.State
	goalAfterFirst := j.Goal

	if err := e.changeGoal(j, Start); err != nil {
		t.Fatalf("second changeGoal: %v", err)
	}

	if j.State != stateAfterFirst || j.Goal != goalAfterFirst {
		t.Fatalf("repeating change_goal(j, Start) moved state/goal: got (%v, %v), want (%v, %v)",
			j.State, j.Goal, stateAfterFirst, goalAfterFirst)
	}
}

func TestJobFailedIdempotent(t *testing.T) {
	e := New(logr.Discard(), NewRegistry(), nil)
	j := &Job{Class: &JobClass{Name: "c"}, FailedProcess: NoProcess}

	e.jobFailed(j, RoleMain, 5)

	if !j.Failed || j.FailedProcess != RoleMain || j.ExitStatus != 5 {
		t.Fatalf("after first job_failed: Failed=%v FailedProcess=%v ExitStatus=%d, want true/Main/5",
			j.Failed, j.FailedProcess, j.ExitStatus)
	}

	e.jobFailed(j, RolePreStart, 9)

	if j.FailedProcess != RoleMain || j.ExitStatus != 5 {
		t.Fatalf("second job_failed overwrote the first: FailedProcess=%v ExitStatus=%d, want Main/5",
			j.FailedProcess, j.ExitStatus)
	}
}

func TestJobFailedReleasesBlockingOnce(t *testing.T) {
	e := New(logr.Discard(), NewRegistry(), nil)
	ev := e.NewEvent("waiting-on-job", nil, "")
	j := &Job{Class: &JobClass{Name: "c"}, FailedProcess: NoProcess}

	e.attachCausalLinks(j, []EventHandle{ev.handle})

	e.jobFailed(j, RoleMain, 1)

	if len(j.Blocking) != 0 {
		t.Fatalf("jobFailed must clear the job's blocking list, got %d entries left", len(j.Blocking))
	}
	if !ev.failed {
		t.Fatalf("the causally-linked event must inherit the failure")
	}
}
