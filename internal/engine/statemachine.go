package engine

import (
	"time"

	"github.com/pkg/errors"
)

// nextState computes the pure state-transition function of spec.md §4.4.
// It depends only on (state, goal, has-main-process, has-main-pid,
// expect-mode) — never on wall-clock time or queue contents — so the same
// job fields always yield the same result (spec.md §8, "next_state(j) is
// pure"). (State, Goal) alone does not decide it: Running with goal Stop
// goes to PreStop or Stopping depending on whether a main pid is recorded.
//
// The two cells the transition table doesn't print directly — Respawn at
// PostStart and PreStop — collapse the goal to Start and return Stopping,
// exactly as spec.md §9 Design Notes describes. Waiting with any goal other
// than Start panics as an invariant failure; in the remaining states
// Respawn takes the same branch as Start.
func (e *Engine) nextState(j *Job) State {
	switch j.State {
	case Waiting:
		switch j.Goal {
		case Start:
			return Starting
		default:
			panic(invariantf("next_state: waiting/%s is unreachable", j.Goal))
		}

	case Starting:
		if j.Goal == Stop {
			return Stopping
		}
		return PreStart

	case PreStart:
		if j.Goal == Stop {
			return Stopping
		}
		return Spawned

	case Spawned:
		if j.Goal == Stop {
			return Stopping
		}
		return PostStart

	case PostStart:
		switch j.Goal {
		case Stop:
			return Stopping
		case Respawn:
			j.Goal = Start
			return Stopping
		default:
			return Running
		}

	case Running:
		if j.Goal == Stop {
			if j.PID(RoleMain) != 0 {
				return PreStop
			}
			return Stopping
		}
		return Stopping

	case PreStop:
		switch j.Goal {
		case Stop:
			return Stopping
		case Respawn:
			j.Goal = Start
			return Stopping
		default:
			return Running
		}

	case Stopping:
		return Killed

	case Killed:
		return PostStop

	case PostStop:
		if j.Goal == Stop {
			return Waiting
		}
		return Starting

	default:
		panic(invariantf("next_state: unknown state %v", j.State))
	}
}

// stepKind is the outcome of one state's entry action, per spec.md §9
// Design Notes ("Advance(next), Stay, or Fail(reason)").
type stepKind int

const (
	stepAdvance stepKind = iota
	stepStay
	stepFail
)

type stepOutcome struct {
	kind stepKind
	next State
	err  error
}

func advance(next State) stepOutcome { return stepOutcome{kind: stepAdvance, next: next} }
func stay() stepOutcome              { return stepOutcome{kind: stepStay} }
func fail(err error) stepOutcome     { return stepOutcome{kind: stepFail, err: err} }

// changeState drives the job from its current state to target, running each
// new state's entry action and following Advance outcomes until the loop
// either Stays (pending a blocker or a backgrounded process) or exhausts
// itself at target (spec.md §4.4, "change_state(job, target) loops").
func (e *Engine) changeState(j *Job, target State) error {
	for j.State != target {
		old := j.State
		j.State = target

		e.Log.V(1).Info("-> change_state", "job", j.Path(), "from", old, "to", target)

		outcome := e.enter(j, old, target)

		if e.OnTransition != nil {
			e.OnTransition(j, j.State)
		}

		switch outcome.kind {
		case stepAdvance:
			target = outcome.next
		case stepStay:
			e.Log.V(1).Info("<- change_state", "job", j.Path(), "state", j.State)
			return nil
		case stepFail:
			return outcome.err
		}
	}

	e.Log.V(1).Info("<- change_state", "job", j.Path(), "state", j.State)

	return nil
}

// enter runs the entry action for newState, exactly as described under
// "Entry actions (precise)" in spec.md §4.4.
func (e *Engine) enter(j *Job, old, newState State) stepOutcome {
	switch newState {
	case Starting:
		return e.enterStarting(j, old)
	case PreStart:
		return e.enterOptionalScript(j, RolePreStart, true)
	case Spawned:
		return e.enterSpawned(j)
	case PostStart:
		return e.enterOptionalScript(j, RolePostStart, false)
	case Running:
		return e.enterRunning(j, old)
	case PreStop:
		return e.enterOptionalScript(j, RolePreStop, false)
	case Stopping:
		return e.enterStopping(j)
	case Killed:
		return e.enterKilled(j)
	case PostStop:
		return e.enterOptionalScript(j, RolePostStop, true)
	case Waiting:
		return e.enterWaiting(j, old)
	default:
		return fail(invariantf("enter: unknown state %v", newState))
	}
}

func (e *Engine) enterStarting(j *Job, old State) stepOutcome {
	if j.Goal != Start {
		return fail(invariantf("enterStarting: %s has goal %s, want Start", j.Path(), j.Goal))
	}
	if old != Waiting && old != PostStop {
		return fail(invariantf("enterStarting: %s entered from %s, want Waiting or PostStop", j.Path(), old))
	}

	if j.StartEnv != nil {
		j.Env = j.StartEnv
		j.StartEnv = nil
	}
	j.StopEnv = nil

	j.Failed = false
	j.FailedProcess = NoProcess
	j.ExitStatus = 0

	e.emitBlockingJobEvent(j, "starting", nil)

	return stay()
}

// enterOptionalScript implements the shared shape of PreStart, PostStart,
// PreStop, and PostStop: run the role's script if the class defines one,
// otherwise skip straight to next_state. fatal controls whether a spawn
// failure marks the job failed and forces goal=Stop (PreStart, PostStop) or
// is merely non-fatal (PostStart, PreStop), per spec.md §4.4.
func (e *Engine) enterOptionalScript(j *Job, role ProcessRole, fatal bool) stepOutcome {
	spec, ok := j.Class.Processes[role]
	if !ok {
		return advance(e.nextState(j))
	}

	pid, err := e.Spawner.Spawn(j, role, spec, e.resolveEnv(j))
	if err != nil {
		e.Log.V(0).Info("spawn failed", "job", j.Path(), "role", role, "error", err.Error())

		if fatal {
			e.jobFailed(j, role, -1)
			j.Goal = Stop
		}

		return advance(e.nextState(j))
	}

	j.setPID(role, pid)

	return stay()
}

func (e *Engine) enterSpawned(j *Job) stepOutcome {
	spec, ok := j.Class.Processes[RoleMain]
	if !ok {
		return advance(e.nextState(j))
	}

	pid, err := e.Spawner.Spawn(j, RoleMain, spec, e.resolveEnv(j))
	if err != nil {
		e.Log.V(0).Info("spawn failed", "job", j.Path(), "role", RoleMain, "error", err.Error())
		e.jobFailed(j, RoleMain, -1)
		j.Goal = Stop

		return advance(e.nextState(j))
	}

	j.setPID(RoleMain, pid)

	if j.Class.ExpectMode == ExpectNone {
		return advance(e.nextState(j))
	}

	// expect ∈ {Fork, Daemon, Stop}: remain here until the process-trace
	// collaborator (out of scope) reports readiness by calling
	// ProcessReady, which re-enters change_state one step.
	return stay()
}

func (e *Engine) enterRunning(j *Job, old State) stepOutcome {
	if old != PostStart && old != PreStop {
		return fail(invariantf("enterRunning: %s entered from %s, want PostStart or PreStop", j.Path(), old))
	}

	if old == PreStop {
		j.StopEnv = nil

		if err := e.releaseBlocking(j, false); err != nil {
			return fail(err)
		}

		return stay()
	}

	e.emitNonBlockingJobEvent(j, "started", nil)

	if !j.Class.IsTask {
		if err := e.releaseBlocking(j, false); err != nil {
			return fail(err)
		}
	}

	return stay()
}

func (e *Engine) enterStopping(j *Job) stepOutcome {
	ev := e.emitBlockingJobEvent(j, "stopping", e.stopEventEnv(j))
	ev.failed = j.Failed

	return stay()
}

func (e *Engine) enterKilled(j *Job) stepOutcome {
	pid := j.PID(RoleMain)
	if pid == 0 {
		return advance(e.nextState(j))
	}

	if err := e.Spawner.Signal(pid, SIGTERM); err != nil {
		e.Log.V(0).Info("signal failed", "job", j.Path(), "pid", pid, "error", err.Error())
	}

	if j.Class.KillTimeout > 0 {
		j.KillDeadline = e.now().Add(j.Class.KillTimeout)
	}

	return stay()
}

func (e *Engine) enterWaiting(j *Job, old State) stepOutcome {
	if j.Goal != Stop {
		return fail(invariantf("enterWaiting: %s has goal %s, want Stop", j.Path(), j.Goal))
	}
	if old != PostStop && old != Starting {
		return fail(invariantf("enterWaiting: %s entered from %s, want PostStop or Starting", j.Path(), old))
	}

	ev := e.emitNonBlockingJobEvent(j, "stopped", e.stopEventEnv(j))
	ev.failed = j.Failed

	e.Spawner.Drop(j.Path())

	class := j.Class
	class.removeInstance(j.Name)
	delete(e.jobByID, j.handle)

	if class.Deleted {
		e.Registry.destroyIfOrphaned(class)
	}

	// Released only after the instance is gone, so a Restart continuation
	// replying here starts a fresh instance instead of reviving this one.
	if err := e.releaseBlocking(j, false); err != nil {
		return fail(err)
	}

	return stay()
}

// KillTimerFired escalates a Killed job's signal from TERM to KILL, called
// by the main loop's timer watcher when class.kill_timeout elapses without
// the child exiting (spec.md §5, "kill_timer").
func (e *Engine) KillTimerFired(j *Job) {
	if j.State != Killed {
		return
	}

	pid := j.PID(RoleMain)
	if pid == 0 {
		return
	}

	if err := e.Spawner.Signal(pid, SIGKILL); err != nil {
		e.Log.V(0).Info("signal failed", "job", j.Path(), "pid", pid, "error", err.Error())
	}

	j.KillDeadline = time.Time{}
}

// ProcessReady is called by the (out-of-scope) process-trace collaborator
// once a Spawned job's expect condition is satisfied, advancing the job one
// step (spec.md §4.4, "Spawned").
func (e *Engine) ProcessReady(j *Job) error {
	if j.State != Spawned {
		return invariantf("ProcessReady: %s is in state %s, want Spawned", j.Path(), j.State)
	}

	return e.changeState(j, e.nextState(j))
}

// changeGoal implements spec.md §4.4's "goal change induction": setting a
// goal is a no-op if unchanged, and only kicks the state machine when the
// job is at rest and the new goal demands motion away from it.
func (e *Engine) changeGoal(j *Job, newGoal Goal) error {
	if j.Goal == newGoal {
		return nil
	}

	j.Goal = newGoal

	if newGoal == Start && j.State == Waiting {
		return e.changeState(j, e.nextState(j))
	}

	if newGoal == Stop && j.State == Running {
		return e.changeState(j, e.nextState(j))
	}

	return nil
}

// jobFailed records a job failure exactly once and releases everything it
// was blocking, with failed=true (spec.md §4.4, "Failure").
func (e *Engine) jobFailed(j *Job, process ProcessRole, status int) {
	if j.Failed {
		return
	}

	j.Failed = true
	j.FailedProcess = process
	j.ExitStatus = status

	if err := e.releaseBlocking(j, true); err != nil {
		// releaseBlocking only fails on a double-release, an engine
		// invariant violation; job_failed itself has no error return in
		// the spec, so surface it the same way other invariant failures
		// are surfaced: a panic the caller is expected to let propagate.
		panic(err)
	}
}

// releaseBlocking releases every link on j.Blocking with the given failed
// flag and clears the list (spec.md §4.4 "Failure", §4.6 dispatch passes,
// and the Running/Waiting entry actions).
func (e *Engine) releaseBlocking(j *Job, failed bool) error {
	links := j.Blocking
	j.Blocking = nil

	for _, link := range links {
		if link.released {
			return invariantf("blocking link for job %s released twice", j.Path())
		}

		link.released = true

		switch link.kind {
		case WaitingEvent:
			ev, ok := e.lookupEvent(link.event)
			if !ok {
				continue
			}

			if failed {
				ev.failed = true
			}

			if err := e.Unblock(ev); err != nil {
				return err
			}

		case WaitingMethodReply:
			if failed {
				link.reply.Fail(ErrJobFailed, jobFailedErr(j))
			} else {
				link.reply.Succeed(j.Path())
			}

		default:
			return invariantf("unexpected link kind %v on job blocking list", link.kind)
		}
	}

	return nil
}

func jobFailedErr(j *Job) error {
	return errors.Errorf("job %s failed (process=%s, status=%d)", j.Path(), j.FailedProcess, j.ExitStatus)
}
