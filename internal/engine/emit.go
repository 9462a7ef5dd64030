package engine

import "strconv"

// resolveEnv returns the environment a spawned process should see: a copy
// of the job's accumulated env with JOB (the class name) and INSTANCE (the
// instance name) appended.
func (e *Engine) resolveEnv(j *Job) Env {
	return j.Env.Clone().Append("JOB", j.Class.Name).Append("INSTANCE", j.Name)
}

func jobEventEnv(j *Job, extra Env) Env {
	env := Env{}.Append("JOB", j.Class.Name).Append("INSTANCE", j.Name)
	return append(env, extra...)
}

// emitBlockingJobEvent enqueues name, attaches a WaitingJob{j} link to the
// new event's blocking list, and records it as j.Blocker — the
// "starting"/"stopping" shape of spec.md §4.5. The link rides in ev.blocking
// so finalize() advances j one step once the event finishes; it does not by
// itself raise ev.blockers; that counter only moves for genuine external
// dependents matched in via attachCausalLinks (spec.md §4.1's events()
// operation). Left otherwise, an event with nothing else to wait for
// finishes in the same poll() pass it was raised in, and j advances with it.
func (e *Engine) emitBlockingJobEvent(j *Job, name string, extra Env) *Event {
	ev := e.NewEvent(name, jobEventEnv(j, extra), j.Class.Session)

	ev.blocking = append(ev.blocking, NewJobLink(j.handle))

	j.Blocker = ev.handle

	return ev
}

// emitNonBlockingJobEvent enqueues name without tying the job's progress to
// it — the "started"/"stopped" shape of spec.md §4.5.
func (e *Engine) emitNonBlockingJobEvent(j *Job, name string, extra Env) *Event {
	return e.NewEvent(name, jobEventEnv(j, extra), j.Class.Session)
}

// stopEventEnv builds the RESULT/PROCESS/EXIT_STATUS|EXIT_SIGNAL/export
// environment shared by the "stopping" and "stopped" events (spec.md §4.5).
func (e *Engine) stopEventEnv(j *Job) Env {
	var env Env

	if j.Failed {
		env = env.Append("RESULT", "failed")

		switch {
		case j.FailedProcess != NoProcess && j.ExitStatus != -1:
			env = env.Append("PROCESS", j.FailedProcess.String())

			if j.ExitStatus&^0xff == 0 {
				env = env.Append("EXIT_STATUS", strconv.Itoa(j.ExitStatus))
			} else {
				sig := j.ExitStatus >> 8
				env = env.Append("EXIT_SIGNAL", signalName(sig))
			}

		case j.FailedProcess != NoProcess:
			env = env.Append("PROCESS", j.FailedProcess.String())

		default:
			env = env.Append("PROCESS", "respawn")
		}
	} else {
		env = env.Append("RESULT", "ok")
	}

	for _, key := range j.Class.Export {
		if v, ok := j.Env.Lookup(key); ok {
			env = env.Append(key, v)
		}
	}

	return env
}

// signalName renders a signal number the way upstart's nih_signal_to_name
// does, falling back to the bare number for anything this supervisor
// doesn't name (spec.md §4.5, "EXIT_SIGNAL=<name or number>").
func signalName(sig int) string {
	switch Signal(sig) {
	case SIGTERM:
		return "TERM"
	case SIGKILL:
		return "KILL"
	default:
		return strconv.Itoa(sig)
	}
}
