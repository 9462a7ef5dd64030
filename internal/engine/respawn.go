package engine

import "time"

// ProcessExited is called by the main loop's SIGCHLD watcher (cmd/initd)
// whenever a child process this engine spawned exits. status is the
// engine-facing encoding cmd/initd's exitStatusOf produces from the raw
// waitpid(2) result: a plain nonzero exit code in the low byte when the
// process exited normally, or the terminating signal shifted into the
// high byte when it was signaled — zero either way means "nothing to
// report" (spec.md §4.5, "status's high bits are zero" selects which).
func (e *Engine) ProcessExited(j *Job, role ProcessRole, status int) error {
	j.setPID(role, 0)

	if role == RoleMain {
		return e.mainExited(j, status)
	}

	return e.scriptExited(j, role, status)
}

// scriptExited handles PreStart/PostStart/PreStop/PostStop completing.
// PreStart and PostStop failures are fatal (spec.md §4.4: "on spawn
// failure, mark failed..."); a nonzero exit after a successful spawn is
// treated the same way, since the distilled spec never lets a fatal role's
// script fail silently once it has actually run. PostStart and PreStop
// failures stay non-fatal regardless of how the process ended.
func (e *Engine) scriptExited(j *Job, role ProcessRole, status int) error {
	fatal := role == RolePreStart || role == RolePostStop

	if fatal && status != 0 {
		e.jobFailed(j, role, status)
		j.Goal = Stop
	}

	return e.changeState(j, e.nextState(j))
}

// mainExited handles the Main process exiting, covering the deliberate
// shutdown path (Killed), the failed start of a Spawned job whose expect
// confirmation never arrived, and the unexpected-exit / rate-limited
// respawn path of spec.md §4.4.
func (e *Engine) mainExited(j *Job, status int) error {
	switch j.State {
	case Killed:
		j.KillDeadline = time.Time{}
		return e.changeState(j, e.nextState(j))

	case Spawned:
		// Main exited before the expect condition was confirmed: this
		// never reached a rest state, so it's a failed start attempt.
		e.jobFailed(j, RoleMain, status)
		j.Goal = Stop
		return e.changeState(j, e.nextState(j))

	case Running, PostStart, PreStop:
		if j.Class.IsTask {
			return e.taskMainExited(j, status)
		}

		return e.unexpectedMainExit(j, status)

	default:
		// Stopping/PreStart/PostStop/Starting/Waiting never hold a live
		// Main pid; nothing to do if the kernel reports one anyway.
		return nil
	}
}

// taskMainExited handles a one-shot task's main process completing: a
// task is meant to run once and then stop, so this is an ordinary rest
// transition rather than the unexpected-exit/respawn path a long-running
// service takes on the same state (spec.md §4.4, "Running" — class.is_task
// is what distinguishes the two; a nonzero exit still marks the job
// failed, a clean exit stops it with RESULT=ok).
func (e *Engine) taskMainExited(j *Job, status int) error {
	if status != 0 {
		e.jobFailed(j, RoleMain, status)
	}

	j.Goal = Stop

	return e.changeState(j, e.nextState(j))
}

// unexpectedMainExit implements "Rate-limited respawning" (spec.md §4.4):
// if the job isn't meant to respawn, or goal has already moved off Start,
// this is treated as an ordinary job failure. Otherwise the job re-enters
// the start cycle unless it has exceeded class.respawn_limit within
// class.respawn_interval, in which case it stops for good with
// PROCESS=respawn in the emitted stop event.
func (e *Engine) unexpectedMainExit(j *Job, status int) error {
	if j.Goal != Start || !j.Class.Respawn {
		e.jobFailed(j, RoleMain, status)
		j.Goal = Stop
		return e.changeState(j, e.nextState(j))
	}

	if e.respawnRateLimited(j) {
		e.jobFailed(j, NoProcess, -1)
		j.Goal = Stop
		return e.changeState(j, e.nextState(j))
	}

	if j.State == PostStart || j.State == PreStop {
		j.Goal = Respawn
	}

	return e.changeState(j, e.nextState(j))
}

// respawnRateLimited records this respawn attempt against class.respawn_
// limit/respawn_interval and reports whether the limit has now been
// exceeded. A limit of zero means unlimited respawns.
func (e *Engine) respawnRateLimited(j *Job) bool {
	if j.Class.RespawnLimit <= 0 {
		return false
	}

	now := e.now()

	if j.RespawnCount == 0 || now.Sub(j.RespawnTime) > j.Class.RespawnInterval {
		j.RespawnTime = now
		j.RespawnCount = 1
		return false
	}

	j.RespawnCount++

	return j.RespawnCount > j.Class.RespawnLimit
}
