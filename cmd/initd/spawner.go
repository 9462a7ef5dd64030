/*
Copyright 2023 ICS-FORTH.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"os/exec"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/carv-ics-forth/initd/internal/engine"
	"github.com/carv-ics-forth/initd/internal/proclog"
)

// posixSpawner is the production engine.Spawner: it forks/execs real child
// processes and signals them with real POSIX signals. Spawned children are
// tracked by PID in exited so the SIGCHLD trampoline (signals.go) can match
// a wait4(2) reap back to the (job, role) that owns it — the state machine
// itself never blocks on a child (spec.md §5).
type posixSpawner struct {
	log  logr.Logger
	tail *proclog.Store

	mu     chan struct{} // binary semaphore guarding exited and done
	exited map[int]exitWaiter
	done   []reapedChild
}

type exitWaiter struct {
	job  *engine.Job
	role engine.ProcessRole
}

func newPosixSpawner(log logr.Logger, tail *proclog.Store) *posixSpawner {
	s := &posixSpawner{
		log:    log,
		tail:   tail,
		mu:     make(chan struct{}, 1),
		exited: make(map[int]exitWaiter),
	}
	s.mu <- struct{}{}

	return s
}

func (s *posixSpawner) lock()   { <-s.mu }
func (s *posixSpawner) unlock() { s.mu <- struct{}{} }

// Spawn starts role's process for job and returns immediately with its
// PID, never waiting for it to exit (spec.md §5, "suspension points").
func (s *posixSpawner) Spawn(job *engine.Job, role engine.ProcessRole, spec engine.ProcessSpec, env engine.Env) (int, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = []string(env)

	if s.tail != nil {
		buf, err := s.tail.Writer(job.Path(), role.String())
		if err == nil {
			cmd.Stdout = buf
			cmd.Stderr = buf
		}
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "spawn %s/%s", job.Path(), role)
	}

	pid := cmd.Process.Pid

	s.lock()
	s.exited[pid] = exitWaiter{job: job, role: role}
	s.unlock()

	s.log.V(1).Info("++ spawn", "job", job.Path(), "role", role, "pid", pid)

	// cmd.Wait reaps the zombie once the kernel reports it exited; the
	// actual state-machine transition happens on the main loop via
	// reapExits, never on this goroutine (spec.md §5: "all mutation of
	// events, jobs, and the class registry happens on [the main loop]").
	go func() {
		err := cmd.Wait()
		s.reported(pid, exitStatusOf(err))
	}()

	return pid, nil
}

// Signal delivers sig to pid. A process that has already exited (ESRCH)
// is not an error (spec.md §4.4, "Killed").
func (s *posixSpawner) Signal(pid int, sig engine.Signal) error {
	if err := syscall.Kill(pid, syscall.Signal(sig)); err != nil && err != syscall.ESRCH {
		return errors.Wrapf(err, "signal pid %d", pid)
	}

	return nil
}

// Drop discards jobPath's captured process output tails, called once the
// engine destroys the instance (SPEC_FULL.md §D.3).
func (s *posixSpawner) Drop(jobPath string) {
	if s.tail != nil {
		s.tail.Drop(jobPath)
	}
}

// reported stashes a completed child's status until the main loop drains
// it with drainExits, keeping the reaping channel single-threaded through
// the supervisor's event loop.
func (s *posixSpawner) reported(pid, status int) {
	s.lock()
	defer s.unlock()

	w, ok := s.exited[pid]
	if !ok {
		return
	}

	delete(s.exited, pid)
	s.done = append(s.done, reapedChild{job: w.job, role: w.role, status: status})
}

type reapedChild struct {
	job    *engine.Job
	role   engine.ProcessRole
	status int
}

// drainExits returns and clears every child exit reported since the last
// call, for the main loop to feed into engine.ProcessExited.
func (s *posixSpawner) drainExits() []reapedChild {
	s.lock()
	defer s.unlock()

	out := s.done
	s.done = nil

	return out
}

func exitStatusOf(err error) int {
	if err == nil {
		return 0
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return int(ws.Signal()) << 8
			}

			return ws.ExitStatus()
		}
	}

	return -1
}
