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

// signals.go is the signal trampoline spec.md §6 names as an external
// interface: SIGCHLD/SIGHUP/SIGTERM/SIGINT/SIGPWR/SIGWINCH translate into
// engine-observable behavior, but the trampoline mechanics themselves
// (os/signal plumbing) are not part of the core spec (§1, "Signal
// trampoline... out of scope").
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/carv-ics-forth/initd/internal/engine"
)

// signalEvent maps a kernel signal to the named event it translates into
// when running as PID 1 (spec.md §6, "Signal surface").
var signalEvent = map[os.Signal]string{
	syscall.SIGINT:  "ctrlaltdel",
	syscall.SIGPWR:  "power-status-changed",
	syscall.SIGWINCH: "kbdrequest",
}

// watchSignals registers the supervisor's signal set and returns the
// channel the main loop selects on. SIGKILL/SIGSTOP are never caught (not
// requested here — POSIX disallows it anyway).
func watchSignals() chan os.Signal {
	ch := make(chan os.Signal, 16)

	signal.Notify(ch,
		syscall.SIGCHLD,
		syscall.SIGALRM,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGPWR,
		syscall.SIGWINCH,
	)

	return ch
}

// handleSignal dispatches one received signal to its effect. It never
// blocks; it runs on the main loop, so SIGCHLD reaping (reapExits) and
// SIGALRM kill-timer firing (fireDueKillTimers) are called directly from
// here (spec.md §5).
func (s *Supervisor) handleSignal(sig os.Signal) error {
	switch sig {
	case syscall.SIGCHLD:
		return s.reapExits()

	case syscall.SIGALRM:
		s.fireDueKillTimers()
		return nil

	case syscall.SIGHUP:
		return s.reloadConfig()

	case syscall.SIGTERM:
		return s.reexec()

	default:
		name, ok := signalEvent[sig]
		if !ok {
			s.Log.V(0).Info("signal ignored", "signal", sig.String())
			return nil
		}

		if !s.pidOne {
			// Unprivileged dev mode (spec.md §1): named signal events are
			// a PID-1-only convenience, not a correctness requirement.
			s.Log.V(0).Info("signal event suppressed (not pid 1)", "event", name)
			return nil
		}

		s.Engine.EmitEvent(name, nil, false, noopReply{}, s.Session)

		return s.Engine.Poll()
	}
}

// noopReply discards a reply from an unwaited, internally-triggered
// EmitEvent call (signal-derived events are always wait=false).
type noopReply struct{}

func (noopReply) Succeed(string)               {}
func (noopReply) Fail(engine.ErrorTag, error) {}
