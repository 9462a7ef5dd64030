// Package engine implements the two tightly-coupled subsystems spec.md
// scopes as the core of this repository: the job state machine and the
// event engine. Both live under a single Engine object passed explicitly
// into every operation (spec.md §9, Design Notes: "put [global
// registries] under a single owning engine object... this avoids hidden
// global state and makes the engine testable in isolation").
package engine

import (
	"time"

	"github.com/go-logr/logr"
)

// Engine owns the event queue, the job class registry, and the process
// spawner, and drives the single-threaded main loop described in spec.md
// §5. Nothing outside Engine mutates Events or Jobs.
type Engine struct {
	Log      logr.Logger
	Registry *Registry
	Spawner  Spawner

	// Session records the session this engine serves (spec.md §4.7). The
	// engine does not read it: the control-surface methods check the
	// session their caller passes in.
	Session string

	// OnTransition, if set, is called from changeState every time a job
	// enters a new lifecycle state — the hook cmd/initd wires a
	// telemetry.Annotator through (SPEC_FULL.md Part C, "posts a Grafana
	// annotation on every job phase change"). Kept as a plain func field
	// rather than an import of internal/telemetry so the engine stays
	// free of any particular observability backend, the same separation
	// Registry.BuildGuard keeps between internal/engine and
	// internal/guard.
	OnTransition func(job *Job, state State)

	events      []*Event // insertion order, spec.md §4.2
	eventByID   map[EventHandle]*Event
	jobByID     map[JobHandle]*Job
	nextEventID uint64
	nextJobID   uint64
}

// New returns an Engine ready to accept classes and events.
func New(log logr.Logger, registry *Registry, spawner Spawner) *Engine {
	return &Engine{
		Log:       log,
		Registry:  registry,
		Spawner:   spawner,
		eventByID: make(map[EventHandle]*Event),
		jobByID:   make(map[JobHandle]*Job),
	}
}

func (e *Engine) allocEventHandle() EventHandle {
	e.nextEventID++
	return EventHandle(e.nextEventID)
}

func (e *Engine) allocJobHandle() JobHandle {
	e.nextJobID++
	return JobHandle(e.nextJobID)
}

func (e *Engine) lookupEvent(h EventHandle) (*Event, bool) {
	if h == invalidHandle {
		return nil, false
	}

	ev, ok := e.eventByID[h]

	return ev, ok
}

func (e *Engine) lookupJob(h JobHandle) (*Job, bool) {
	if h == invalidHandle {
		return nil, false
	}

	j, ok := e.jobByID[h]

	return j, ok
}

// now is the single clock read point, kept as a method so tests could
// swap it if a scenario ever needs deterministic timestamps.
func (e *Engine) now() time.Time { return time.Now() }
