package control

import (
	"github.com/carv-ics-forth/initd/internal/engine"
	"github.com/carv-ics-forth/initd/internal/proclog"
)

// Version is set at link time (-ldflags "-X .../control.Version=...") by
// the release build; GetVersion below is the introspection operation
// SPEC_FULL.md §D.2 adds beyond the distilled control surface.
var Version = "dev"

// Instance is the property record the Describe operation returns for one
// job instance: its path, name, goal, state and process pids.
type Instance struct {
	Path       string
	Name       string
	Goal       string
	State      string
	Processes  []engine.ProcessStatus
}

// Query answers the non-mutating control operations directly — unlike
// Start/Stop/Restart/EmitEvent these never block or defer, so they don't
// need the Server/Reply machinery in control.go.
type Query struct {
	Engine *engine.Engine

	// Tails backs GetProcessTail (SPEC_FULL.md §D.3); nil when cmd/initd
	// was started with --no-log, in which case GetProcessTail reports
	// not-found rather than panicking.
	Tails *proclog.Store
}

func (q *Query) GetAllJobs() []string { return q.Engine.GetAllJobs() }

func (q *Query) GetJobByName(name string) (string, bool) { return q.Engine.GetJobByName(name) }

func (q *Query) GetInstanceByName(className, instanceName string) (string, bool) {
	return q.Engine.GetInstanceByName(className, instanceName)
}

func (q *Query) GetAllInstances(className string) []string {
	return q.Engine.GetAllInstances(className)
}

// Describe gathers every queryable property of path into one record,
// convenient for cmd/initctl's "show" subcommand.
func (q *Query) Describe(path string) (Instance, bool) {
	name, ok := q.Engine.GetName(path)
	if !ok {
		return Instance{}, false
	}

	goal, _ := q.Engine.GetGoal(path)
	state, _ := q.Engine.GetState(path)
	processes, _ := q.Engine.GetProcesses(path)

	return Instance{
		Path:      path,
		Name:      name,
		Goal:      goal,
		State:     state,
		Processes: processes,
	}, true
}

// GetInstanceEnv exposes a running instance's resolved environment
// (SPEC_FULL.md §D.2); out of scope in the distilled control surface, which
// only lists name/goal/state/processes.
func (q *Query) GetInstanceEnv(path string) ([]string, bool) {
	env, ok := q.Engine.GetEnv(path)
	if !ok {
		return nil, false
	}

	return []string(env), true
}

// GetVersion reports the running supervisor's build version.
func (q *Query) GetVersion() string { return Version }

// GetProcessTail exposes a process role's captured stdout/stderr tail
// (SPEC_FULL.md §D.3, "exposed read-only via GetProcessTail"); reports
// not-found if path/role has no captured output, or no Store is wired.
func (q *Query) GetProcessTail(path, role string) (string, bool) {
	if q.Tails == nil {
		return "", false
	}

	b := q.Tails.Tail(path, role)
	if b == nil {
		return "", false
	}

	return string(b), true
}
