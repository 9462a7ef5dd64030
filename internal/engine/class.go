package engine

import (
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

// ProcessSpec is what a class needs to spawn one process role: the
// command line. Spawning itself is delegated to a Spawner so the engine
// core stays testable without forking real processes.
type ProcessSpec struct {
	Path string
	Args []string
}

// Spawner runs and signals child processes on behalf of the engine. The
// production implementation (cmd/initd) forks/execs against the real
// kernel; tests substitute a fake that never touches the OS.
type Spawner interface {
	// Spawn starts role's process with env and returns its PID.
	Spawn(job *Job, role ProcessRole, spec ProcessSpec, env Env) (pid int, err error)
	// Signal delivers sig to pid. ESRCH-equivalent (process already gone)
	// is not an error.
	Signal(pid int, sig Signal) error
	// Drop releases any per-job resources (captured process output tails)
	// keyed by jobPath, called once the instance is destroyed (spec.md
	// §4.4, "Waiting" — SPEC_FULL.md §D.3).
	Drop(jobPath string)
}

// Signal is the subset of POSIX signals the job state machine sends
// directly (spec.md §4.4, "Killed").
type Signal int

const (
	SIGTERM Signal = 15
	SIGKILL Signal = 9
)

// JobClass is a template describing a managed service or task: its
// processes, expectations, and start/stop expressions (spec.md Glossary,
// §3 "Job Class Registry").
type JobClass struct {
	Name string

	// Instance is the text/template (with sprig funcs, see template.go)
	// used to expand the instance name for a matched start event
	// (spec.md §4.6). Empty means the class is not multiplexed and has
	// at most one instance, named "".
	Instance string

	Processes map[ProcessRole]ProcessSpec

	StartOn *Expression
	StopOn  *Expression

	// Export lists env keys from job.Env to copy into the stopping/
	// stopped event env (spec.md §4.5).
	Export []string

	Env Env

	IsTask bool // one-shot task vs long-running service (spec.md §4.4 "Running")

	ExpectMode ExpectMode

	Respawn         bool
	RespawnLimit    int
	RespawnInterval time.Duration
	KillTimeout     time.Duration

	// Guard, if non-nil, gates the Start pass (spec.md §D.4 in
	// SPEC_FULL.md): a class whose guard evaluates false is treated as
	// if its start_on had not matched.
	Guard func(env Env) bool

	Session string // "" == global

	Deleted bool

	instances cmap.ConcurrentMap
}

func newJobClass(name string) *JobClass {
	return &JobClass{
		Name:      name,
		instances: cmap.New(),
	}
}

// Instances returns a snapshot of the class's current instances.
func (c *JobClass) Instances() []*Job {
	items := c.instances.Items()

	out := make([]*Job, 0, len(items))
	for _, v := range items {
		out = append(out, v.(*Job))
	}

	return out
}

// GetInstance looks up an instance by name, returning ok=false if absent.
func (c *JobClass) GetInstance(name string) (*Job, bool) {
	v, ok := c.instances.Get(name)
	if !ok {
		return nil, false
	}

	return v.(*Job), true
}

func (c *JobClass) putInstance(j *Job) {
	c.instances.Set(j.Name, j)
}

func (c *JobClass) removeInstance(name string) {
	c.instances.Remove(name)
}

func (c *JobClass) instanceCount() int {
	return c.instances.Count()
}
