package engine_test

import (
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/carv-ics-forth/initd/internal/engine"
)

// eventRecorder is a logr.LogSink that captures every "++ event_new" log
// line NewEvent emits, giving tests a way to assert on the emitted event
// sequence spec.md §4.5/§8 describes without reaching into engine
// internals.
type eventRecorder struct {
	mu     *sync.Mutex
	names  *[]string
}

func newEventRecorder() (logr.Logger, *[]string) {
	names := &[]string{}
	sink := &eventRecorder{mu: &sync.Mutex{}, names: names}

	return logr.New(sink), names
}

func (r *eventRecorder) Init(logr.RuntimeInfo)  {}
func (r *eventRecorder) Enabled(int) bool       { return true }
func (r *eventRecorder) WithName(string) logr.LogSink { return r }
func (r *eventRecorder) WithValues(keysAndValues ...interface{}) logr.LogSink { return r }
func (r *eventRecorder) Error(err error, msg string, keysAndValues ...interface{}) {}

func (r *eventRecorder) Info(level int, msg string, keysAndValues ...interface{}) {
	if msg != "++ event_new" {
		return
	}

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if keysAndValues[i] == "name" {
			r.mu.Lock()
			*r.names = append(*r.names, keysAndValues[i+1].(string))
			r.mu.Unlock()
		}
	}
}

// joinNames is a small assertion helper: render a recorded event name
// slice the way test failure messages read most naturally.
func joinNames(names []string) string { return strings.Join(names, ", ") }

// fakeSpawner is a Spawner that never touches the OS: Spawn succeeds and
// hands back an incrementing pid unless spec.Path is listed in failPaths,
// and Signal just records what was sent. Tests drive process completion
// explicitly via engine.ProcessExited.
type fakeSpawner struct {
	failPaths map[string]bool

	nextPID int
	signals []sentSignal
	dropped []string
}

type sentSignal struct {
	pid int
	sig engine.Signal
}

func newFakeSpawner(failPaths ...string) *fakeSpawner {
	fp := make(map[string]bool, len(failPaths))
	for _, p := range failPaths {
		fp[p] = true
	}

	return &fakeSpawner{failPaths: fp, nextPID: 100}
}

func (s *fakeSpawner) Spawn(job *engine.Job, role engine.ProcessRole, spec engine.ProcessSpec, env engine.Env) (int, error) {
	if s.failPaths[spec.Path] {
		return 0, errSpawnFailed
	}

	s.nextPID++

	return s.nextPID, nil
}

func (s *fakeSpawner) Signal(pid int, sig engine.Signal) error {
	s.signals = append(s.signals, sentSignal{pid: pid, sig: sig})
	return nil
}

func (s *fakeSpawner) Drop(jobPath string) {
	s.dropped = append(s.dropped, jobPath)
}

type spawnFailedErr struct{}

func (spawnFailedErr) Error() string { return "fake spawn failure" }

var errSpawnFailed = spawnFailedErr{}

// newTestEngine wires a fresh Engine with an event recorder and a fake
// spawner, returning both so tests can assert on emitted event order and
// drive process lifecycle without a real fork/exec.
func newTestEngine(failPaths ...string) (*engine.Engine, *[]string, *fakeSpawner) {
	log, names := newEventRecorder()
	registry := engine.NewRegistry()
	spawner := newFakeSpawner(failPaths...)

	return engine.New(log, registry, spawner), names, spawner
}

// noopReply satisfies engine.MethodReply for calls that don't need to
// inspect their own outcome.
type noopReply struct{}

func (noopReply) Succeed(string)                   {}
func (noopReply) Fail(engine.ErrorTag, error) {}

// capturedReply records exactly one Succeed/Fail outcome for assertions.
type capturedReply struct {
	Path      string
	Succeeded bool
	Tag       engine.ErrorTag
	Err       error
}

func (c *capturedReply) Succeed(path string) {
	c.Succeeded = true
	c.Path = path
}

func (c *capturedReply) Fail(tag engine.ErrorTag, cause error) {
	c.Succeeded = false
	c.Tag = tag
	c.Err = cause
}
