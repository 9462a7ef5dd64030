package engine

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Session is one scoped chroot/user session a re-exec hand-off needs to
// remember so classes and instances can be re-attached to it (spec.md §6,
// "Persisted state format").
type Session struct {
	Chroot   string `yaml:"chroot"`
	User     string `yaml:"user"`
	ConfPath string `yaml:"conf_path"`
}

type stateDocument struct {
	Sessions []Session    `yaml:"sessions"`
	Events   []eventDoc   `yaml:"events"`
	Classes  []classDoc   `yaml:"classes"`
}

type eventDoc struct {
	Name     string        `yaml:"name"`
	Session  string        `yaml:"session"`
	FD       int           `yaml:"fd"`
	Env      []string      `yaml:"env"`
	Progress int           `yaml:"progress"`
	Failed   bool          `yaml:"failed"`
	Blockers int           `yaml:"blockers"`
	Blocking []eventLinkDoc `yaml:"blocking"`
}

// eventLinkDoc serializes one link on an Event's blocking list. Only
// WaitingJob is representable across a re-exec round-trip: a
// WaitingMethodReply link points at a live control connection, and per
// spec.md §7's "remote peer disappearance" policy those are dropped rather
// than preserved — Serialize only logs them; nothing about them is written.
type eventLinkDoc struct {
	Kind    string `yaml:"kind"`
	JobPath string `yaml:"job_path,omitempty"`
}

type classDoc struct {
	Name      string         `yaml:"name"`
	Session   string         `yaml:"session"`
	Deleted   bool           `yaml:"deleted"`
	Instances []instanceDoc  `yaml:"instances"`
}

type instanceDoc struct {
	Name          string         `yaml:"name"`
	Goal          string         `yaml:"goal"`
	State         string         `yaml:"state"`
	PID           map[string]int `yaml:"pid"`
	Env           []string       `yaml:"env"`
	StartEnv      []string       `yaml:"start_env,omitempty"`
	StopEnv       []string       `yaml:"stop_env,omitempty"`
	Failed        bool           `yaml:"failed"`
	FailedProcess string         `yaml:"failed_process"`
	ExitStatus    int            `yaml:"exit_status"`
	RespawnCount  int            `yaml:"respawn_count"`
	BlockerEvent  int            `yaml:"blocker_event"` // index into Events, -1 if none
	Blocking      []jobLinkDoc   `yaml:"blocking"`
}

// jobLinkDoc serializes one WaitingEvent link on a Job's blocking list,
// addressed by index into the serialized Events array. A job's list can
// also hold WaitingMethodReply links (Start/Stop/Restart with a deferred
// reply); like an event's reply links, those are not serialized.
type jobLinkDoc struct {
	EventIndex int `yaml:"event_index"`
}

var processRoleNames = map[ProcessRole]string{
	RolePreStart:  "pre-start",
	RoleMain:      "main",
	RolePostStart: "post-start",
	RolePreStop:   "pre-stop",
	RolePostStop:  "post-stop",
}

var processRoleByName = func() map[string]ProcessRole {
	out := make(map[string]ProcessRole, len(processRoleNames))
	for role, name := range processRoleNames {
		out[name] = role
	}
	return out
}()

func failedProcessName(p ProcessRole) string {
	if p == NoProcess {
		return ""
	}
	return p.String()
}

func parseFailedProcess(s string) ProcessRole {
	if s == "" {
		return NoProcess
	}
	if role, ok := processRoleByName[s]; ok {
		return role
	}
	return NoProcess
}

func parseGoal(s string) (Goal, error) {
	switch s {
	case "start":
		return Start, nil
	case "stop":
		return Stop, nil
	case "respawn":
		return Respawn, nil
	default:
		return Stop, errors.Errorf("invalid goal %q", s)
	}
}

func parseState(s string) (State, error) {
	states := map[string]State{
		"waiting": Waiting, "starting": Starting, "pre-start": PreStart,
		"spawned": Spawned, "post-start": PostStart, "running": Running,
		"pre-stop": PreStop, "stopping": Stopping, "killed": Killed,
		"post-stop": PostStop,
	}

	state, ok := states[s]
	if !ok {
		return Waiting, errors.Errorf("invalid state %q", s)
	}

	return state, nil
}

// Serialize snapshots sessions, the event queue, and the class registry
// into the document spec.md §6 declares, dropping only WaitingMethodReply
// links (live control connections, never valid across a process
// replacement).
func (e *Engine) Serialize(sessions []Session) ([]byte, error) {
	doc := stateDocument{Sessions: sessions}

	eventIndex := make(map[EventHandle]int, len(e.events))
	for i, ev := range e.events {
		eventIndex[ev.handle] = i
	}

	for _, ev := range e.events {
		ed := eventDoc{
			Name:     ev.Name,
			Session:  ev.Session,
			Env:      []string(ev.Env),
			Progress: int(ev.progress),
			Failed:   ev.failed,
			Blockers: ev.blockers,
		}

		for _, link := range ev.blocking {
			switch link.kind {
			case WaitingJob:
				j, ok := e.lookupJob(link.job)
				if !ok {
					continue
				}
				ed.Blocking = append(ed.Blocking, eventLinkDoc{Kind: "WaitingJob", JobPath: j.Path()})
			case WaitingMethodReply:
				e.Log.V(0).Info("dropping method reply across re-exec", "event", ev.Name)
			}
		}

		doc.Events = append(doc.Events, ed)
	}

	for _, class := range e.Registry.All() {
		cd := classDoc{Name: class.Name, Session: class.Session, Deleted: class.Deleted}

		for _, j := range class.Instances() {
			id := instanceDoc{
				Name:          j.Name,
				Goal:          j.Goal.String(),
				State:         j.State.String(),
				PID:           map[string]int{},
				Env:           []string(j.Env),
				StartEnv:      []string(j.StartEnv),
				StopEnv:       []string(j.StopEnv),
				Failed:        j.Failed,
				FailedProcess: failedProcessName(j.FailedProcess),
				ExitStatus:    j.ExitStatus,
				RespawnCount:  j.RespawnCount,
				BlockerEvent:  -1,
			}

			for role, name := range processRoleNames {
				if pid := j.PID(role); pid > 0 {
					id.PID[name] = pid
				}
			}

			if j.Blocker != invalidHandle {
				if idx, ok := eventIndex[j.Blocker]; ok {
					id.BlockerEvent = idx
				}
			}

			for _, link := range j.Blocking {
				if link.kind != WaitingEvent {
					continue
				}
				if idx, ok := eventIndex[link.event]; ok {
					id.Blocking = append(id.Blocking, jobLinkDoc{EventIndex: idx})
				}
			}

			cd.Instances = append(cd.Instances, id)
		}

		doc.Classes = append(doc.Classes, cd)
	}

	return yaml.Marshal(doc)
}

// Deserialize rebuilds the queue, registry, and instances from data written
// by Serialize, against classes already registered in e.Registry (class
// *definitions* — processes, expressions, limits — come from the config
// reload path, not from the persisted document; spec.md §1 scopes config
// parsing out, so this only restores instance *state*). It rejects partial
// documents outright: an out-of-range progress value, a blocker_event that
// doesn't resolve, or an unknown goal/state string all fail the whole call
// rather than best-effort reconstructing a degraded instance (spec.md §9
// Design Notes).
func (e *Engine) Deserialize(data []byte) ([]Session, error) {
	var doc stateDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal state document")
	}

	e.events = nil
	e.eventByID = make(map[EventHandle]*Event)
	e.jobByID = make(map[JobHandle]*Job)

	events := make([]*Event, len(doc.Events))

	for i, ed := range doc.Events {
		if ed.Progress < 0 || ed.Progress > int(Finished) {
			return nil, errors.Errorf("event %q has invalid progress %d", ed.Name, ed.Progress)
		}

		ev := &Event{
			handle:   e.allocEventHandle(),
			Name:     ed.Name,
			Env:      Env(ed.Env),
			Session:  ed.Session,
			progress: Progress(ed.Progress),
			failed:   ed.Failed,
			blockers: ed.Blockers,
		}

		events[i] = ev
		e.events = append(e.events, ev)
		e.eventByID[ev.handle] = ev
	}

	for _, class := range e.Registry.All() {
		class.instances.Clear()
	}

	for _, cd := range doc.Classes {
		class, ok := e.Registry.Get(cd.Name)
		if !ok {
			return nil, errors.Errorf("state document references unknown class %q", cd.Name)
		}

		class.Deleted = cd.Deleted

		for _, id := range cd.Instances {
			goal, err := parseGoal(id.Goal)
			if err != nil {
				return nil, errors.Wrapf(err, "instance %s/%s", cd.Name, id.Name)
			}

			state, err := parseState(id.State)
			if err != nil {
				return nil, errors.Wrapf(err, "instance %s/%s", cd.Name, id.Name)
			}

			j := &Job{
				handle:        e.allocJobHandle(),
				Class:         class,
				Name:          id.Name,
				Goal:          goal,
				State:         state,
				Env:           Env(id.Env),
				StartEnv:      Env(id.StartEnv),
				StopEnv:       Env(id.StopEnv),
				StopOn:        class.StopOn.Clone(),
				Failed:        id.Failed,
				FailedProcess: parseFailedProcess(id.FailedProcess),
				ExitStatus:    id.ExitStatus,
				RespawnCount:  id.RespawnCount,
			}

			for name, pid := range id.PID {
				role, ok := processRoleByName[name]
				if !ok {
					return nil, errors.Errorf("instance %s/%s has unknown process role %q", cd.Name, id.Name, name)
				}
				j.setPID(role, pid)
			}

			if id.BlockerEvent >= 0 {
				if id.BlockerEvent >= len(events) {
					return nil, errors.Errorf("instance %s/%s blocker_event %d out of range", cd.Name, id.Name, id.BlockerEvent)
				}
				j.Blocker = events[id.BlockerEvent].handle
			} else {
				j.Blocker = invalidHandle
			}

			for _, link := range id.Blocking {
				if link.EventIndex < 0 || link.EventIndex >= len(events) {
					return nil, errors.Errorf("instance %s/%s blocking link out of range", cd.Name, id.Name)
				}
				j.Blocking = append(j.Blocking, NewEventLink(events[link.EventIndex].handle))
			}

			class.putInstance(j)
			e.jobByID[j.handle] = j
		}
	}

	for i, ed := range doc.Events {
		ev := events[i]

		for _, ld := range ed.Blocking {
			if ld.Kind != "WaitingJob" {
				continue
			}

			j, ok := e.lookupInstanceByPath(ld.JobPath)
			if !ok {
				return nil, errors.Errorf("event %q blocking link references unknown job %q", ed.Name, ld.JobPath)
			}

			ev.blocking = append(ev.blocking, NewJobLink(j.handle))
		}
	}

	return doc.Sessions, nil
}
