package engine

import "time"

// ExprSpec is the serializable shape of an Expression tree: no runtime
// match state, just the tree shape, so it can be compared across reloads
// without transient match state looking like a change (see registry.go,
// Registry.Apply).
type ExprSpec struct {
	Kind       NodeKind `diff:"kind"`
	Name       string   `diff:"name"`
	EnvPattern Env      `diff:"env_pattern"`

	Left  *ExprSpec `diff:"left"`
	Right *ExprSpec `diff:"right"`
}

// Build constructs a fresh, unmatched *Expression from the spec.
func (s *ExprSpec) Build() *Expression {
	if s == nil {
		return nil
	}

	switch s.Kind {
	case MatchNode:
		return Match(s.Name, s.EnvPattern.Clone())
	case AndNode:
		return And(s.Left.Build(), s.Right.Build())
	case OrNode:
		return Or(s.Left.Build(), s.Right.Build())
	default:
		return nil
	}
}

// ClassSpec is the Go-level shape of a job class definition, the shape a
// config-file reloader (out of scope, spec.md §1) would populate and pass
// to Registry.Apply. It carries no function values so it can be diffed
// structurally across reloads with github.com/r3labs/diff/v3 (see B.3 in
// SPEC_FULL.md).
type ClassSpec struct {
	Name     string `diff:"name"`
	Instance string `diff:"instance"`

	Processes map[string]ProcessSpec `diff:"processes"`

	StartOn *ExprSpec `diff:"start_on"`
	StopOn  *ExprSpec `diff:"stop_on"`

	Export []string `diff:"export"`
	Env    Env       `diff:"env"`

	IsTask     bool   `diff:"is_task"`
	ExpectMode string `diff:"expect_mode"` // "", "fork", "daemon", "stop"

	Respawn         bool          `diff:"respawn"`
	RespawnLimit    int           `diff:"respawn_limit"`
	RespawnInterval time.Duration `diff:"respawn_interval"`
	KillTimeout     time.Duration `diff:"kill_timeout"`

	// Guard is a govaluate boolean expression string, see internal/guard
	// and SPEC_FULL.md §D.4. Empty means unconditionally eligible.
	Guard string `diff:"guard"`

	// Timer is an optional 5-field cron expression in the form
	// internal/timerqueue's Queue.Set takes (SPEC_FULL.md §D.1). The engine
	// never reads it, and nothing in this repository passes it to Set.
	Timer string `diff:"timer"`

	Session string `diff:"session"`
}

func parseExpectMode(s string) ExpectMode {
	switch s {
	case "fork":
		return ExpectFork
	case "daemon":
		return ExpectDaemon
	case "stop":
		return ExpectStop
	default:
		return ExpectNone
	}
}

func processesFromSpec(in map[string]ProcessSpec) map[ProcessRole]ProcessSpec {
	out := make(map[ProcessRole]ProcessSpec, len(in))

	roles := map[string]ProcessRole{
		"pre-start":  RolePreStart,
		"main":       RoleMain,
		"post-start": RolePostStart,
		"pre-stop":   RolePreStop,
		"post-stop":  RolePostStop,
	}

	for k, v := range in {
		if role, ok := roles[k]; ok {
			out[role] = v
		}
	}

	return out
}
