package engine

import (
	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"github.com/r3labs/diff/v3"
)

// Registry is the name-keyed table of JobClasses, each owning a
// name-keyed table of active instances (spec.md §3 "Job Class Registry").
// Lookup by (class-name, instance-name) is O(1) expected via the
// concurrent-map backing (SPEC_FULL.md, Part C).
type Registry struct {
	classes cmap.ConcurrentMap // name -> *JobClass

	// lastApplied is the most recently applied ClassSpec per class,
	// kept to diff against on the next Apply (spec.md §6 SIGHUP reload).
	lastApplied map[string]ClassSpec

	// BuildGuard compiles a guard expression string into a predicate.
	// Injected by the caller (wired to internal/guard.Compile in
	// cmd/initd) so the engine package never imports govaluate directly
	// — the engine core stays independent of the expression-language
	// choice (SPEC_FULL.md §D.4).
	BuildGuard func(expr string) (func(Env) bool, error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classes:     cmap.New(),
		lastApplied: make(map[string]ClassSpec),
	}
}

// Get looks up a class by name.
func (r *Registry) Get(name string) (*JobClass, bool) {
	v, ok := r.classes.Get(name)
	if !ok {
		return nil, false
	}

	return v.(*JobClass), true
}

// All returns a snapshot of every class currently registered (including
// tombstoned ones awaiting their last instance to drain).
func (r *Registry) All() []*JobClass {
	items := r.classes.Items()

	out := make([]*JobClass, 0, len(items))
	for _, v := range items {
		out = append(out, v.(*JobClass))
	}

	return out
}

// ReloadResult reports what Apply changed.
type ReloadResult struct {
	Added   []string
	Changed []string
	Removed []string
}

// Apply reconciles the registry against the full desired set of
// ClassSpecs, computing the added/changed/removed set with
// github.com/r3labs/diff/v3 so that classes whose spec didn't actually
// change are left untouched — in particular, their running instances are
// never disturbed (spec.md §6, SIGHUP; SPEC_FULL.md §B.3).
func (r *Registry) Apply(specs []ClassSpec) (ReloadResult, error) {
	var result ReloadResult

	desired := make(map[string]ClassSpec, len(specs))
	for _, s := range specs {
		desired[s.Name] = s
	}

	for name := range r.lastApplied {
		if _, ok := desired[name]; ok {
			continue
		}

		r.markDeleted(name)
		delete(r.lastApplied, name)
		result.Removed = append(result.Removed, name)
	}

	for name, spec := range desired {
		old, existed := r.lastApplied[name]
		if !existed {
			class, err := r.build(spec)
			if err != nil {
				return result, errors.Wrapf(err, "build class %q", name)
			}

			r.classes.Set(name, class)
			r.lastApplied[name] = spec
			result.Added = append(result.Added, name)

			continue
		}

		changelog, err := diff.Diff(old, spec)
		if err != nil {
			return result, errors.Wrapf(err, "diff class %q", name)
		}

		if len(changelog) == 0 {
			continue
		}

		class, err := r.build(spec)
		if err != nil {
			return result, errors.Wrapf(err, "rebuild class %q", name)
		}

		if existing, ok := r.Get(name); ok {
			class.instances = existing.instances
		}

		r.classes.Set(name, class)
		r.lastApplied[name] = spec
		result.Changed = append(result.Changed, name)
	}

	return result, nil
}

// Register applies a single additional (or replacement) ClassSpec,
// convenient for tests and for programmatic class registration outside a
// full reload.
func (r *Registry) Register(spec ClassSpec) error {
	specs := make([]ClassSpec, 0, len(r.lastApplied)+1)
	for name, s := range r.lastApplied {
		if name != spec.Name {
			specs = append(specs, s)
		}
	}

	specs = append(specs, spec)

	_, err := r.Apply(specs)

	return err
}

func (r *Registry) markDeleted(name string) {
	if class, ok := r.Get(name); ok {
		class.Deleted = true
	}
}

// destroyIfOrphaned removes a tombstoned class with zero instances,
// called by the Waiting entry action (spec.md §4.4).
func (r *Registry) destroyIfOrphaned(class *JobClass) {
	if class.Deleted && class.instanceCount() == 0 {
		r.classes.Remove(class.Name)
		delete(r.lastApplied, class.Name)
	}
}

func (r *Registry) build(spec ClassSpec) (*JobClass, error) {
	class := newJobClass(spec.Name)
	class.Instance = spec.Instance
	class.Processes = processesFromSpec(spec.Processes)
	class.StartOn = spec.StartOn.Build()
	class.StopOn = spec.StopOn.Build()
	class.Export = spec.Export
	class.Env = spec.Env.Clone()
	class.IsTask = spec.IsTask
	class.ExpectMode = parseExpectMode(spec.ExpectMode)
	class.Respawn = spec.Respawn
	class.RespawnLimit = spec.RespawnLimit
	class.RespawnInterval = spec.RespawnInterval
	class.KillTimeout = spec.KillTimeout
	class.Session = spec.Session

	if spec.Guard != "" {
		if r.BuildGuard == nil {
			return nil, errors.Errorf("class %q has a guard but no guard builder is configured", spec.Name)
		}

		guard, err := r.BuildGuard(spec.Guard)
		if err != nil {
			return nil, errors.Wrapf(err, "compile guard for class %q", spec.Name)
		}

		class.Guard = guard
	}

	return class, nil
}
