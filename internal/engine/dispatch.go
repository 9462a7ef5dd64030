package engine

// dispatchToJobs runs the handling pass for ev against every JobClass whose
// session matches (spec.md §4.6). Stop is visited for every instance of
// every eligible class before Start is visited for any class, so an event
// listed on both sides kills the running instance before it triggers a
// fresh one (spec.md §4.6, closing paragraph).
func (e *Engine) dispatchToJobs(ev *Event) {
	classes := e.Registry.All()

	var eligible []*JobClass
	for _, class := range classes {
		if class.Session == "" || class.Session == ev.Session {
			eligible = append(eligible, class)
		}
	}

	for _, class := range eligible {
		e.stopPass(class, ev)
	}

	for _, class := range eligible {
		e.startPass(class, ev)
	}
}

// stopPass implements spec.md §4.6 step 1.
func (e *Engine) stopPass(class *JobClass, ev *Event) {
	for _, j := range class.Instances() {
		if j.StopOn == nil {
			continue
		}

		if !j.StopOn.Handle(ev, j.Env) {
			continue
		}

		if j.Goal != Stop {
			j.StopEnv = nil

			var captured Env
			j.StopOn.Environment(&captured, "UPSTART_STOP_EVENTS")
			j.StopEnv = captured

			if err := e.releaseBlocking(j, false); err != nil {
				panic(err)
			}

			e.attachCausalLinks(j, j.StopOn.matchedHandles())

			if err := e.changeGoal(j, Stop); err != nil {
				panic(err)
			}
		}

		j.StopOn.Reset()
	}
}

// startPass implements spec.md §4.6 step 2.
func (e *Engine) startPass(class *JobClass, ev *Event) {
	if class.StartOn == nil {
		return
	}

	if !class.StartOn.Handle(ev, class.Env) {
		return
	}

	if class.Guard == nil || class.Guard(e.startEnvFor(class)) {
		env := e.startEnvFor(class)
		name := e.expandInstanceName(class, env)

		j, ok := class.GetInstance(name)
		if !ok {
			j = e.newInstance(class, name)
		}

		if j.Goal != Start {
			j.StartEnv = env.Clone()

			if err := e.releaseBlocking(j, false); err != nil {
				panic(err)
			}

			e.attachCausalLinks(j, class.StartOn.matchedHandles())

			if err := e.changeGoal(j, Start); err != nil {
				panic(err)
			}
		}
	}

	class.StartOn.Reset()
}

// startEnvFor builds the start environment a matched start_on contributes:
// class.env plus the captured match env prefixed UPSTART_EVENTS (spec.md
// §4.6 step 2).
func (e *Engine) startEnvFor(class *JobClass) Env {
	env := class.Env.Clone()
	class.StartOn.Environment(&env, "UPSTART_EVENTS")

	return env
}

// attachCausalLinks adds a WaitingEvent link on j.Blocking for each matched
// event handle, incrementing that event's blockers, so the job's own
// eventual rest state releases them in turn (spec.md §4.6, "attach this
// event's causal links to job.blocking").
func (e *Engine) attachCausalLinks(j *Job, handles []EventHandle) {
	for _, h := range handles {
		ev, ok := e.lookupEvent(h)
		if !ok {
			continue
		}

		e.Block(ev)
		j.Blocking = append(j.Blocking, NewEventLink(h))
	}
}

// newInstance creates and registers a fresh Job for class, in Waiting/Stop,
// ready for changeGoal(Start) to drive it forward.
func (e *Engine) newInstance(class *JobClass, name string) *Job {
	j := &Job{
		handle:        e.allocJobHandle(),
		Class:         class,
		Name:          name,
		Goal:          Stop,
		State:         Waiting,
		FailedProcess: NoProcess,
		StopOn:        class.StopOn.Clone(),
	}

	class.putInstance(j)
	e.jobByID[j.handle] = j

	e.Log.V(1).Info("++ job_new", "job", j.Path())

	return j
}
