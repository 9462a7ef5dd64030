package engine

import (
	"strings"

	"github.com/pkg/errors"
)

// This file implements the control surface of spec.md §4.7 / §6: none of
// these methods block the caller — completion is always signalled through
// the MethodReply the caller passed in, immediately when wait=false, or
// once the instance reaches a rest state when wait=true. Restart is the
// exception: whatever wait says, it replies only after its stop half has
// completed and its start half has been issued. Every method still
// requires the caller to run Poll afterward, same as EmitEvent.

func sessionAllowed(class *JobClass, session string) bool {
	return class.Session == "" || class.Session == session
}

func splitPath(path string) (class, instance string) {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}

	return path, ""
}

func (e *Engine) lookupInstanceByPath(path string) (*Job, bool) {
	className, instanceName := splitPath(path)

	class, ok := e.Registry.Get(className)
	if !ok {
		return nil, false
	}

	return class.GetInstance(instanceName)
}

// Start creates or reuses the instance className/env derives, and sets its
// goal to Start (spec.md §6, "Start(name, env[], wait) → instance_path").
func (e *Engine) Start(className string, env Env, wait bool, reply MethodReply, session string) error {
	class, ok := e.Registry.Get(className)
	if !ok {
		reply.Fail(ErrUnknownJob, errors.Errorf("no such job class %q", className))
		return nil
	}

	if !sessionAllowed(class, session) {
		reply.Fail(ErrPermissionDenied, errors.Errorf("class %q is not in session %q", className, session))
		return nil
	}

	name := e.expandInstanceName(class, env)

	j, ok := class.GetInstance(name)
	if !ok {
		j = e.newInstance(class, name)
	}

	if j.Goal == Start {
		reply.Fail(ErrAlreadyStarted, errors.Errorf("instance %q is already starting or running", j.Path()))
		return nil
	}

	j.StartEnv = env.Clone()

	if wait {
		j.Blocking = append(j.Blocking, NewReplyLink(reply, ReplyStart))
	}

	if err := e.changeGoal(j, Start); err != nil {
		return err
	}

	if !wait {
		reply.Succeed(j.Path())
	}

	return nil
}

// Stop sets goal=Stop on the instance at path (spec.md §6, "Stop(path,
// env[], wait) → void").
func (e *Engine) Stop(path string, env Env, wait bool, reply MethodReply, session string) error {
	j, ok := e.lookupInstanceByPath(path)
	if !ok {
		reply.Fail(ErrUnknownInstance, errors.Errorf("no such instance %q", path))
		return nil
	}

	if !sessionAllowed(j.Class, session) {
		reply.Fail(ErrPermissionDenied, errors.Errorf("instance %q is not in session %q", path, session))
		return nil
	}

	if j.Goal == Stop {
		reply.Fail(ErrAlreadyStopped, errors.Errorf("instance %q is already stopping or stopped", path))
		return nil
	}

	if len(env) > 0 {
		j.Env = append(j.Env.Clone(), env...)
	}

	if wait {
		j.Blocking = append(j.Blocking, NewReplyLink(reply, ReplyStop))
	}

	if err := e.changeGoal(j, Stop); err != nil {
		return err
	}

	if !wait {
		reply.Succeed("")
	}

	return nil
}

// restartContinuation is the Stop-phase MethodReply of a Restart: once the
// stop completes successfully it issues the Start half, forwarding any
// failure straight to the original caller (spec.md §6, "Restart(path,
// env[], wait) → new_path — sequentially goal=Stop then goal=Start").
type restartContinuation struct {
	engine    *Engine
	className string
	env       Env
	wait      bool
	outer     MethodReply
	session   string
}

func (r *restartContinuation) Succeed(string) {
	if err := r.engine.Start(r.className, r.env, r.wait, r.outer, r.session); err != nil {
		panic(err)
	}
}

func (r *restartContinuation) Fail(tag ErrorTag, cause error) {
	r.outer.Fail(tag, cause)
}

// Restart implements spec.md §6's "Restart(path, env[], wait) → new_path"
// by chaining a Stop and a Start through restartContinuation, never
// blocking the caller in between. The reply is sent by the Start half, so
// even with wait=false it arrives only once the stop has completed.
func (e *Engine) Restart(path string, env Env, wait bool, reply MethodReply, session string) error {
	j, ok := e.lookupInstanceByPath(path)
	if !ok {
		reply.Fail(ErrUnknownInstance, errors.Errorf("no such instance %q", path))
		return nil
	}

	if !sessionAllowed(j.Class, session) {
		reply.Fail(ErrPermissionDenied, errors.Errorf("instance %q is not in session %q", path, session))
		return nil
	}

	if j.Goal == Stop {
		reply.Fail(ErrAlreadyStopped, errors.Errorf("instance %q is not running", path))
		return nil
	}

	cont := &restartContinuation{
		engine:    e,
		className: j.Class.Name,
		env:       env,
		wait:      wait,
		outer:     reply,
		session:   session,
	}

	j.Blocking = append(j.Blocking, NewReplyLink(cont, ReplyRestart))

	return e.changeGoal(j, Stop)
}

// EmitEvent enqueues a new event, optionally deferring reply until it
// finishes (spec.md §6, "EmitEvent(name, env[], wait) → void").
func (e *Engine) EmitEvent(name string, env Env, wait bool, reply MethodReply, session string) *Event {
	ev := e.NewEvent(name, env, session)

	if wait {
		ev.blocking = append(ev.blocking, NewReplyLink(reply, ReplyEmitEvent))
	} else {
		reply.Succeed("")
	}

	return ev
}

// GetAllJobs returns every registered class name (spec.md §6).
func (e *Engine) GetAllJobs() []string {
	classes := e.Registry.All()

	out := make([]string, 0, len(classes))
	for _, c := range classes {
		out = append(out, c.Name)
	}

	return out
}

// GetJobByName looks up a class by name.
func (e *Engine) GetJobByName(name string) (string, bool) {
	class, ok := e.Registry.Get(name)
	if !ok {
		return "", false
	}

	return class.Name, true
}

// GetInstanceByName resolves (className, instanceName) to an instance path.
func (e *Engine) GetInstanceByName(className, instanceName string) (string, bool) {
	class, ok := e.Registry.Get(className)
	if !ok {
		return "", false
	}

	j, ok := class.GetInstance(instanceName)
	if !ok {
		return "", false
	}

	return j.Path(), true
}

// GetAllInstances lists every active instance path of className.
func (e *Engine) GetAllInstances(className string) []string {
	class, ok := e.Registry.Get(className)
	if !ok {
		return nil
	}

	instances := class.Instances()

	out := make([]string, 0, len(instances))
	for _, j := range instances {
		out = append(out, j.Path())
	}

	return out
}

// GetName, GetGoal, GetState, and GetProcesses expose the per-instance
// properties spec.md §6 lists.
func (e *Engine) GetName(path string) (string, bool) {
	j, ok := e.lookupInstanceByPath(path)
	if !ok {
		return "", false
	}

	return j.Name, true
}

func (e *Engine) GetGoal(path string) (string, bool) {
	j, ok := e.lookupInstanceByPath(path)
	if !ok {
		return "", false
	}

	return j.Goal.String(), true
}

func (e *Engine) GetState(path string) (string, bool) {
	j, ok := e.lookupInstanceByPath(path)
	if !ok {
		return "", false
	}

	return j.State.String(), true
}

func (e *Engine) GetProcesses(path string) ([]ProcessStatus, bool) {
	j, ok := e.lookupInstanceByPath(path)
	if !ok {
		return nil, false
	}

	return j.Processes(), true
}

// GetEnv exposes an instance's resolved environment (SPEC_FULL.md §D.2,
// "GetInstanceEnv" — introspection the distilled control surface omits).
func (e *Engine) GetEnv(path string) (Env, bool) {
	j, ok := e.lookupInstanceByPath(path)
	if !ok {
		return nil, false
	}

	return j.Env.Clone(), true
}
