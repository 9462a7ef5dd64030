// Package control is the in-process shape of the control surface spec.md
// §4.7/§6 describes: typed requests decoded with
// github.com/mitchellh/mapstructure (the teacher's convention for turning
// loosely-typed maps into strongly-typed structs, controllers/template/
// helpers/helpers.go), dispatched against an *engine.Engine, replying on a
// channel. The wire framing itself is out of scope (spec.md §1); cmd/initd
// and cmd/initctl are free to put any transport — a unix socket, stdin/
// stdout — in front of Server.Handle.
package control

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/carv-ics-forth/initd/internal/engine"
	"github.com/carv-ics-forth/initd/internal/proclog"
)

// Request is one control-surface call: Method names one of the operations
// spec.md §6 lists, Args is its loosely-typed argument bag, and Wait mirrors
// the "wait?" parameter every method takes.
type Request struct {
	Method string
	Args   map[string]interface{}
	Wait   bool
}

// Reply is the outcome of a Request: exactly one of Path or Err is set on
// success/failure respectively (spec.md §6, "reply is either a success
// record or a typed error").
type Reply struct {
	Path string
	Err  *Error

	// Data carries the result of a non-mutating query method (GetAllJobs,
	// GetAllInstances, Describe, GetInstanceEnv, GetVersion) — those never
	// defer through a MethodReply, so Handle fills this in directly
	// instead of going through the channel's Succeed/Fail path.
	Data interface{} `json:",omitempty"`
}

// Error is the wire shape of an engine.TaggedError.
type Error struct {
	Tag     string
	Message string
}

type startArgs struct {
	Name string
	Env  []string
}

type pathArgs struct {
	Path string
	Env  []string
}

type emitArgs struct {
	Name string
	Env  []string
}

// Server dispatches decoded Requests against an engine, replying
// asynchronously on the channel it returns — the caller is expected to
// drain the Engine's queue with Poll after every call that mutates it,
// exactly as engine.EmitEvent's doc comment requires.
type Server struct {
	Engine  *engine.Engine
	Session string

	// Tails backs the GetProcessTail query op; nil disables it (see
	// Query.Tails).
	Tails *proclog.Store
}

// chanReply adapts a buffered channel to engine.MethodReply.
type chanReply chan Reply

func (c chanReply) Succeed(path string) {
	c <- Reply{Path: path}
}

func (c chanReply) Fail(tag engine.ErrorTag, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	c <- Reply{Err: &Error{Tag: string(tag), Message: msg}}
}

// Handle dispatches req and returns a channel carrying exactly one Reply.
// With Wait=false the reply is already on the channel by the time Handle
// returns (buffered, capacity 1), except for Restart, whose reply arrives
// only after its stop half completes; with Wait=true it arrives once the
// affected job or event reaches rest, after a subsequent Poll.
func (s *Server) Handle(req Request) (<-chan Reply, error) {
	reply := make(chanReply, 1)

	switch req.Method {
	case "Start":
		var args startArgs
		if err := decode(req.Args, &args); err != nil {
			return nil, err
		}

		return reply, s.Engine.Start(args.Name, engine.Env(args.Env), req.Wait, reply, s.Session)

	case "Stop":
		var args pathArgs
		if err := decode(req.Args, &args); err != nil {
			return nil, err
		}

		return reply, s.Engine.Stop(args.Path, engine.Env(args.Env), req.Wait, reply, s.Session)

	case "Restart":
		var args pathArgs
		if err := decode(req.Args, &args); err != nil {
			return nil, err
		}

		return reply, s.Engine.Restart(args.Path, engine.Env(args.Env), req.Wait, reply, s.Session)

	case "EmitEvent":
		var args emitArgs
		if err := decode(req.Args, &args); err != nil {
			return nil, err
		}

		s.Engine.EmitEvent(args.Name, engine.Env(args.Env), req.Wait, reply, s.Session)

		return reply, nil

	case "GetAllJobs", "GetAllInstances", "Describe", "GetInstanceEnv", "GetVersion", "GetProcessTail":
		// Query methods never defer: they read current state and reply
		// immediately, so Handle answers them directly instead of routing
		// through a MethodReply (spec.md §6, "list_instances", "get_*").
		reply <- s.query(req)

		return reply, nil

	default:
		return nil, errors.Errorf("control: unknown method %q", req.Method)
	}
}

func (s *Server) query(req Request) Reply {
	q := &Query{Engine: s.Engine, Tails: s.Tails}

	switch req.Method {
	case "GetAllJobs":
		return Reply{Data: q.GetAllJobs()}

	case "GetAllInstances":
		var args struct{ Class string }
		if err := decode(req.Args, &args); err != nil {
			return Reply{Err: &Error{Tag: string(engine.ErrInvalidArgument), Message: err.Error()}}
		}

		return Reply{Data: q.GetAllInstances(args.Class)}

	case "Describe":
		var args pathArgs
		if err := decode(req.Args, &args); err != nil {
			return Reply{Err: &Error{Tag: string(engine.ErrInvalidArgument), Message: err.Error()}}
		}

		inst, ok := q.Describe(args.Path)
		if !ok {
			return Reply{Err: &Error{Tag: string(engine.ErrUnknownInstance), Message: args.Path}}
		}

		return Reply{Data: inst}

	case "GetInstanceEnv":
		var args pathArgs
		if err := decode(req.Args, &args); err != nil {
			return Reply{Err: &Error{Tag: string(engine.ErrInvalidArgument), Message: err.Error()}}
		}

		env, ok := q.GetInstanceEnv(args.Path)
		if !ok {
			return Reply{Err: &Error{Tag: string(engine.ErrUnknownInstance), Message: args.Path}}
		}

		return Reply{Data: env}

	case "GetProcessTail":
		var args struct{ Path, Role string }
		if err := decode(req.Args, &args); err != nil {
			return Reply{Err: &Error{Tag: string(engine.ErrInvalidArgument), Message: err.Error()}}
		}

		tail, ok := q.GetProcessTail(args.Path, args.Role)
		if !ok {
			return Reply{Err: &Error{Tag: string(engine.ErrUnknownInstance), Message: args.Path + "/" + args.Role}}
		}

		return Reply{Data: tail}

	default: // GetVersion
		return Reply{Data: q.GetVersion()}
	}
}

func decode(args map[string]interface{}, out interface{}) error {
	if err := mapstructure.Decode(args, out); err != nil {
		return errors.Wrap(err, "decode control request arguments")
	}

	return nil
}
