package telemetry

import (
	"net/http"

	notifier "github.com/golanghelper/grafana-webhook"

	"github.com/carv-ics-forth/initd/internal/engine"
)

// EventEmitter is the minimal surface Webhook needs from the engine: enqueue
// a named event and let the caller's main loop Poll it.
type EventEmitter interface {
	EmitEvent(name string, env engine.Env, wait bool, reply engine.MethodReply, session string) *engine.Event
	Poll() error
}

// immediateReply satisfies engine.MethodReply for the fire-and-forget
// emit() this translator performs — nothing waits on it, so both outcomes
// are no-ops.
type immediateReply struct{}

func (immediateReply) Succeed(string)              {}
func (immediateReply) Fail(engine.ErrorTag, error) {}

// Webhook turns an inbound Grafana alert-notification webhook into a named
// event, env-tagged with the rule name and state — extending the control
// surface with an externally-triggered event source the distilled spec
// never mentions (SPEC_FULL.md Part C). Decoding is delegated to
// notifier.HandleWebhook exactly as the teacher's
// runNotificationWebhook/CreateWebhookServer do
// (controllers/workflow/observability.go:370,
// controllers/scenario/telemetry.go:346), rather than hand-rolling a
// json.Decoder over a locally-defined payload struct.
type Webhook struct {
	Emitter EventEmitter
	Session string
}

// Handler returns the http.HandlerFunc to mount behind a listener, wrapping
// w.handle in notifier.HandleWebhook the same way the teacher wraps its
// alert callback (bufferSize 0: no internal buffering between notifier and
// the handler).
func (w *Webhook) Handler() http.HandlerFunc {
	return notifier.HandleWebhook(w.handle, 0)
}

func (w *Webhook) handle(rw http.ResponseWriter, b *notifier.Body) {
	env := engine.Env{}.
		Append("RULE_NAME", b.RuleName).
		Append("STATE", b.State).
		Append("MESSAGE", b.Message)

	for _, m := range b.EvalMatches {
		env = env.Append("METRIC_"+m.Metric, m.Tags["value"])
	}

	w.Emitter.EmitEvent("alert-"+b.RuleName, env, false, immediateReply{}, w.Session)

	if err := w.Emitter.Poll(); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
	}
}
