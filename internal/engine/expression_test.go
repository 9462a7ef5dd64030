package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carv-ics-forth/initd/internal/engine"
)

func newEv(name string, env engine.Env) *engine.Event {
	log, _ := newEventRecorder()
	registry := engine.NewRegistry()
	e := engine.New(log, registry, newFakeSpawner())

	return e.NewEvent(name, env, "")
}

var _ = Describe("Expression", func() {
	Context("a bare Match node", func() {
		It("accepts an event with the matching name and captures its env", func() {
			expr := engine.Match("net-up", nil)
			ev := newEv("net-up", engine.Env{"IFACE=eth0"})

			Expect(expr.Handle(ev, nil)).To(BeTrue())
			Expect(expr.Value()).To(BeTrue())

			var captured engine.Env
			expr.Environment(&captured, "UPSTART_EVENTS")

			Expect(captured).To(ContainElement("IFACE=eth0"))
			Expect(captured).To(ContainElement("UPSTART_EVENTS=net-up"))
		})

		It("rejects an event with a different name", func() {
			expr := engine.Match("net-up", nil)
			ev := newEv("net-down", nil)

			Expect(expr.Handle(ev, nil)).To(BeFalse())
		})

		It("only latches once until Reset", func() {
			expr := engine.Match("e", nil)
			first := newEv("e", engine.Env{"X=1"})
			second := newEv("e", engine.Env{"X=2"})

			Expect(expr.Handle(first, nil)).To(BeTrue())
			Expect(expr.Handle(second, nil)).To(BeTrue())

			var captured engine.Env
			expr.Environment(&captured, "")
			Expect(captured).To(Equal(engine.Env{"X=1"}), "second match before Reset must not overwrite the first capture")

			expr.Reset()
			Expect(expr.Value()).To(BeFalse())

			Expect(expr.Handle(second, nil)).To(BeTrue())

			captured = nil
			expr.Environment(&captured, "")
			Expect(captured).To(Equal(engine.Env{"X=2"}))
		})

		It("matches env subset patterns with $VAR substitution from job env", func() {
			expr := engine.Match("e", engine.Env{"LEVEL=$WANT"})
			jobEnv := engine.Env{"WANT=5"}
			ev := newEv("e", engine.Env{"LEVEL=5"})

			Expect(expr.Handle(ev, jobEnv)).To(BeTrue())
		})

		It("rejects when the env pattern does not match", func() {
			expr := engine.Match("e", engine.Env{"LEVEL=5"})
			ev := newEv("e", engine.Env{"LEVEL=6"})

			Expect(expr.Handle(ev, nil)).To(BeFalse())
		})

		It("supports glob patterns in env values", func() {
			expr := engine.Match("e", engine.Env{"DEVICE=/dev/tty*"})
			ev := newEv("e", engine.Env{"DEVICE=/dev/tty1"})

			Expect(expr.Handle(ev, nil)).To(BeTrue())
		})
	})

	Context("And/Or composition", func() {
		It("requires both sides for And", func() {
			tree := engine.And(engine.Match("a", nil), engine.Match("b", nil))

			Expect(tree.Handle(newEv("a", nil), nil)).To(BeFalse())
			Expect(tree.Handle(newEv("b", nil), nil)).To(BeTrue())
		})

		It("requires only one side for Or", func() {
			tree := engine.Or(engine.Match("a", nil), engine.Match("b", nil))

			Expect(tree.Handle(newEv("a", nil), nil)).To(BeTrue())
		})

		It("re-evaluates bottom-up on every Handle call, not just the touched leaf", func() {
			tree := engine.And(engine.Match("a", nil), engine.Match("b", nil))

			tree.Handle(newEv("a", nil), nil)
			Expect(tree.Value()).To(BeFalse())

			tree.Handle(newEv("c", nil), nil) // matches neither leaf
			Expect(tree.Value()).To(BeFalse(), "an irrelevant event must not flip the tree true")

			tree.Handle(newEv("b", nil), nil)
			Expect(tree.Value()).To(BeTrue())
		})

		It("collects captured env from every satisfied leaf, prefixed once", func() {
			tree := engine.Or(engine.Match("a", nil), engine.Match("b", nil))

			tree.Handle(newEv("a", engine.Env{"X=1"}), nil)
			tree.Handle(newEv("b", engine.Env{"Y=2"}), nil)

			var sink engine.Env
			tree.Environment(&sink, "UPSTART_EVENTS")

			Expect(sink).To(ContainElement("X=1"))
			Expect(sink).To(ContainElement("Y=2"))
			Expect(sink).To(ContainElement("UPSTART_EVENTS=a b"))
		})

		It("resets the whole subtree together", func() {
			tree := engine.And(engine.Match("a", nil), engine.Match("b", nil))
			tree.Handle(newEv("a", nil), nil)
			tree.Handle(newEv("b", nil), nil)
			Expect(tree.Value()).To(BeTrue())

			tree.Reset()
			Expect(tree.Value()).To(BeFalse())
			Expect(tree.Handle(newEv("a", nil), nil)).To(BeFalse())
		})
	})

	Context("Clone", func() {
		It("deep-copies match state without aliasing the original", func() {
			orig := engine.Match("e", engine.Env{"K=v"})
			orig.Handle(newEv("e", engine.Env{"K=v", "EXTRA=1"}), nil)

			clone := orig.Clone()
			clone.Reset()

			Expect(orig.Value()).To(BeTrue(), "resetting the clone must not affect the original")
		})
	})
})
