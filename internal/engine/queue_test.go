package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carv-ics-forth/initd/internal/engine"
)

var _ = Describe("Event Queue", func() {
	var eng *engine.Engine

	BeforeEach(func() {
		eng, _, _ = newTestEngine()
	})

	It("finishes an unblocked event within a single Poll call (fall-through)", func() {
		ev := eng.NewEvent("plain", nil, "")
		Expect(ev.Progress()).To(Equal(engine.Pending))

		Expect(eng.Poll()).To(Succeed())

		_, stillQueued := lookupByName(eng, "plain")
		Expect(stillQueued).To(BeFalse(), "an event with no blockers must reach Finished and detach in the same Poll pass")
	})

	It("keeps a blocked event in Handling until its blockers count drops to zero", func() {
		ev := eng.NewEvent("held", nil, "")
		eng.Block(ev)

		Expect(eng.Poll()).To(Succeed())
		Expect(ev.Progress()).To(Equal(engine.Handling))
		Expect(ev.Blockers()).To(Equal(1))

		Expect(eng.Unblock(ev)).To(Succeed())
		Expect(eng.Poll()).To(Succeed())

		Expect(ev.Progress()).To(Equal(engine.Finished))
	})

	It("rejects Unblock when blockers is already zero", func() {
		ev := eng.NewEvent("e", nil, "")
		Expect(eng.Unblock(ev)).NotTo(Succeed())
	})

	It("is not idempotent: emitting the same name twice enqueues two distinct events", func() {
		eng.NewEvent("dup", nil, "")
		eng.NewEvent("dup", nil, "")

		count := 0
		for _, ev := range eng.Events() {
			if ev.Name == "dup" {
				count++
			}
		}
		Expect(count).To(Equal(2))
	})

	It("drains events created mid-handling (starting/started) within the same Poll call", func() {
		registry := eng.Registry
		Expect(registry.Register(engine.ClassSpec{
			Name: "chained",
			Processes: map[string]engine.ProcessSpec{
				"main": {Path: "/bin/chained"},
			},
			StartOn: &engine.ExprSpec{Kind: engine.MatchNode, Name: "first"},
			IsTask:  true,
		})).To(Succeed())

		eng.NewEvent("first", nil, "")
		Expect(eng.Poll()).To(Succeed())

		class, _ := registry.Get("chained")
		instances := class.Instances()
		Expect(instances).To(HaveLen(1))
		Expect(instances[0].State).To(Equal(engine.Running))
	})
})

func lookupByName(eng *engine.Engine, name string) (*engine.Event, bool) {
	for _, ev := range eng.Events() {
		if ev.Name == name {
			return ev, true
		}
	}

	return nil, false
}
