package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carv-ics-forth/initd/internal/engine"
)

var _ = Describe("scenario 2: spawn failure (spec.md §8)", func() {
	It("fails the job at Spawned, stops it with PROCESS=main, and cascades /failed follow-ons", func() {
		eng, names, _ := newTestEngine("/no/such")

		Expect(eng.Registry.Register(engine.ClassSpec{
			Name:    "C",
			StartOn: startOn("startup"),
			Processes: map[string]engine.ProcessSpec{
				"main": {Path: "/no/such"},
			},
		})).To(Succeed())

		reply := &capturedReply{}
		ev := eng.EmitEvent("startup", nil, true, reply, "")
		Expect(eng.Poll()).To(Succeed())

		Expect(ev.Progress()).To(Equal(engine.Finished))
		Expect(ev.Failed()).To(BeTrue(), "the triggering event inherits the failure of the job it caused to run (spec.md §3)")
		Expect(reply.Succeeded).To(BeFalse())
		Expect(reply.Tag).To(Equal(engine.ErrEventFailed))

		class, _ := eng.Registry.Get("C")
		Expect(class.Instances()).To(BeEmpty(), "the failed job must reach Waiting and be removed")

		containsInOrder(*names, "startup", "starting", "stopping", "stopped")
		Expect(*names).To(ContainElement("stopping/failed"))
		Expect(*names).To(ContainElement("stopped/failed"))
	})

	It("reports JobFailed with the failing process and status through a waiting Start reply", func() {
		eng, _, _ := newTestEngine("/no/such")

		Expect(eng.Registry.Register(engine.ClassSpec{
			Name: "D",
			Processes: map[string]engine.ProcessSpec{
				"main": {Path: "/no/such"},
			},
		})).To(Succeed())

		reply := &capturedReply{}
		Expect(eng.Start("D", nil, true, reply, "")).To(Succeed())
		Expect(eng.Poll()).To(Succeed())

		Expect(reply.Succeeded).To(BeFalse())
		Expect(reply.Tag).To(Equal(engine.ErrJobFailed))
		Expect(reply.Err).To(HaveOccurred())
		Expect(reply.Err.Error()).To(ContainSubstring("process=main"))
		Expect(reply.Err.Error()).To(ContainSubstring("status=-1"))
	})
})
