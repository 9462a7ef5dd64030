package engine_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carv-ics-forth/initd/internal/engine"
)

var _ = Describe("scenario 5: respawn storm (spec.md §8)", func() {
	It("respawns up to the limit, then stops for good with failed(Main, respawn)", func() {
		eng, _, _ := newTestEngine()

		Expect(eng.Registry.Register(engine.ClassSpec{
			Name:            "svc",
			Respawn:         true,
			RespawnLimit:    3,
			RespawnInterval: time.Hour,
			Processes: map[string]engine.ProcessSpec{
				"main": {Path: "/bin/crashy"},
			},
		})).To(Succeed())

		reply := &capturedReply{}
		Expect(eng.Start("svc", nil, false, reply, "")).To(Succeed())
		Expect(eng.Poll()).To(Succeed())

		class, _ := eng.Registry.Get("svc")
		job, ok := class.GetInstance("")
		Expect(ok).To(BeTrue())
		Expect(job.State).To(Equal(engine.Running))

		// Main exits unexpectedly three times: each respawn tears the job
		// down and brings it back to Running without tripping the limit.
		for i := 0; i < 3; i++ {
			Expect(eng.ProcessExited(job, engine.RoleMain, 0)).To(Succeed())
			Expect(eng.Poll()).To(Succeed())
			Expect(job.Failed).To(BeFalse(), "respawn attempt %d must not mark the job failed", i+1)
			Expect(job.State).To(Equal(engine.Running), "respawn attempt %d must bring the job back to Running", i+1)
		}

		// The 4th exit trips class.RespawnLimit: jobFailed fires with
		// NoProcess/-1 and goal flips to Stop before the teardown cascade
		// even starts — visible immediately, before the next Poll call.
		Expect(eng.ProcessExited(job, engine.RoleMain, 0)).To(Succeed())

		Expect(job.Failed).To(BeTrue())
		Expect(job.FailedProcess).To(Equal(engine.NoProcess))
		Expect(job.ExitStatus).To(Equal(-1))
		Expect(job.Goal).To(Equal(engine.Stop))

		Expect(eng.Poll()).To(Succeed())
		Expect(class.Instances()).To(BeEmpty(), "the job must finish stopping and be removed")
	})

	It("does not respawn once goal has moved to Stop independently of the limit", func() {
		eng, _, _ := newTestEngine()

		Expect(eng.Registry.Register(engine.ClassSpec{
			Name:    "once",
			Respawn: true,
			Processes: map[string]engine.ProcessSpec{
				"main": {Path: "/bin/crashy"},
			},
		})).To(Succeed())

		reply := &capturedReply{}
		Expect(eng.Start("once", nil, false, reply, "")).To(Succeed())
		Expect(eng.Poll()).To(Succeed())

		class, _ := eng.Registry.Get("once")
		job, _ := class.GetInstance("")

		stopReply := &capturedReply{}
		Expect(eng.Stop("once", nil, false, stopReply, "")).To(Succeed())
		Expect(job.Goal).To(Equal(engine.Stop))

		Expect(eng.ProcessExited(job, engine.RoleMain, 0)).To(Succeed())
		Expect(job.Failed).To(BeFalse(), "an exit while goal=Stop is an ordinary shutdown, not a failure")

		Expect(eng.Poll()).To(Succeed())
		Expect(class.Instances()).To(BeEmpty())
	})
})
