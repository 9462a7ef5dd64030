package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carv-ics-forth/initd/internal/engine"
)

// registerRunningService sets up a class with one running instance and one
// still-pending event, mirroring the kind of live state a re-exec hand-off
// (spec.md §6) needs to survive.
func registerRunningService(eng *engine.Engine) *engine.Job {
	ExpectWithOffset(1, eng.Registry.Register(engine.ClassSpec{
		Name: "C",
		Processes: map[string]engine.ProcessSpec{
			"main": {Path: "/bin/service"},
		},
	})).To(Succeed())

	reply := &capturedReply{}
	ExpectWithOffset(1, eng.Start("C", nil, false, reply, "")).To(Succeed())
	ExpectWithOffset(1, eng.Poll()).To(Succeed())

	class, _ := eng.Registry.Get("C")
	job, ok := class.GetInstance("")
	ExpectWithOffset(1, ok).To(BeTrue())
	ExpectWithOffset(1, job.State).To(Equal(engine.Running))

	eng.NewEvent("custom", engine.Env{"K=V"}, "")

	return job
}

var _ = Describe("scenario 6: re-exec persistence round trip (spec.md §6, §9)", func() {
	It("restores events and instance state across a fresh engine sharing the same class registry", func() {
		src, _, _ := newTestEngine()
		registerRunningService(src)

		data, err := src.Serialize([]engine.Session{{Chroot: "/", User: "root", ConfPath: "/etc/initd"}})
		Expect(err).NotTo(HaveOccurred())

		dst, _, _ := newTestEngine()
		Expect(dst.Registry.Register(engine.ClassSpec{
			Name: "C",
			Processes: map[string]engine.ProcessSpec{
				"main": {Path: "/bin/service"},
			},
		})).To(Succeed())

		sessions, err := dst.Deserialize(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Chroot).To(Equal("/"))

		class, ok := dst.Registry.Get("C")
		Expect(ok).To(BeTrue())

		instances := class.Instances()
		Expect(instances).To(HaveLen(1))
		Expect(instances[0].State).To(Equal(engine.Running))
		Expect(instances[0].Goal).To(Equal(engine.Start))
		Expect(instances[0].PID(engine.RoleMain)).To(BeNumerically(">", 0))

		var found *engine.Event
		for _, ev := range dst.Events() {
			if ev.Name == "custom" {
				found = ev
			}
		}
		Expect(found).NotTo(BeNil(), "deserialized event queue must still contain \"custom\"")
		Expect(found.Progress()).To(Equal(engine.Pending))
		Expect(found.Env).To(ContainElement("K=V"))
	})

	It("rejects a document with an out-of-range event progress", func() {
		dst, _, _ := newTestEngine()
		Expect(dst.Registry.Register(engine.ClassSpec{Name: "C"})).To(Succeed())

		data := []byte("events:\n  - name: broken\n    progress: 99\n")
		_, err := dst.Deserialize(data)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an instance whose blocker_event index does not resolve", func() {
		dst, _, _ := newTestEngine()
		Expect(dst.Registry.Register(engine.ClassSpec{Name: "C"})).To(Succeed())

		data := []byte(`
events: []
classes:
  - name: C
    instances:
      - name: ""
        goal: start
        state: running
        blocker_event: 0
`)
		_, err := dst.Deserialize(data)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a document referencing a class that isn't registered", func() {
		dst, _, _ := newTestEngine()

		data := []byte(`
events: []
classes:
  - name: ghost
    instances: []
`)
		_, err := dst.Deserialize(data)
		Expect(err).To(HaveOccurred())
	})
})
