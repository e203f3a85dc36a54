package sched_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cfssim/internal/sched"
)

var _ = Describe("Task", func() {
	var cfg sched.Config

	BeforeEach(func() {
		cfg = sched.DefaultConfig()
	})

	It("should create a runnable cpu task", func() {
		t, err := sched.NewTask(sched.TaskSpec{ID: 3, Kind: sched.KindCPU, Priority: 1, BurstMS: 20, IOWaitMS: 7}, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.State).To(Equal(sched.StateRunnable))
		Expect(t.Vruntime).To(BeZero())
		Expect(t.Weight).To(Equal(512.0))
		Expect(t.Remaining).To(Equal(int64(20)))
		Expect(t.IOWait).To(BeZero())
	})

	It("should give io tasks the configured wait by default", func() {
		t, err := sched.NewTask(sched.TaskSpec{ID: 1, Kind: sched.KindIO, BurstMS: 5}, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.IOWait).To(Equal(int64(10)))

		t, err = sched.NewTask(sched.TaskSpec{ID: 2, Kind: sched.KindIO, BurstMS: 5, IOWaitMS: 3}, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.IOWait).To(Equal(int64(3)))
	})

	DescribeTable("should reject malformed specs",
		func(spec sched.TaskSpec) {
			_, err := sched.NewTask(spec, cfg)
			Expect(sched.IsConfigError(err)).To(BeTrue())
		},
		Entry("zero burst", sched.TaskSpec{ID: 1, BurstMS: 0}),
		Entry("negative burst", sched.TaskSpec{ID: 1, BurstMS: -4}),
		Entry("negative io wait", sched.TaskSpec{ID: 1, Kind: sched.KindIO, BurstMS: 4, IOWaitMS: -1}),
		Entry("unknown kind", sched.TaskSpec{ID: 1, Kind: sched.Kind(9), BurstMS: 4}),
		Entry("negative priority", sched.TaskSpec{ID: 1, Priority: -1, BurstMS: 4}),
		Entry("priority out of range", sched.TaskSpec{ID: 1, Priority: 40, BurstMS: 4}),
	)

	It("should report invalid priority through the config error", func() {
		_, err := sched.NewTask(sched.TaskSpec{ID: 1, Priority: -1, BurstMS: 4}, cfg)
		Expect(err).To(MatchError(sched.ErrInvalidPriority))
	})

	It("should parse kinds", func() {
		Expect(sched.ParseKind("CPU")).To(Equal(sched.KindCPU))
		Expect(sched.ParseKind(" io ")).To(Equal(sched.KindIO))
		_, err := sched.ParseKind("gpu")
		Expect(err).To(HaveOccurred())
	})
})
