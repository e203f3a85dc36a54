package sched_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cfssim/internal/sched"
)

var _ = Describe("WeightTable", func() {
	var wt sched.WeightTable

	BeforeEach(func() {
		wt = sched.NewWeightTable(sched.DefaultNice0Load, sched.DefaultMaxPriority)
	})

	It("should give NICE_0_LOAD / (priority + 1)", func() {
		Expect(wt.Weight(0)).To(Equal(1024.0))
		Expect(wt.Weight(1)).To(Equal(512.0))
		Expect(wt.Weight(3)).To(Equal(256.0))
	})

	It("should be strictly decreasing over the whole range", func() {
		prev, err := wt.Weight(0)
		Expect(err).NotTo(HaveOccurred())
		for p := 1; p <= wt.MaxPriority; p++ {
			w, err := wt.Weight(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(w).To(BeNumerically("<", prev), "priority %d", p)
			prev = w
		}
	})

	It("should reject priorities outside the range", func() {
		_, err := wt.Weight(-1)
		Expect(err).To(MatchError(sched.ErrInvalidPriority))

		_, err = wt.Weight(wt.MaxPriority + 1)
		Expect(err).To(MatchError(sched.ErrInvalidPriority))
	})

	It("should cap the range at the kernel limit", func() {
		wt = sched.NewWeightTable(sched.DefaultNice0Load, math.MaxInt)
		_, err := wt.Weight(math.MaxInt)
		Expect(err).To(MatchError(sched.ErrInvalidPriority))

		_, err = wt.Weight(sched.PriorityLimit + 1)
		Expect(err).To(MatchError(sched.ErrInvalidPriority))
		Expect(wt.Weight(sched.PriorityLimit)).To(Equal(sched.DefaultNice0Load / 140))
	})

	It("should honour a custom normalization", func() {
		wt = sched.NewWeightTable(100, 4)
		Expect(wt.Weight(4)).To(Equal(20.0))
		Expect(wt.Scale(10, 20)).To(Equal(50.0))
	})

	It("should compute shares over unfinished tasks only", func() {
		a := &sched.Task{ID: 1, Weight: 1024, State: sched.StateRunnable}
		b := &sched.Task{ID: 2, Weight: 512, State: sched.StateRunnable}
		c := &sched.Task{ID: 3, Weight: 512, State: sched.StateFinished}

		shares := sched.Shares([]*sched.Task{a, b, c})

		Expect(shares).To(HaveLen(2))
		Expect(shares[1]).To(BeNumerically("~", 2.0/3.0, 1e-12))
		Expect(shares[2]).To(BeNumerically("~", 1.0/3.0, 1e-12))
	})
})
