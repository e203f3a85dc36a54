package sched_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cfssim/internal/sched"
)

var _ = Describe("Scheduler", func() {
	var cfg sched.Config

	newTask := func(id sched.TaskID, kind sched.Kind, priority int, burst int64) *sched.Task {
		t, err := sched.NewTask(sched.TaskSpec{ID: id, Kind: kind, Priority: priority, BurstMS: burst}, cfg)
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	run := func(tasks ...*sched.Task) ([]sched.Event, *sched.Report) {
		var events []sched.Event
		s, err := sched.New(cfg, sched.WithEventHandler(sched.EventHandlerFunc(func(ev sched.Event) error {
			events = append(events, ev)
			return nil
		})))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Load(tasks...)).To(Succeed())

		report, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Phase()).To(Equal(sched.PhaseHalted))
		return events, report
	}

	type step struct {
		id   sched.TaskID
		kind sched.EventKind
		tick int64
	}

	steps := func(events []sched.Event) []step {
		out := make([]step, 0, len(events))
		for _, ev := range events {
			out = append(out, step{ev.TaskID, ev.Kind, ev.Tick})
		}
		return out
	}

	BeforeEach(func() {
		cfg = sched.DefaultConfig()
	})

	Context("phases", func() {
		It("should start idle and refuse to step", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Phase()).To(Equal(sched.PhaseIdle))

			_, err = s.Step()
			Expect(err).To(MatchError(sched.ErrProtocolViolation))

			_, err = s.Run(context.Background())
			Expect(err).To(MatchError(sched.ErrProtocolViolation))
		})

		It("should move to running once tasks are loaded", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(newTask(1, sched.KindCPU, 0, 2))).To(Succeed())
			Expect(s.Phase()).To(Equal(sched.PhaseRunning))
			Expect(s.Queued()).To(Equal(1))
		})

		It("should refuse to step or load after halting", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(newTask(1, sched.KindCPU, 0, 1))).To(Succeed())

			_, err = s.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Phase()).To(Equal(sched.PhaseHalted))

			_, err = s.Step()
			Expect(err).To(MatchError(sched.ErrProtocolViolation))
			Expect(s.Load(newTask(2, sched.KindCPU, 0, 1))).To(MatchError(sched.ErrProtocolViolation))
		})

		It("should only report a halted run", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(newTask(1, sched.KindCPU, 0, 3))).To(Succeed())

			_, err = s.Report()
			Expect(err).To(MatchError(sched.ErrProtocolViolation))
		})

		It("should reject duplicate ids at load time", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())

			err = s.Load(newTask(1, sched.KindCPU, 0, 3), newTask(1, sched.KindIO, 0, 3))
			Expect(sched.IsConfigError(err)).To(BeTrue())
			Expect(err).To(MatchError(sched.ErrDuplicateTask))
		})

		It("should leave nothing behind when a batch is rejected", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())

			err = s.Load(newTask(1, sched.KindCPU, 0, 3), newTask(1, sched.KindIO, 0, 3))
			Expect(err).To(MatchError(sched.ErrDuplicateTask))
			Expect(s.Queued()).To(Equal(0))
			Expect(s.Phase()).To(Equal(sched.PhaseIdle))
			_, ok := s.Task(1)
			Expect(ok).To(BeFalse())

			Expect(s.Load(newTask(1, sched.KindCPU, 0, 3))).To(Succeed())
			Expect(s.Queued()).To(Equal(1))
			Expect(s.Phase()).To(Equal(sched.PhaseRunning))
		})

		It("should reject a task whose priority is outside its own range", func() {
			wide := sched.DefaultConfig()
			wide.MaxPriority = 100
			t, err := sched.NewTask(sched.TaskSpec{ID: 1, Kind: sched.KindCPU, Priority: 80, BurstMS: 3}, wide)
			Expect(err).NotTo(HaveOccurred())

			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			err = s.Load(newTask(0, sched.KindCPU, 0, 3), t)
			Expect(sched.IsConfigError(err)).To(BeTrue())
			Expect(err).To(MatchError(sched.ErrInvalidPriority))
			Expect(s.Queued()).To(Equal(0))
			Expect(s.Phase()).To(Equal(sched.PhaseIdle))
		})

		It("should reject a task weighted under another normalization", func() {
			other := sched.DefaultConfig()
			other.Nice0Load = 2048
			t, err := sched.NewTask(sched.TaskSpec{ID: 1, Kind: sched.KindCPU, Priority: 1, BurstMS: 3}, other)
			Expect(err).NotTo(HaveOccurred())

			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			err = s.Load(t)
			Expect(sched.IsConfigError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("does not match priority"))
			Expect(s.Queued()).To(Equal(0))
		})

		It("should reject an invalid configuration", func() {
			cfg.TimesliceMS = 0
			_, err := sched.New(cfg)
			Expect(sched.IsConfigError(err)).To(BeTrue())
		})
	})

	Context("a cpu task and an io task of equal weight", func() {
		It("should interleave them and finish the cpu task first", func() {
			events, report := run(newTask(0, sched.KindCPU, 0, 5), newTask(1, sched.KindIO, 0, 5))

			Expect(steps(events)).To(Equal([]step{
				{0, sched.EventRunning, 1},
				{1, sched.EventWaiting, 11},
				{1, sched.EventRunning, 12},
				{0, sched.EventRunning, 13},
				{0, sched.EventRunning, 14},
				{0, sched.EventRunning, 15},
				{0, sched.EventRunning, 16},
				{0, sched.EventFinished, 16},
				{1, sched.EventWaiting, 26},
				{1, sched.EventRunning, 27},
				{1, sched.EventWaiting, 37},
				{1, sched.EventRunning, 38},
				{1, sched.EventWaiting, 48},
				{1, sched.EventRunning, 49},
				{1, sched.EventWaiting, 59},
				{1, sched.EventRunning, 60},
				{1, sched.EventFinished, 60},
			}))

			Expect(report.Ticks).To(Equal(int64(60)))
			Expect(report.Tasks).To(HaveLen(2))

			cpu, io := report.Tasks[0], report.Tasks[1]
			Expect(cpu.CompletionTick).To(BeNumerically("<", io.CompletionTick))
			Expect(cpu.FinalVruntime).To(Equal(5.0))
			Expect(cpu.WaitTime).To(BeZero())
			Expect(io.FinalVruntime).To(Equal(55.0))
			Expect(io.WaitTime).To(Equal(int64(50)))
			Expect(io.Dispatches).To(Equal(5))
			Expect(cpu.Share).To(Equal(0.5))
		})

		It("should overlap io waits with cpu work in overlap mode", func() {
			cfg.IOMode = sched.IOModeOverlap
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(newTask(0, sched.KindCPU, 0, 5), newTask(1, sched.KindIO, 0, 5))).To(Succeed())

			sawDraining := false
			for s.Phase() != sched.PhaseHalted {
				if s.Phase() == sched.PhaseDraining {
					sawDraining = true
				}
				_, err := s.Step()
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(sawDraining).To(BeTrue())

			report, err := s.Report()
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Tasks[0].CompletionTick).To(Equal(int64(5)))
			Expect(report.Tasks[1].CompletionTick).To(Equal(int64(56)))
			Expect(report.Tasks[1].WaitTime).To(Equal(int64(50)))
			Expect(report.IdleTicks).To(Equal(int64(46)))
			Expect(report.Ticks).To(Equal(report.CPUTime + report.IdleTicks))
		})
	})

	It("should honour io_wait_every", func() {
		cfg.IOWaitEvery = 2
		events, report := run(newTask(7, sched.KindIO, 0, 4))

		var kinds []sched.EventKind
		for _, ev := range events {
			kinds = append(kinds, ev.Kind)
		}
		Expect(kinds).To(Equal([]sched.EventKind{
			sched.EventWaiting, sched.EventRunning, sched.EventRunning,
			sched.EventWaiting, sched.EventRunning, sched.EventRunning, sched.EventFinished,
		}))
		Expect(report.Tasks[0].WaitTime).To(Equal(int64(20)))
	})

	It("should cut the last slice to the remaining time", func() {
		cfg.TimesliceMS = 4
		events, report := run(newTask(1, sched.KindCPU, 0, 10))

		var durations []int64
		for _, ev := range events {
			if ev.Kind == sched.EventRunning {
				durations = append(durations, ev.Duration)
			}
		}
		Expect(durations).To(Equal([]int64{4, 4, 2}))
		Expect(report.Tasks[0].CompletionTick).To(Equal(int64(10)))
	})

	It("should dispatch a priority-0 task twice as often as a priority-1 task", func() {
		events, _ := run(newTask(0, sched.KindCPU, 0, 100), newTask(1, sched.KindCPU, 1, 100))

		counts := map[sched.TaskID]int{}
		for _, ev := range events {
			if ev.Kind == sched.EventFinished {
				break
			}
			if ev.Kind == sched.EventRunning {
				counts[ev.TaskID]++
			}
		}
		Expect(counts[0]).To(Equal(100))
		Expect(counts[1]).To(Equal(50))
	})

	Context("properties over a mixed workload", func() {
		var tasks func() []*sched.Task

		BeforeEach(func() {
			cfg.TimesliceMS = 3
			tasks = func() []*sched.Task {
				return []*sched.Task{
					newTask(0, sched.KindCPU, 0, 40),
					newTask(1, sched.KindIO, 2, 17),
					newTask(2, sched.KindCPU, 5, 23),
					newTask(3, sched.KindIO, 0, 9),
					newTask(4, sched.KindCPU, 1, 31),
				}
			}
		})

		It("should conserve cpu time", func() {
			events, report := run(tasks()...)

			var ran int64
			for _, ev := range events {
				if ev.Kind == sched.EventRunning {
					ran += ev.Duration
				}
			}
			Expect(ran).To(Equal(int64(40 + 17 + 23 + 9 + 31)))
			Expect(report.CPUTime).To(Equal(ran))

			finished := 0
			for _, ev := range events {
				if ev.Kind == sched.EventFinished {
					finished++
					Expect(ev.Remaining).To(BeZero())
				}
			}
			Expect(finished).To(Equal(5))
		})

		It("should never let a vruntime go backwards", func() {
			events, _ := run(tasks()...)

			last := map[sched.TaskID]float64{}
			for _, ev := range events {
				Expect(ev.Vruntime).To(BeNumerically(">=", last[ev.TaskID]))
				last[ev.TaskID] = ev.Vruntime
			}
		})

		It("should produce the same stream twice", func() {
			first, r1 := run(tasks()...)
			second, r2 := run(tasks()...)
			Expect(second).To(Equal(first))
			Expect(r2).To(Equal(r1))
		})

		It("should terminate within one step per slice", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(tasks()...)).To(Succeed())

			n := 0
			for range s.Events() {
				n++
			}
			Expect(s.Phase()).To(Equal(sched.PhaseHalted))
			// at most a wait, a slice and a finish per dispatch
			Expect(n).To(BeNumerically("<=", 3*(14+6+8+3+11)))
		})

		It("should stream the same events the handlers see", func() {
			handled, _ := run(tasks()...)

			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(tasks()...)).To(Succeed())

			var streamed []sched.Event
			for ev, err := range s.Events() {
				Expect(err).NotTo(HaveOccurred())
				streamed = append(streamed, ev)
			}
			Expect(streamed).To(Equal(handled))
		})

		It("should stop streaming when the consumer breaks", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(tasks()...)).To(Succeed())

			n := 0
			for range s.Events() {
				n++
				if n == 3 {
					break
				}
			}
			Expect(s.Phase()).To(Equal(sched.PhaseRunning))
		})

		It("should resume a stream where the consumer left it", func() {
			cfg.TimesliceMS = 1
			handled, _ := run(newTask(1, sched.KindIO, 0, 2))
			Expect(handled).To(HaveLen(5))

			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(newTask(1, sched.KindIO, 0, 2))).To(Succeed())

			var streamed []sched.Event
			for ev, err := range s.Events() {
				Expect(err).NotTo(HaveOccurred())
				streamed = append(streamed, ev)
				break
			}
			for ev, err := range s.Events() {
				Expect(err).NotTo(HaveOccurred())
				streamed = append(streamed, ev)
			}
			Expect(streamed).To(Equal(handled))
			Expect(s.Phase()).To(Equal(sched.PhaseHalted))
		})
	})

	Context("failures", func() {
		It("should abort when a handler fails", func() {
			boom := errors.New("disk full")
			s, err := sched.New(cfg, sched.WithEventHandler(sched.EventHandlerFunc(func(sched.Event) error { return boom })))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(newTask(1, sched.KindCPU, 0, 3))).To(Succeed())

			_, err = s.Run(context.Background())
			Expect(err).To(MatchError(boom))

			_, err = s.Step()
			Expect(err).To(MatchError(boom))
		})

		It("should abort when the context is cancelled", func() {
			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(newTask(1, sched.KindCPU, 0, 3))).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = s.Run(ctx)
			Expect(err).To(MatchError(context.Canceled))
		})

		It("should flag a vruntime that can no longer grow", func() {
			t := newTask(9, sched.KindCPU, 0, 3)
			t.Vruntime = 1e20

			s, err := sched.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Load(t)).To(Succeed())

			_, err = s.Step()
			var ie *sched.InvariantError
			Expect(errors.As(err, &ie)).To(BeTrue())
			Expect(ie.TaskID).To(Equal(sched.TaskID(9)))
		})
	})
})
