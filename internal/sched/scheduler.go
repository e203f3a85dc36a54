// internal/sched/scheduler.go

package sched

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"
)

// Phase is the state of the execution loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseDraining
	PhaseHalted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseRunning:
		return "Running"
	case PhaseDraining:
		return "Draining"
	case PhaseHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// Scheduler implements a single-CPU CFS simulation driven by a virtual clock.
// It is not safe for concurrent use; a run lives on one goroutine.
type Scheduler struct {
	cfg     Config
	weights WeightTable
	slice   int64 // quantum per dispatch (never below the minimum granularity)

	clock   *TickClock
	rq      *Runqueue        // Runnable tasks ordered by vruntime and task ID
	waiting *waitSet         // io tasks parked off-CPU (overlap mode only)
	tasks   map[TaskID]*Task // arena of every loaded task by ID
	order   []TaskID         // load order, for reporting
	shares  map[TaskID]float64

	phase    Phase
	idle     int64   // ticks the CPU sat idle while every task was blocked
	err      error   // first fatal error; the run cannot continue past it
	pending  []Event // stepped but not yet taken from Events()
	handlers []EventHandler
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l.With("component", "scheduler") }
}

// WithEventHandler registers a consumer of the event stream.
func WithEventHandler(h EventHandler) Option {
	return func(s *Scheduler) { s.handlers = append(s.handlers, h) }
}

// New creates a new Scheduler with the given configuration.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:     cfg,
		weights: cfg.WeightTable(),
		slice:   cfg.Slice(),
		clock:   NewTickClock(),
		rq:      NewRunqueue(),
		waiting: newWaitSet(),
		tasks:   make(map[TaskID]*Task),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load registers tasks and queues them. It is only allowed before the first dispatch.
func (s *Scheduler) Load(tasks ...*Task) error {
	if s.phase != PhaseIdle {
		return fmt.Errorf("%w: load while %s", ErrProtocolViolation, s.phase)
	}

	// A rejected batch leaves the scheduler untouched.
	batch := make(map[TaskID]struct{}, len(tasks))
	for _, t := range tasks {
		if err := s.admit(t); err != nil {
			return err
		}
		_, inArena := s.tasks[t.ID]
		_, inBatch := batch[t.ID]
		if inArena || inBatch {
			return configErrorf(fmt.Sprintf("task %d", t.ID), "%w", ErrDuplicateTask)
		}
		batch[t.ID] = struct{}{}
	}

	for _, t := range tasks {
		if err := s.rq.Insert(t); err != nil {
			return s.violation(t, "validated task must be queued", err)
		}
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
	}

	all := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.tasks[id])
	}
	s.shares = Shares(all)

	if !s.rq.Empty() {
		s.phase = PhaseRunning
	}
	s.logger.Info("tasks loaded", "count", len(tasks), "queued", s.rq.Len())
	return nil
}

// admit checks a task against this scheduler's configuration. Tasks built
// with another Config must not slip past the priority range or weight law.
func (s *Scheduler) admit(t *Task) error {
	subject := fmt.Sprintf("task %d", t.ID)

	if t.Kind != KindCPU && t.Kind != KindIO {
		return configErrorf(subject, "unknown task type %d", int(t.Kind))
	}
	weight, err := s.weights.Weight(t.Priority)
	if err != nil {
		return &ConfigError{Subject: subject, Err: err}
	}
	if t.Weight != weight {
		return configErrorf(subject, "weight %v does not match priority %d (want %v)", t.Weight, t.Priority, weight)
	}
	if t.Remaining <= 0 {
		return configErrorf(subject, "remaining cpu time must be positive, got %dms", t.Remaining)
	}
	if t.State != StateRunnable {
		return configErrorf(subject, "task must be Runnable, got %s", t.State)
	}
	return nil
}

// Phase returns the current loop state.
func (s *Scheduler) Phase() Phase { return s.phase }

// Now returns the virtual clock in ms.
func (s *Scheduler) Now() int64 { return s.clock.Count() }

// Queued returns the number of Runnable tasks in the runqueue.
func (s *Scheduler) Queued() int { return s.rq.Len() }

// Task looks a task up in the arena, including finished ones.
func (s *Scheduler) Task(id TaskID) (*Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// Step performs one step of the loop and returns the events it produced.
// In Running that is one dispatch; in Draining it skips the clock to the
// next wake-up. Any other phase is a protocol violation.
func (s *Scheduler) Step() ([]Event, error) {
	if s.err != nil {
		return nil, s.err
	}

	var (
		events []Event
		err    error
	)
	switch s.phase {
	case PhaseRunning:
		events, err = s.dispatch()
	case PhaseDraining:
		err = s.drain()
	default:
		return nil, fmt.Errorf("%w: step while %s", ErrProtocolViolation, s.phase)
	}
	if err == nil {
		err = s.settle()
	}
	if err == nil {
		err = s.publish(events)
	}
	if err != nil {
		s.err = err
		s.logger.Error("run aborted", "tick", s.clock.Count(), "error", err)
		return events, err
	}
	return events, nil
}

// Events returns the lazy event stream of the run. Iteration drives Step
// until the scheduler halts or fails; a failure is yielded once as the last element.
// Events of a step the consumer stopped in the middle of are delivered first
// by the next iteration.
func (s *Scheduler) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			if !s.flush(yield) {
				return
			}
			if s.phase != PhaseRunning && s.phase != PhaseDraining {
				return
			}

			events, err := s.Step()
			s.pending = append(s.pending, events...)
			if err != nil {
				if s.flush(yield) {
					yield(Event{}, err)
				}
				return
			}
		}
	}
}

// flush yields pending events in order; false means the consumer stopped.
func (s *Scheduler) flush(yield func(Event, error) bool) bool {
	for len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		if !yield(ev, nil) {
			return false
		}
	}
	return true
}

// Run drives the loop until Halted and returns the final report. Cancelling
// ctx aborts the whole run between two steps.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	if s.phase == PhaseIdle {
		return nil, fmt.Errorf("%w: run without tasks", ErrProtocolViolation)
	}

	for s.phase != PhaseHalted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.Step(); err != nil {
			return nil, err
		}
	}
	return s.Report()
}

// dispatch runs one task: extract, optional io wait, one slice, then finish or requeue.
func (s *Scheduler) dispatch() ([]Event, error) {
	cur, err := s.rq.ExtractMin()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	cur.State = StateRunning
	cur.Dispatches++

	var events []Event

	if cur.dueForWait(s.cfg.IOWaitEvery) {
		if err := s.charge(cur, cur.IOWait); err != nil {
			return nil, err
		}
		cur.WaitTime += cur.IOWait
		cur.waited = true
		cur.State = StateWaiting

		if s.cfg.IOMode == IOModeOverlap {
			wake := s.clock.Count() + cur.IOWait
			if wake < s.clock.Count() {
				return nil, s.violation(cur, "wake-up tick overflows", nil)
			}
			s.waiting.park(cur, wake)
			s.logger.Debug("parked", "tick", s.clock.Count(), "task_id", cur.ID, "wake_at", wake, "vruntime", cur.Vruntime)
			return append(events, s.event(cur, EventWaiting, cur.IOWait)), nil
		}

		if _, err := s.clock.Advance(cur.IOWait); err != nil {
			return nil, s.violation(cur, "clock must advance", err)
		}
		events = append(events, s.event(cur, EventWaiting, cur.IOWait))
		cur.State = StateRunning
	}

	ran := min(s.slice, cur.Remaining)
	if err := s.charge(cur, ran); err != nil {
		return nil, err
	}
	cur.Remaining -= ran
	if cur.Remaining < 0 {
		return nil, s.violation(cur, "remaining cpu time must not be negative", nil)
	}
	cur.CPUTime += ran
	cur.bursts++
	cur.waited = false
	if _, err := s.clock.Advance(ran); err != nil {
		return nil, s.violation(cur, "clock must advance", err)
	}
	events = append(events, s.event(cur, EventRunning, ran))

	s.logger.Debug("dispatch",
		"tick", s.clock.Count(),
		"task_id", cur.ID,
		"ran_ms", ran,
		"remaining_ms", cur.Remaining,
		"vruntime", cur.Vruntime,
	)

	if cur.Remaining == 0 {
		cur.State = StateFinished
		cur.FinishedAt = s.clock.Count()
		return append(events, s.event(cur, EventFinished, 0)), nil
	}

	cur.State = StateRunnable
	if err := s.rq.Insert(cur); err != nil {
		return nil, s.violation(cur, "requeue must succeed", err)
	}
	return events, nil
}

// charge applies vruntime += d * NICE_0_LOAD / weight.
func (s *Scheduler) charge(t *Task, d int64) error {
	next := t.Vruntime + s.weights.Scale(d, t.Weight)
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return s.violation(t, "vruntime must stay finite", nil)
	}
	if next <= t.Vruntime {
		return s.violation(t, fmt.Sprintf("vruntime must increase (%v + %dms)", t.Vruntime, d), nil)
	}
	t.Vruntime = next
	return nil
}

// drain skips the idle CPU forward to the earliest pending wake-up.
func (s *Scheduler) drain() error {
	at, ok := s.waiting.next()
	if !ok {
		return &InvariantError{Tick: s.clock.Count(), Invariant: "draining without pending waits"}
	}
	gap := at - s.clock.Count()
	if gap > 0 {
		if _, err := s.clock.Advance(gap); err != nil {
			return &InvariantError{Tick: s.clock.Count(), Invariant: "clock must advance", Err: err}
		}
		s.idle += gap
	}
	s.logger.Debug("drained", "tick", s.clock.Count(), "idle_ms", gap)
	return nil
}

// settle wakes due waiters and picks the next phase.
func (s *Scheduler) settle() error {
	for _, t := range s.waiting.due(s.clock.Count()) {
		t.State = StateRunnable
		if err := s.rq.Insert(t); err != nil {
			return s.violation(t, "woken task must be queued once", err)
		}
	}

	switch {
	case !s.rq.Empty():
		s.phase = PhaseRunning
	case s.waiting.len() > 0:
		s.phase = PhaseDraining
	default:
		s.phase = PhaseHalted
		s.logger.Info("simulation halted", "ticks", s.clock.Count(), "idle_ms", s.idle, "tasks", len(s.tasks))
	}
	return nil
}

func (s *Scheduler) publish(events []Event) error {
	for _, ev := range events {
		for _, h := range s.handlers {
			if err := h.HandleEvent(ev); err != nil {
				return fmt.Errorf("event handler at tick %d: %w", ev.Tick, err)
			}
		}
	}
	return nil
}

func (s *Scheduler) event(t *Task, kind EventKind, d int64) Event {
	return Event{
		Tick:      s.clock.Count(),
		TaskID:    t.ID,
		Kind:      kind,
		Duration:  d,
		Vruntime:  t.Vruntime,
		Remaining: t.Remaining,
	}
}

func (s *Scheduler) violation(t *Task, invariant string, err error) error {
	return &InvariantError{TaskID: t.ID, Tick: s.clock.Count(), Invariant: invariant, Err: err}
}

// TaskSummary is the final record of one task.
type TaskSummary struct {
	ID             TaskID
	Kind           Kind
	Priority       int
	Weight         float64
	Share          float64 // expected CPU share among the initially runnable tasks
	Burst          int64
	CPUTime        int64
	WaitTime       int64
	Dispatches     int
	FinalVruntime  float64
	CompletionTick int64
}

// Report is handed to reporting layers once the run has halted.
type Report struct {
	Ticks     int64
	IdleTicks int64
	CPUTime   int64
	Tasks     []TaskSummary // sorted by task id
}

// Report summarizes a halted run.
func (s *Scheduler) Report() (*Report, error) {
	if s.phase != PhaseHalted {
		return nil, fmt.Errorf("%w: report while %s", ErrProtocolViolation, s.phase)
	}

	ids := slices.Clone(s.order)
	slices.Sort(ids)

	r := &Report{Ticks: s.clock.Count(), IdleTicks: s.idle}
	for _, id := range ids {
		t := s.tasks[id]
		r.CPUTime += t.CPUTime
		r.Tasks = append(r.Tasks, TaskSummary{
			ID:             t.ID,
			Kind:           t.Kind,
			Priority:       t.Priority,
			Weight:         t.Weight,
			Share:          s.shares[t.ID],
			Burst:          t.Burst,
			CPUTime:        t.CPUTime,
			WaitTime:       t.WaitTime,
			Dispatches:     t.Dispatches,
			FinalVruntime:  t.Vruntime,
			CompletionTick: t.FinishedAt,
		})
	}
	return r, nil
}
