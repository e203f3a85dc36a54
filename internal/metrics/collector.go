// Package metrics consumes the scheduler event stream: it aggregates per-task
// statistics and persists events for later analysis.
package metrics

import (
	"github.com/emirpasic/gods/maps/treemap"

	"cfssim/internal/sched"
)

// TaskStats aggregates the events seen for one task.
type TaskStats struct {
	ID         sched.TaskID
	Slices     int
	CPUTime    int64
	WaitTime   int64
	Vruntime   float64
	Finished   bool
	FinishedAt int64
}

// Collector records every event of a run in order.
type Collector struct {
	events []sched.Event
	stats  *treemap.Map // TaskID -> *TaskStats
	cpu    int64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{stats: treemap.NewWith(taskIDCmp)}
}

// HandleEvent implements sched.EventHandler.
func (c *Collector) HandleEvent(ev sched.Event) error {
	c.events = append(c.events, ev)

	var st *TaskStats
	if v, ok := c.stats.Get(ev.TaskID); ok {
		st = v.(*TaskStats)
	} else {
		st = &TaskStats{ID: ev.TaskID}
		c.stats.Put(ev.TaskID, st)
	}
	st.Vruntime = ev.Vruntime

	switch ev.Kind {
	case sched.EventRunning:
		st.Slices++
		st.CPUTime += ev.Duration
		c.cpu += ev.Duration
	case sched.EventWaiting:
		st.WaitTime += ev.Duration
	case sched.EventFinished:
		st.Finished = true
		st.FinishedAt = ev.Tick
	}
	return nil
}

// Events returns the recorded events in emission order.
func (c *Collector) Events() []sched.Event { return c.events }

// CPUTime returns the sum of all Running durations.
func (c *Collector) CPUTime() int64 { return c.cpu }

// Stats returns per-task statistics ordered by task id.
func (c *Collector) Stats() []TaskStats {
	out := make([]TaskStats, 0, c.stats.Size())
	it := c.stats.Iterator()
	for it.Next() {
		out = append(out, *it.Value().(*TaskStats))
	}
	return out
}

// Task returns the statistics of one task.
func (c *Collector) Task(id sched.TaskID) (TaskStats, bool) {
	v, ok := c.stats.Get(id)
	if !ok {
		return TaskStats{}, false
	}
	return *v.(*TaskStats), true
}

func taskIDCmp(a, b any) int {
	ia, ib := a.(sched.TaskID), b.(sched.TaskID)
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	default:
		return 0
	}
}
