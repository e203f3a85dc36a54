// internal/sched/tickclock.go

package sched

import (
	"fmt"
	"math"
)

// TickClock is the virtual millisecond clock of a run. It only moves when
// the scheduler advances it; nothing ever sleeps.
type TickClock struct {
	count int64
}

// NewTickClock creates a clock at tick 0.
func NewTickClock() *TickClock {
	return &TickClock{}
}

// Advance moves the clock forward by d ticks and returns the new count.
func (c *TickClock) Advance(d int64) (int64, error) {
	if d < 0 {
		return c.count, fmt.Errorf("clock cannot move backwards by %d", d)
	}
	if c.count > math.MaxInt64-d {
		return c.count, fmt.Errorf("clock overflow at tick %d advancing %d", c.count, d)
	}
	c.count += d
	return c.count, nil
}

// Count returns the current tick count.
func (c *TickClock) Count() int64 {
	return c.count
}
