package sched

import "fmt"

const (
	// DefaultNice0Load is the weight of a priority-0 task.
	DefaultNice0Load = 1024.0
	// DefaultMaxPriority gives 40 levels, 0 - 39, where 0 is the highest priority.
	DefaultMaxPriority = 39
	// PriorityLimit is the largest max_priority a configuration may ask for,
	// matching the 140 priority levels of the kernel.
	PriorityLimit = 139
)

// WeightTable maps priorities to scheduling weights.
type WeightTable struct {
	Nice0Load   float64
	MaxPriority int
}

// NewWeightTable returns a table with the given normalization and range.
func NewWeightTable(nice0Load float64, maxPriority int) WeightTable {
	return WeightTable{Nice0Load: nice0Load, MaxPriority: maxPriority}
}

// Weight returns NICE_0_LOAD / (priority + 1).
func (wt WeightTable) Weight(priority int) (float64, error) {
	top := min(wt.MaxPriority, PriorityLimit)
	if priority < 0 || priority > top {
		return 0, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidPriority, priority, top)
	}
	return wt.Nice0Load / float64(priority+1), nil
}

// Scale converts d milliseconds of CPU time or wait into vruntime units for
// a task of the given weight.
func (wt WeightTable) Scale(d int64, weight float64) float64 {
	return float64(d) * wt.Nice0Load / weight
}

// Shares returns weight_i / sum(weight_j) for every task that is not finished.
// It is only meant for reporting; ordering never looks at shares.
func Shares(tasks []*Task) map[TaskID]float64 {
	var total float64
	for _, t := range tasks {
		if t.State != StateFinished {
			total += t.Weight
		}
	}

	shares := make(map[TaskID]float64, len(tasks))
	for _, t := range tasks {
		if t.State == StateFinished || total == 0 {
			continue
		}
		shares[t.ID] = t.Weight / total
	}
	return shares
}
