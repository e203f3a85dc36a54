package sched

import (
	"fmt"
	"strings"
)

// TaskID uniquely identifies a task in the scheduler.
type TaskID uint64

// Kind tags the two task variants. The scheduler branches on it explicitly.
type Kind int

const (
	KindCPU Kind = iota
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// ParseKind accepts "cpu" and "io" in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return KindCPU, nil
	case "io":
		return KindIO, nil
	default:
		return 0, fmt.Errorf("unknown task type %q", s)
	}
}

// State is the lifecycle state of a task.
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateWaiting
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "Runnable"
	case StateRunning:
		return "Running"
	case StateWaiting:
		return "Waiting"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// TaskSpec describes one task of a workload.
type TaskSpec struct {
	ID       TaskID
	Kind     Kind
	Priority int
	BurstMS  int64
	IOWaitMS int64 // io tasks only; 0 means Config.IOWaitMS
}

// Task represents one schedulable task unit.
type Task struct {
	ID       TaskID
	Kind     Kind
	Priority int     // 0 - MaxPriority, where 0 is the highest priority
	Weight   float64 // NICE_0_LOAD / (Priority + 1)
	Vruntime float64

	Burst     int64 // total CPU work in ms
	Remaining int64 // CPU work left in ms
	IOWait    int64 // ms blocked before a CPU burst, io tasks only
	State     State

	Dispatches int
	CPUTime    int64
	WaitTime   int64
	FinishedAt int64

	bursts int  // CPU bursts executed so far
	waited bool // the wait for the next burst has already been served
}

// NewTask validates spec against cfg and creates a Runnable task with zero vruntime.
func NewTask(spec TaskSpec, cfg Config) (*Task, error) {
	subject := fmt.Sprintf("task %d", spec.ID)

	if spec.Kind != KindCPU && spec.Kind != KindIO {
		return nil, configErrorf(subject, "unknown task type %d", int(spec.Kind))
	}
	if spec.BurstMS <= 0 {
		return nil, configErrorf(subject, "burst must be positive, got %dms", spec.BurstMS)
	}
	if spec.IOWaitMS < 0 {
		return nil, configErrorf(subject, "io wait must not be negative, got %dms", spec.IOWaitMS)
	}

	weight, err := cfg.WeightTable().Weight(spec.Priority)
	if err != nil {
		return nil, &ConfigError{Subject: subject, Err: err}
	}

	t := &Task{
		ID:        spec.ID,
		Kind:      spec.Kind,
		Priority:  spec.Priority,
		Weight:    weight,
		Burst:     spec.BurstMS,
		Remaining: spec.BurstMS,
		State:     StateRunnable,
	}
	if spec.Kind == KindIO {
		t.IOWait = spec.IOWaitMS
		if t.IOWait == 0 {
			t.IOWait = cfg.IOWaitMS
		}
	}
	return t, nil
}

// dueForWait reports whether an io task has to block before its next burst.
func (t *Task) dueForWait(every int) bool {
	if t.Kind != KindIO || t.waited || t.IOWait == 0 {
		return false
	}
	return t.bursts%every == 0
}
