// Package workload reads task descriptors and turns them into scheduler tasks.
package workload

import (
	"errors"
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"

	"cfssim/internal/sched"
)

// Descriptor is one entry of a workload file.
type Descriptor struct {
	ID       uint64 `yaml:"id"`
	Type     string `yaml:"type"` // cpu or io
	Priority int    `yaml:"priority"`
	BurstMS  int64  `yaml:"burst_ms"`
	IOWaitMS int64  `yaml:"io_wait_ms,omitempty"` // io only; 0 = configured default
}

// Workload is an ordered list of descriptors.
type Workload struct {
	Tasks []Descriptor `yaml:"tasks"`
}

// Load reads a workload file.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &sched.ConfigError{Subject: path, Err: err}
	}
	return Parse(data)
}

// Parse decodes a workload document. Unknown keys are rejected.
func Parse(data []byte) (*Workload, error) {
	var w Workload
	if err := yaml.UnmarshalWithOptions(data, &w, yaml.DisallowUnknownField()); err != nil {
		return nil, &sched.ConfigError{Subject: "workload", Err: err}
	}
	return &w, nil
}

// Demo is one cpu task and one io task of equal priority, 5ms each.
func Demo() *Workload {
	return &Workload{Tasks: []Descriptor{
		{ID: 0, Type: "cpu", Priority: 0, BurstMS: 5},
		{ID: 1, Type: "io", Priority: 0, BurstMS: 5, IOWaitMS: 10},
	}}
}

// Build validates every descriptor against cfg and creates the tasks in order.
// The first malformed descriptor is reported with its index and id.
func (w *Workload) Build(cfg sched.Config) ([]*sched.Task, error) {
	if len(w.Tasks) == 0 {
		return nil, &sched.ConfigError{Subject: "workload", Err: errors.New("no tasks")}
	}

	seen := make(map[uint64]int, len(w.Tasks))
	tasks := make([]*sched.Task, 0, len(w.Tasks))
	for i, d := range w.Tasks {
		subject := fmt.Sprintf("task[%d] id=%d", i, d.ID)

		if first, dup := seen[d.ID]; dup {
			return nil, &sched.ConfigError{
				Subject: subject,
				Err:     fmt.Errorf("%w: id also used by task[%d]", sched.ErrDuplicateTask, first),
			}
		}
		seen[d.ID] = i

		kind, err := sched.ParseKind(d.Type)
		if err != nil {
			return nil, &sched.ConfigError{Subject: subject, Err: err}
		}
		if kind == sched.KindCPU && d.IOWaitMS != 0 {
			return nil, &sched.ConfigError{Subject: subject, Err: errors.New("io_wait_ms is only valid for io tasks")}
		}

		t, err := sched.NewTask(sched.TaskSpec{
			ID:       sched.TaskID(d.ID),
			Kind:     kind,
			Priority: d.Priority,
			BurstMS:  d.BurstMS,
			IOWaitMS: d.IOWaitMS,
		}, cfg)
		if err != nil {
			var ce *sched.ConfigError
			if errors.As(err, &ce) {
				err = ce.Err
			}
			return nil, &sched.ConfigError{Subject: subject, Err: err}
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
