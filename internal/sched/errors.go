package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPriority is returned for priorities outside 0..MaxPriority.
	ErrInvalidPriority = errors.New("invalid priority")
	// ErrEmptyQueue is returned when reading from an empty runqueue.
	ErrEmptyQueue = errors.New("runqueue is empty")
	// ErrDuplicateTask is returned when a task id is already queued.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrProtocolViolation is returned when the scheduler is driven from a phase that does not allow it.
	ErrProtocolViolation = errors.New("protocol violation")
)

// ConfigError reports a bad parameter or workload descriptor. It is raised
// before any dispatch happens and aborts the run.
type ConfigError struct {
	Subject string // e.g. "cpu_timeslice_ms" or "task[3] id=7"
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Subject, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func configErrorf(subject, format string, args ...any) *ConfigError {
	return &ConfigError{Subject: subject, Err: fmt.Errorf(format, args...)}
}

// InvariantError reports a broken internal contract. It always means a bug
// in the scheduler and the run is aborted.
type InvariantError struct {
	TaskID    TaskID
	Tick      int64
	Invariant string
	Err       error
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("invariant violation at tick %d, task %d: %s", e.Tick, e.TaskID, e.Invariant)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvariantError) Unwrap() error { return e.Err }
