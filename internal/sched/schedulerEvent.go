// internal/sched/schedulerEvent.go

package sched

// EventKind represents the type of scheduler event
type EventKind int

const (
	EventRunning EventKind = iota
	EventWaiting
	EventFinished
)

// Event is emitted for every slice, wait and completion. It carries task ids,
// never live task pointers.
type Event struct {
	Tick      int64 // virtual clock when the event is emitted
	TaskID    TaskID
	Kind      EventKind
	Duration  int64 // ms of CPU (Running) or wait (Waiting); 0 for Finished
	Vruntime  float64
	Remaining int64
}

func (k EventKind) String() string {
	switch k {
	case EventRunning:
		return "Running"
	case EventWaiting:
		return "Waiting"
	case EventFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// EventHandler consumes the event stream of a run.
type EventHandler interface {
	HandleEvent(ev Event) error
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc func(ev Event) error

// HandleEvent calls f(ev).
func (f EventHandlerFunc) HandleEvent(ev Event) error { return f(ev) }
