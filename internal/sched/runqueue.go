package sched

import (
	"fmt"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// Runqueue holds Runnable tasks in a red-black tree ordered by vruntime and
// task ID. The id index keeps duplicate detection O(1).
type Runqueue struct {
	rbt   *redblacktree.Tree
	index map[TaskID]nodeKey
}

// NewRunqueue returns an empty runqueue.
func NewRunqueue() *Runqueue {
	return &Runqueue{
		rbt:   redblacktree.NewWith(cmp),
		index: make(map[TaskID]nodeKey),
	}
}

// Insert queues t under its current vruntime.
func (rq *Runqueue) Insert(t *Task) error {
	if _, dup := rq.index[t.ID]; dup {
		return fmt.Errorf("%w: task %d already queued", ErrDuplicateTask, t.ID)
	}
	if t.State != StateRunnable {
		return &InvariantError{TaskID: t.ID, Invariant: "queued task must be Runnable, got " + t.State.String()}
	}

	key := nodeKey{vruntime: t.Vruntime, id: t.ID}
	rq.rbt.Put(key, t)
	rq.index[t.ID] = key
	return nil
}

// PeekMin returns the task with the smallest (vruntime, id) without removing it.
func (rq *Runqueue) PeekMin() (*Task, error) {
	node := rq.rbt.Left()
	if node == nil {
		return nil, ErrEmptyQueue
	}
	return node.Value.(*Task), nil
}

// ExtractMin removes and returns the task with the smallest (vruntime, id).
func (rq *Runqueue) ExtractMin() (*Task, error) {
	node := rq.rbt.Left()
	if node == nil {
		return nil, ErrEmptyQueue
	}

	key := node.Key.(nodeKey)
	t := node.Value.(*Task)
	rq.rbt.Remove(key)
	delete(rq.index, key.id)
	return t, nil
}

// Contains reports whether a task with this id is queued.
func (rq *Runqueue) Contains(id TaskID) bool {
	_, ok := rq.index[id]
	return ok
}

// Len returns the number of queued tasks.
func (rq *Runqueue) Len() int { return rq.rbt.Size() }

// Empty reports whether no task is queued.
func (rq *Runqueue) Empty() bool { return rq.rbt.Empty() }

// nodeKey is used as a key in the red-black tree.
type nodeKey struct {
	vruntime float64
	id       TaskID
}

// cmp orders nodeKeys by vruntime, then by id so equal vruntimes stay deterministic.
func cmp(a, b any) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	switch {
	case ka.vruntime < kb.vruntime:
		return -1
	case ka.vruntime > kb.vruntime:
		return 1
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	default:
		return 0
	}
}
