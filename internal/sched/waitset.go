package sched

import "github.com/emirpasic/gods/trees/redblacktree"

// waitSet parks io tasks off-CPU, ordered by wake-up tick then id.
type waitSet struct {
	rbt *redblacktree.Tree
}

type wakeKey struct {
	at int64
	id TaskID
}

func newWaitSet() *waitSet {
	return &waitSet{rbt: redblacktree.NewWith(wakeCmp)}
}

func (ws *waitSet) park(t *Task, at int64) {
	ws.rbt.Put(wakeKey{at: at, id: t.ID}, t)
}

// next returns the earliest wake-up tick.
func (ws *waitSet) next() (int64, bool) {
	node := ws.rbt.Left()
	if node == nil {
		return 0, false
	}
	return node.Key.(wakeKey).at, true
}

// due removes and returns, in wake order, every task whose wake-up tick is <= now.
func (ws *waitSet) due(now int64) []*Task {
	var woken []*Task
	for {
		node := ws.rbt.Left()
		if node == nil || node.Key.(wakeKey).at > now {
			return woken
		}
		ws.rbt.Remove(node.Key)
		woken = append(woken, node.Value.(*Task))
	}
}

func (ws *waitSet) len() int { return ws.rbt.Size() }

func wakeCmp(a, b any) int {
	ka, kb := a.(wakeKey), b.(wakeKey)
	switch {
	case ka.at < kb.at:
		return -1
	case ka.at > kb.at:
		return 1
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	default:
		return 0
	}
}
