package store

import (
	"context"
	"sync"
	"sync/atomic"
)

// unit is one running Run effect.
type unit struct {
	id     uint64
	key    string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	parent *unit

	aborted atomic.Bool

	mu       sync.Mutex
	children map[uint64]*unit
}

// abort cancels u and every unit spawned from actions it emitted.
func (u *unit) abort() {
	if !u.aborted.CompareAndSwap(false, true) {
		return
	}
	u.cancel()

	u.mu.Lock()
	children := make([]*unit, 0, len(u.children))
	for _, c := range u.children {
		children = append(children, c)
	}
	u.mu.Unlock()

	for _, c := range children {
		c.abort()
	}
}

// adopt links child under u. It returns false when u is already aborted, in
// which case the caller must abort child.
func (u *unit) adopt(child *unit) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.aborted.Load() {
		return false
	}
	if u.children == nil {
		u.children = make(map[uint64]*unit)
	}
	u.children[child.id] = child
	child.parent = u
	return true
}

func (u *unit) release(child *unit) {
	u.mu.Lock()
	delete(u.children, child.id)
	u.mu.Unlock()
}

// Task is the aggregate handle for every asynchronous unit of work spawned
// during one drain.
type Task struct {
	units []*unit
	done  chan struct{}
}

func newTask(units []*unit) *Task {
	t := &Task{units: units, done: make(chan struct{})}
	if len(units) == 0 {
		close(t.done)
		return t
	}
	go func() {
		for _, u := range units {
			<-u.done
		}
		close(t.done)
	}()
	return t
}

// Cancel cancels every unit in the task along with the units they spawned.
// Actions those units emit afterwards are dropped. Cancel is idempotent.
func (t *Task) Cancel() {
	for _, u := range t.units {
		u.abort()
	}
}

// Done is closed once every unit in the task has settled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until every unit has settled or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of units the drain spawned.
func (t *Task) Len() int {
	return len(t.units)
}
