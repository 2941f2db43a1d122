package queue

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/actionqueue/internal/stream"
)

// ID identifies an item for its whole lifecycle. It is the join key between
// scheduling state and progress events.
type ID = uuid.UUID

// ParseID parses the string form of an ID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// Status is the scheduling state of an admitted item.
type Status int

const (
	StatusEnqueued Status = iota
	StatusExecuting
)

func (s Status) String() string {
	switch s {
	case StatusEnqueued:
		return "enqueued"
	case StatusExecuting:
		return "executing"
	}
	return "unknown"
}

// Entry is one admitted item. Progress holds the latest reported payload.
type Entry[I, P any] struct {
	ID         ID
	Item       I
	Status     Status
	EnqueuedAt time.Time
	StartedAt  time.Time
	Progress   P
	Reports    int

	// finished is set once the Finished event has been published.
	finished bool
}

// State is the scheduling state owned by the store loop.
//
// Items is kept in admission order; an item leaves it only after its
// termination has been confirmed through the progress broadcast.
type State[I, P any] struct {
	Items            []Entry[I, P]
	ConcurrencyLimit int
	IsStarted        bool

	listening bool
	progress  *stream.Pipe[Event[P]]
}

// Clone copies the item list so later drains cannot mutate a published state.
func (s State[I, P]) Clone() State[I, P] {
	s.Items = slices.Clone(s.Items)
	return s
}

// Index returns the position of id in Items, or -1.
func (s State[I, P]) Index(id ID) int {
	return slices.IndexFunc(s.Items, func(e Entry[I, P]) bool { return e.ID == id })
}

// Lookup returns the entry for id.
func (s State[I, P]) Lookup(id ID) (Entry[I, P], bool) {
	if i := s.Index(id); i >= 0 {
		return s.Items[i], true
	}
	return Entry[I, P]{}, false
}

// Executing counts items currently holding a concurrency slot.
func (s State[I, P]) Executing() int {
	return s.count(StatusExecuting)
}

// Enqueued counts items waiting for a slot.
func (s State[I, P]) Enqueued() int {
	return s.count(StatusEnqueued)
}

func (s State[I, P]) count(status Status) int {
	n := 0
	for _, e := range s.Items {
		if e.Status == status {
			n++
		}
	}
	return n
}

// Event is published on the progress channel: either a progress payload for
// an item or its terminal Finished marker.
type Event[P any] struct {
	ID       ID
	Payload  P
	Finished bool
}
