package queue

import (
	"context"
	"iter"
	"sync"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/stream"
)

// HandleRequest is passed to a HandleFactory for every item submitted to the
// queue.
type HandleRequest[I, P any] struct {
	Item I
	ID   ID

	events *stream.Broadcast[Event[P]]
}

// NewHandle builds the handle for the requested item. cancel is invoked at
// most once, by ItemHandle.Cancel; it may be nil.
//
// The handle subscribes to the progress broadcast immediately, so the first
// Progress call observes every event of the item even when it is made after
// the item has started executing. Handle subscriptions only buffer the
// item's own events.
func (r HandleRequest[I, P]) NewHandle(cancel func()) *ItemHandle[P] {
	h := &ItemHandle[P]{
		id:     r.ID,
		cancel: cancel,
		events: r.events,
	}
	h.first = h.events.SubscribeWhere(h.owns)
	return h
}

// HandleFactory decides whether an item is admitted and builds its handle.
// Returning false rejects the item; nothing is dispatched to the queue.
type HandleFactory[I, P any] func(req HandleRequest[I, P]) (*ItemHandle[P], bool)

// DefaultHandleFactory admits every item with a handle whose Cancel does
// nothing.
func DefaultHandleFactory[I, P any](req HandleRequest[I, P]) (*ItemHandle[P], bool) {
	return req.NewHandle(nil), true
}

// ItemHandle is the caller's view of one submitted item.
type ItemHandle[P any] struct {
	id         ID
	cancel     func()
	cancelOnce sync.Once
	events     *stream.Broadcast[Event[P]]

	mu    sync.Mutex
	first *stream.Subscription[Event[P]]
}

// ID returns the item id.
func (h *ItemHandle[P]) ID() ID {
	return h.id
}

// Cancel runs the cancel callback supplied to NewHandle. Further calls have
// no effect.
func (h *ItemHandle[P]) Cancel() {
	h.cancelOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
	})
}

// Progress returns the item's progress payloads in publish order. The
// sequence ends when the item finishes, ctx is done or the queue closes.
//
// Each call takes its own subscription at call time and the returned sequence
// can be iterated once. Calls made after the item finished, other than the
// first, yield nothing and block until ctx is done or the queue closes.
func (h *ItemHandle[P]) Progress(ctx context.Context) iter.Seq[P] {
	sub := h.subscribe()
	return func(yield func(P) bool) {
		follow(ctx, h.id, sub, yield)
	}
}

// Wait blocks until the item has finished. It returns domain.ErrQueueClosed
// when the queue shut down first and ctx.Err() when ctx is done first.
func (h *ItemHandle[P]) Wait(ctx context.Context) error {
	finished := follow(ctx, h.id, h.subscribe(), func(P) bool { return true })
	switch {
	case finished:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return domain.ErrQueueClosed
	}
}

// Release drops the eager subscription if no Progress or Wait call has
// claimed it yet.
func (h *ItemHandle[P]) Release() {
	h.mu.Lock()
	first := h.first
	h.first = nil
	h.mu.Unlock()
	if first != nil {
		first.Close()
	}
}

func (h *ItemHandle[P]) subscribe() *stream.Subscription[Event[P]] {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub := h.first; sub != nil {
		h.first = nil
		return sub
	}
	return h.events.SubscribeWhere(h.owns)
}

func (h *ItemHandle[P]) owns(ev Event[P]) bool {
	return ev.ID == h.id
}

// follow yields the payloads of id's events until its Finished marker and
// reports whether the marker was seen.
func follow[P any](ctx context.Context, id ID, sub *stream.Subscription[Event[P]], yield func(P) bool) bool {
	defer sub.Close()
	for {
		ev, ok := sub.Recv(ctx)
		if !ok {
			return false
		}
		if ev.ID != id {
			continue
		}
		if ev.Finished {
			return true
		}
		if !yield(ev.Payload) {
			return false
		}
	}
}
