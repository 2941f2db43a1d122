package stream

import (
	"context"
	"iter"
	"sync"
)

// Broadcast fans one upstream sequence out to any number of independently
// paced subscribers.
//
// A single forwarding goroutine pulls from upstream and pushes every value
// into each registered subscriber pipe. Subscribers whose pipe has been
// closed are dropped from the registry on the next push. When upstream ends
// or the broadcast is stopped, every remaining subscriber is closed and later
// subscribers receive an already-finished stream.
type Broadcast[T any] struct {
	mu       sync.Mutex
	subs     map[uint64]subscriber[T]
	nextID   uint64
	finished bool

	cancel     context.CancelFunc
	finishOnce sync.Once
	done       chan struct{}
}

type subscriber[T any] struct {
	pipe *Pipe[T]
	keep func(T) bool
}

// NewBroadcast starts forwarding upstream. upstream should stop when ctx is
// done; Pipe.All(ctx) and Subscription.All(ctx) both do.
func NewBroadcast[T any](ctx context.Context, upstream iter.Seq[T]) *Broadcast[T] {
	ctx, cancel := context.WithCancel(ctx)
	b := &Broadcast[T]{
		subs:   make(map[uint64]subscriber[T]),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.forward(ctx, upstream)
	return b
}

func (b *Broadcast[T]) forward(ctx context.Context, upstream iter.Seq[T]) {
	defer b.finish()
	for v := range upstream {
		if ctx.Err() != nil || !b.publish(v) {
			return
		}
	}
}

// publish pushes v to every subscriber that keeps it. It reports false once
// the broadcast has finished.
func (b *Broadcast[T]) publish(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return false
	}
	for id, sub := range b.subs {
		if sub.pipe.Closed() {
			delete(b.subs, id)
			continue
		}
		if sub.keep != nil && !sub.keep(v) {
			continue
		}
		if err := sub.pipe.Send(v); err != nil {
			delete(b.subs, id)
		}
	}
	return true
}

func (b *Broadcast[T]) finish() {
	b.finishOnce.Do(func() {
		b.mu.Lock()
		b.finished = true
		subs := b.subs
		b.subs = make(map[uint64]subscriber[T])
		b.mu.Unlock()

		for _, sub := range subs {
			sub.pipe.Close()
		}
		b.cancel()
		close(b.done)
	})
}

// Subscribe registers a new subscriber. Only values forwarded after this call
// are delivered.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	return b.SubscribeWhere(nil)
}

// SubscribeWhere registers a subscriber that only receives the values keep
// accepts. Rejected values are never buffered for it. keep runs under the
// registry lock and must not block; a nil keep accepts everything.
func (b *Broadcast[T]) SubscribeWhere(keep func(T) bool) *Subscription[T] {
	p := NewPipe[T]()

	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		p.Close()
		return newSubscription(p)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber[T]{pipe: p, keep: keep}
	b.mu.Unlock()

	return newSubscription(p)
}

// Subscribers returns the number of registered subscribers.
func (b *Broadcast[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stop cancels forwarding and closes every subscriber without waiting for
// upstream to produce another value.
func (b *Broadcast[T]) Stop() {
	b.finish()
}

// Done is closed after the broadcast has finished and closed its subscribers.
func (b *Broadcast[T]) Done() <-chan struct{} {
	return b.done
}
