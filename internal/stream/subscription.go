package stream

import (
	"context"
	"iter"
	"runtime"
)

// Subscription is one consumer's view of a Broadcast or Subject. Each
// subscription owns its own unbounded pipe, so a slow subscriber never holds
// back the others.
//
// A subscription that is dropped without being closed is closed when it is
// garbage collected; the publisher then unregisters it on its next send.
type Subscription[T any] struct {
	pipe    *Pipe[T]
	cleanup runtime.Cleanup
}

func newSubscription[T any](p *Pipe[T]) *Subscription[T] {
	s := &Subscription[T]{pipe: p}
	s.cleanup = runtime.AddCleanup(s, func(p *Pipe[T]) { p.Close() }, p)
	return s
}

// Recv returns the next value. ok is false once the subscription is
// finished or ctx is done.
func (s *Subscription[T]) Recv(ctx context.Context) (T, bool) {
	return s.pipe.Recv(ctx)
}

// All yields values until the publisher finishes, ctx is done, or the loop
// body stops early. The subscription is closed when iteration ends.
func (s *Subscription[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		defer s.Close()
		for {
			v, ok := s.pipe.Recv(ctx)
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Close stops delivery to this subscription. Buffered values remain
// readable. Close is idempotent.
func (s *Subscription[T]) Close() {
	s.cleanup.Stop()
	s.pipe.Close()
}

// Len returns the number of values delivered but not yet received.
func (s *Subscription[T]) Len() int {
	return s.pipe.Len()
}
