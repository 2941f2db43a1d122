package stream

import (
	"context"
	"iter"
	"sync"

	"github.com/notifyhub/actionqueue/internal/domain"
)

// Pipe is an unbounded channel between producers and a single logical
// consumer group. Send never blocks; the buffer grows as needed.
//
// Only one consumer group may read from a Pipe. Competing readers each get
// a disjoint share of the values, which is rarely what callers want.
type Pipe[T any] struct {
	mu       sync.Mutex
	buf      []T
	closed   bool
	onClosed func()

	// ready holds at most one wake-up signal; done is closed on Close.
	ready chan struct{}
	done  chan struct{}
}

// PipeOption configures a Pipe at construction time.
type PipeOption func(*pipeOptions)

type pipeOptions struct {
	onClosed func()
}

// OnClosed registers fn to run exactly once, when the pipe is first closed.
func OnClosed(fn func()) PipeOption {
	return func(o *pipeOptions) { o.onClosed = fn }
}

func NewPipe[T any](opts ...PipeOption) *Pipe[T] {
	var o pipeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Pipe[T]{
		onClosed: o.onClosed,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Send appends v to the buffer. It returns domain.ErrClosed once the pipe
// has been closed.
func (p *Pipe[T]) Send(v T) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrClosed
	}
	p.buf = append(p.buf, v)
	p.mu.Unlock()

	select {
	case p.ready <- struct{}{}:
	default:
		// a wake-up is already pending
	}
	return nil
}

// Close marks the pipe closed. Values already buffered are still delivered.
// Calling Close more than once has no additional effect.
func (p *Pipe[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fn := p.onClosed
	p.onClosed = nil
	close(p.done)
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Closed reports whether Close has been called.
func (p *Pipe[T]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Len returns the number of buffered, unconsumed values.
func (p *Pipe[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Recv blocks until a value is available, the pipe is closed and drained,
// or ctx is done. ok is false in the latter two cases.
func (p *Pipe[T]) Recv(ctx context.Context) (v T, ok bool) {
	for {
		p.mu.Lock()
		if len(p.buf) > 0 {
			v = p.buf[0]
			var zero T
			p.buf[0] = zero
			p.buf = p.buf[1:]
			if len(p.buf) == 0 {
				p.buf = nil
			}
			p.mu.Unlock()
			return v, true
		}
		closed := p.closed
		p.mu.Unlock()

		if closed {
			return v, false
		}

		select {
		case <-p.ready:
		case <-p.done:
		case <-ctx.Done():
			return v, false
		}
	}
}

// All returns a lazy sequence over the pipe. The sequence ends once the pipe
// is closed and drained, or when ctx is done.
func (p *Pipe[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := p.Recv(ctx)
			if !ok || !yield(v) {
				return
			}
		}
	}
}
