package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/stream"
)

// ExecuteFunc runs one item to completion. report publishes a progress
// payload for the item. The returned error is logged and counted but never
// changes scheduling: the item's slot is released either way.
type ExecuteFunc[I, P any] func(ctx context.Context, item I, id ID, report func(P)) error

// AggregateFunc folds a progress payload into state. It runs inside the
// reducer, so it may mutate state but must not block.
type AggregateFunc[I, P any] func(item I, id ID, payload P, state *State[I, P])

// Limiter throttles item execution. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// MetricHooks carries the metric callback functions injected by the caller.
// Every hook is optional.
type MetricHooks struct {
	OnAdded    func()
	OnStarted  func(waited time.Duration)
	OnFinished func(elapsed time.Duration, err error)
}

func (h MetricHooks) added() {
	if h.OnAdded != nil {
		h.OnAdded()
	}
}

func (h MetricHooks) started(waited time.Duration) {
	if h.OnStarted != nil {
		h.OnStarted(waited)
	}
}

func (h MetricHooks) finished(elapsed time.Duration, err error) {
	if h.OnFinished != nil {
		h.OnFinished(elapsed, err)
	}
}

// Environment is passed to every Reduce call.
type Environment[I, P any] struct {
	Execute   ExecuteFunc[I, P]
	Aggregate AggregateFunc[I, P]
	Events    *stream.Broadcast[Event[P]]
	Limiter   Limiter
	Hooks     MetricHooks
	Logger    *zap.Logger
	Now       func() time.Time
}

func (e *Environment[I, P]) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}
