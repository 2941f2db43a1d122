// Package queue runs caller-supplied work items with bounded concurrency.
//
// The scheduling logic is a store.Reducer: every state change happens on the
// store's loop goroutine, while items execute on their own goroutines and
// report back through actions. Progress events travel through a
// stream.Broadcast that serves both per-item observers and the queue's own
// termination listener.
package queue

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/store"
	"github.com/notifyhub/actionqueue/internal/stream"
)

// Options configures a Queue. Execute is required.
type Options[I, P any] struct {
	ConcurrencyLimit int
	Execute          ExecuteFunc[I, P]
	Aggregate        AggregateFunc[I, P]
	HandleFactory    HandleFactory[I, P]
	Limiter          Limiter
	Hooks            MetricHooks
	Logger           *zap.Logger
}

// Queue admits items in FIFO order and executes at most ConcurrencyLimit of
// them at a time once started.
type Queue[I, P any] struct {
	store    *store.Store[State[I, P], Action[I, P], *Environment[I, P]]
	progress *stream.Pipe[Event[P]]
	events   *stream.Broadcast[Event[P]]
	factory  HandleFactory[I, P]
	logger   *zap.Logger

	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a stopped queue. Call Start to begin executing items.
func New[I, P any](ctx context.Context, opts Options[I, P]) (*Queue[I, P], error) {
	if opts.ConcurrencyLimit < 1 {
		return nil, domain.ErrInvalidConcurrencyLimit
	}
	if opts.Execute == nil {
		return nil, domain.ErrMissingExecute
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := opts.HandleFactory
	if factory == nil {
		factory = DefaultHandleFactory[I, P]
	}

	ctx, cancel := context.WithCancel(ctx)
	progress := stream.NewPipe[Event[P]]()
	events := stream.NewBroadcast(ctx, progress.All(ctx))

	env := &Environment[I, P]{
		Execute:   opts.Execute,
		Aggregate: opts.Aggregate,
		Events:    events,
		Limiter:   opts.Limiter,
		Hooks:     opts.Hooks,
		Logger:    logger,
	}
	initial := State[I, P]{
		ConcurrencyLimit: opts.ConcurrencyLimit,
		progress:         progress,
	}

	return &Queue[I, P]{
		store:    store.New(ctx, initial, Reduce[I, P], env, store.WithLogger(logger.Named("store"))),
		progress: progress,
		events:   events,
		factory:  factory,
		logger:   logger,
		cancel:   cancel,
	}, nil
}

// Add submits item under a fresh id.
func (q *Queue[I, P]) Add(item I) (*ItemHandle[P], error) {
	return q.AddWithID(item, uuid.New())
}

// AddWithID submits item under id. The handle is built before the item is
// admitted, and admission itself happens asynchronously; the handle's
// progress sequence covers the item's whole lifecycle either way.
//
// Until the handle's first Progress or Wait call, the queue buffers the
// item's events for it. Call Release on handles that will never be read.
//
// A second submission with an id that is still in the queue is ignored by
// the scheduler.
func (q *Queue[I, P]) AddWithID(item I, id ID) (*ItemHandle[P], error) {
	if q.closed.Load() {
		return nil, domain.ErrQueueClosed
	}
	h, ok := q.factory(HandleRequest[I, P]{Item: item, ID: id, events: q.events})
	if !ok || h == nil {
		return nil, domain.ErrItemRejected
	}
	if err := q.store.TrySendAndForget(addRequested[I, P](id, item)); err != nil {
		h.Release()
		return nil, domain.ErrQueueClosed
	}
	return h, nil
}

// Start begins executing items. Cancelling the returned Run stops the queue
// from starting further items; items already executing run to completion.
// Start returns domain.ErrQueueClosed once Close has been called.
func (q *Queue[I, P]) Start() (*Run, error) {
	if q.closed.Load() {
		return nil, domain.ErrQueueClosed
	}
	if _, err := q.store.TrySend(start[I, P]()); err != nil {
		return nil, domain.ErrQueueClosed
	}
	q.logger.Info("queue started")

	return &Run{
		done: make(chan struct{}),
		stop: func() {
			if _, err := q.store.TrySend(stop[I, P]()); err != nil {
				return
			}
			q.logger.Info("queue stopped")
		},
	}, nil
}

// State returns the latest published scheduling state.
func (q *Queue[I, P]) State() State[I, P] {
	return q.store.State()
}

// States yields every scheduling state published after the call.
func (q *Queue[I, P]) States(ctx context.Context) iter.Seq[State[I, P]] {
	return q.store.States(ctx)
}

// SubscribeEvents returns a subscription to every progress event of every
// item published after the call.
func (q *Queue[I, P]) SubscribeEvents() *stream.Subscription[Event[P]] {
	return q.events.Subscribe()
}

// Close cancels executing items, waits for them to return and closes every
// progress subscription. Execute functions that ignore their context delay
// Close until they return.
//
// Items that were executing when Close was called still get their Finished
// event, after any progress they managed to report.
func (q *Queue[I, P]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		q.store.Close()
		q.finishInterrupted()
		q.progress.Close()
		<-q.events.Done()
		q.cancel()
	})
}

// finishInterrupted publishes Finished for every executing item whose
// completion the store loop never applied. It runs after the store has
// settled, so the state can no longer change.
func (q *Queue[I, P]) finishInterrupted() {
	for _, e := range q.store.State().Items {
		if e.Status != StatusExecuting || e.finished {
			continue
		}
		if err := q.progress.Send(Event[P]{ID: e.ID, Finished: true}); err != nil {
			q.logger.DPanic("publish progress after shutdown", zap.Stringer("item_id", e.ID), zap.Error(err))
			return
		}
		q.logger.Debug("item interrupted by shutdown", zap.Stringer("item_id", e.ID))
	}
}

// Run is the handle returned by Start.
type Run struct {
	once sync.Once
	stop func()
	done chan struct{}
}

// Cancel stops the queue. It is idempotent.
func (r *Run) Cancel() {
	r.once.Do(func() {
		r.stop()
		close(r.done)
	})
}

// Done is closed once the run has been cancelled.
func (r *Run) Done() <-chan struct{} {
	return r.done
}
