package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/store"
	"github.com/notifyhub/actionqueue/internal/stream"
)

const terminationListenerKey = "queue.termination-listener"

// Reduce is the queue's scheduling reducer.
//
// Admission and completion each run as a cascade of actions inside a single
// store drain:
//
//	AddRequested → WillAdd → DidAdd → NextItemsShouldExecute → ExecuteItem*
//	ItemTaskFinished → (broadcast) → TerminationConfirmed → NextItemsShouldExecute
//
// An item's slot is only released by TerminationConfirmed, which the
// termination listener emits after the Finished event has gone through the
// progress broadcast. Every progress observer therefore sees the terminal
// event no later than the scheduler frees the slot.
func Reduce[I, P any](state *State[I, P], action Action[I, P], env *Environment[I, P]) store.Effect[Action[I, P]] {
	switch action.Kind {
	case ActionAddRequested:
		return store.Immediate(willAdd[I, P](action.ID, action.Item))

	case ActionWillAdd:
		if state.Index(action.ID) >= 0 {
			env.Logger.Warn("duplicate item id ignored", zap.Stringer("item_id", action.ID))
			return store.None[Action[I, P]]()
		}
		state.Items = append(state.Items, Entry[I, P]{
			ID:         action.ID,
			Item:       action.Item,
			Status:     StatusEnqueued,
			EnqueuedAt: env.now(),
		})
		env.Hooks.added()
		return store.Immediate(didAdd[I, P](action.ID))

	case ActionDidAdd:
		return store.Immediate(nextItemsShouldExecute[I, P]())

	case ActionNextItemsShouldExecute:
		return scheduleNext(state, env)

	case ActionExecuteItem:
		entry, ok := state.Lookup(action.ID)
		if !ok || entry.Status != StatusExecuting {
			return store.None[Action[I, P]]()
		}
		return store.Run(func(ctx context.Context, emit store.Emit[Action[I, P]]) error {
			runItem(ctx, env, entry, emit)
			return nil
		})

	case ActionProgressReported:
		if i := state.Index(action.ID); i >= 0 {
			entry := &state.Items[i]
			entry.Progress = action.Payload
			entry.Reports++
			if env.Aggregate != nil {
				env.Aggregate(entry.Item, action.ID, action.Payload, state)
			}
		}
		publish(state, env, Event[P]{ID: action.ID, Payload: action.Payload})

	case ActionItemTaskFinished:
		if i := state.Index(action.ID); i >= 0 {
			state.Items[i].finished = true
		}
		publish(state, env, Event[P]{ID: action.ID, Finished: true})

	case ActionTerminationConfirmed:
		i := state.Index(action.ID)
		if i < 0 {
			return store.None[Action[I, P]]()
		}
		state.Items = append(state.Items[:i], state.Items[i+1:]...)
		return store.Immediate(nextItemsShouldExecute[I, P]())

	case ActionStart:
		if state.IsStarted {
			return store.None[Action[I, P]]()
		}
		state.IsStarted = true
		effects := []store.Effect[Action[I, P]]{store.Immediate(nextItemsShouldExecute[I, P]())}
		if !state.listening {
			state.listening = true
			// Subscribe here, not inside the task, so no Finished event
			// published after this drain can be missed.
			sub := env.Events.SubscribeWhere(isFinished[P])
			effects = append(effects, store.Run(listenForTermination[I](sub)).Named(terminationListenerKey))
		}
		return store.Merge(effects...)

	case ActionStop:
		state.IsStarted = false
	}
	return store.None[Action[I, P]]()
}

// scheduleNext starts the oldest enqueued items that fit in the free slots.
func scheduleNext[I, P any](state *State[I, P], env *Environment[I, P]) store.Effect[Action[I, P]] {
	if !state.IsStarted {
		return store.None[Action[I, P]]()
	}
	slots := state.ConcurrencyLimit - state.Executing()
	if slots <= 0 {
		return store.None[Action[I, P]]()
	}

	now := env.now()
	var effects []store.Effect[Action[I, P]]
	for i := range state.Items {
		if slots == 0 {
			break
		}
		entry := &state.Items[i]
		if entry.Status != StatusEnqueued {
			continue
		}
		entry.Status = StatusExecuting
		entry.StartedAt = now
		effects = append(effects, store.Immediate(executeItem[I, P](entry.ID)))
		slots--
	}
	return store.Merge(effects...)
}

func runItem[I, P any](ctx context.Context, env *Environment[I, P], entry Entry[I, P], emit store.Emit[Action[I, P]]) {
	log := env.Logger.With(zap.Stringer("item_id", entry.ID))
	env.Hooks.started(entry.StartedAt.Sub(entry.EnqueuedAt))

	started := env.now()
	err := callExecute(ctx, env, entry, emit)
	elapsed := env.now().Sub(started)

	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
		log.Debug("item execution cancelled", zap.Error(err))
	case err != nil:
		log.Warn("item execution failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	default:
		log.Debug("item executed", zap.Duration("elapsed", elapsed))
	}
	env.Hooks.finished(elapsed, err)

	emit(itemTaskFinished[I, P](entry.ID))
}

func callExecute[I, P any](ctx context.Context, env *Environment[I, P], entry Entry[I, P], emit store.Emit[Action[I, P]]) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("execute panicked: %v", rec)
		}
	}()

	if env.Limiter != nil {
		if err := env.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	report := func(payload P) {
		emit(progressReported[I, P](entry.ID, payload))
	}
	return env.Execute(ctx, entry.Item, entry.ID, report)
}

func listenForTermination[I, P any](sub *stream.Subscription[Event[P]]) func(context.Context, store.Emit[Action[I, P]]) error {
	return func(ctx context.Context, emit store.Emit[Action[I, P]]) error {
		for ev := range sub.All(ctx) {
			if ev.Finished {
				emit(terminationConfirmed[I, P](ev.ID))
			}
		}
		return nil
	}
}

func isFinished[P any](ev Event[P]) bool {
	return ev.Finished
}

func publish[I, P any](state *State[I, P], env *Environment[I, P], ev Event[P]) {
	if err := state.progress.Send(ev); err != nil {
		env.Logger.DPanic("publish progress after shutdown",
			zap.Stringer("item_id", ev.ID),
			zap.Bool("finished", ev.Finished),
			zap.Error(err),
		)
	}
}
