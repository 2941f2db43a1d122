package store

import "context"

type effectKind int

const (
	effectNone effectKind = iota
	effectImmediate
	effectTask
	effectMerge
	effectCancel
)

// Emit folds an action back into the store that launched the effect.
// It blocks until the action's drain has completed and is a no-op once the
// emitting task has been cancelled.
type Emit[A any] func(A)

// Effect describes the follow-up work a reducer requests. The zero value is
// None.
type Effect[A any] struct {
	kind    effectKind
	action  A
	run     func(ctx context.Context, emit Emit[A]) error
	catch   func(error) (A, bool)
	key     string
	effects []Effect[A]
}

// None requests no further work.
func None[A any]() Effect[A] {
	return Effect[A]{}
}

// Immediate feeds next back into the current drain, after any actions that
// are already pending.
func Immediate[A any](next A) Effect[A] {
	return Effect[A]{kind: effectImmediate, action: next}
}

// Run launches fn on its own goroutine. fn may emit any number of actions
// and should return promptly once ctx is done.
func Run[A any](fn func(ctx context.Context, emit Emit[A]) error) Effect[A] {
	return Effect[A]{kind: effectTask, run: fn}
}

// Merge combines several effects. Immediate actions are queued in argument
// order.
func Merge[A any](effects ...Effect[A]) Effect[A] {
	switch len(effects) {
	case 0:
		return None[A]()
	case 1:
		return effects[0]
	}
	return Effect[A]{kind: effectMerge, effects: effects}
}

// CancelTask cancels the running task registered under key, if any.
func CancelTask[A any](key string) Effect[A] {
	return Effect[A]{kind: effectCancel, key: key}
}

// Catch routes a non-cancellation failure of a Run effect to fn. When fn
// returns ok, the recovery action is emitted.
func (e Effect[A]) Catch(fn func(err error) (A, bool)) Effect[A] {
	e.catch = fn
	return e
}

// Named registers a Run effect under key. Starting a task under a key that
// is still running cancels the previous one.
func (e Effect[A]) Named(key string) Effect[A] {
	e.key = key
	return e
}

// IsNone reports whether e requests no work.
func (e Effect[A]) IsNone() bool {
	return e.kind == effectNone
}
