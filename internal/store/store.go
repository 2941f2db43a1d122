package store

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/stream"
)

// Reducer applies action to state. It is the only code allowed to mutate
// state and always runs on the store's loop goroutine.
type Reducer[S, A, E any] func(state *S, action A, env E) Effect[A]

// Cloner is implemented by state types that hold references (slices, maps)
// and need a deep copy before each drain. Other states are copied by value.
type Cloner[S any] interface {
	Clone() S
}

type envelope[A any] struct {
	action A
	parent *unit
	reply  chan *Task
}

// Option configures a Store.
type Option func(*settings)

type settings struct {
	logger    *zap.Logger
	inboxSize int
}

// WithLogger sets the store logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithInboxSize sets the buffer of the action inbox.
func WithInboxSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.inboxSize = n
		}
	}
}

// Store owns a state value and serializes every mutation of it through a
// single loop goroutine.
type Store[S, A, E any] struct {
	reducer Reducer[S, A, E]
	env     E
	logger  *zap.Logger

	// state is only touched by run.
	state   S
	subject *stream.Subject[S]

	inbox     chan envelope[A]
	forget    *stream.Pipe[A]
	observing atomic.Bool

	unitsMu  sync.Mutex
	units    map[uint64]*unit
	named    map[string]*unit
	nextUnit atomic.Uint64
	wg       sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
}

// New starts a store. The loop stops when ctx is cancelled or Close is called.
func New[S, A, E any](ctx context.Context, initial S, reducer Reducer[S, A, E], env E, opts ...Option) *Store[S, A, E] {
	st := settings{logger: zap.NewNop(), inboxSize: 64}
	for _, opt := range opts {
		opt(&st)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Store[S, A, E]{
		reducer:  reducer,
		env:      env,
		logger:   st.logger,
		state:    initial,
		subject:  stream.NewSubject(initial),
		inbox:    make(chan envelope[A], st.inboxSize),
		forget:   stream.NewPipe[A](),
		units:    make(map[uint64]*unit),
		named:    make(map[string]*unit),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	go s.run()
	return s
}

// Send applies action and every action it cascades into, then returns a
// handle for the asynchronous work spawned along the way. Sending to a closed
// store is a programming error; use TrySend when shutdown can race the call.
func (s *Store[S, A, E]) Send(action A) *Task {
	t, err := s.TrySend(action)
	if err != nil {
		s.logger.DPanic("send on closed store", zap.Error(err))
		return newTask(nil)
	}
	return t
}

// TrySend is Send for callers that may lose a race with Close. It returns
// domain.ErrStoreClosed instead of reporting misuse.
func (s *Store[S, A, E]) TrySend(action A) (*Task, error) {
	if s.ctx.Err() != nil {
		return nil, domain.ErrStoreClosed
	}
	return s.post(nil, action), nil
}

// SendAndForget queues action without waiting for it to be applied. Actions
// queued this way are applied in the order they were queued.
func (s *Store[S, A, E]) SendAndForget(action A) {
	if err := s.TrySendAndForget(action); err != nil {
		s.logger.DPanic("send on closed store", zap.Error(err))
	}
}

// TrySendAndForget is SendAndForget returning domain.ErrStoreClosed once the
// store has shut down.
func (s *Store[S, A, E]) TrySendAndForget(action A) error {
	if err := s.forget.Send(action); err != nil {
		return domain.ErrStoreClosed
	}
	if s.observing.CompareAndSwap(false, true) {
		go s.observe()
	}
	return nil
}

// State returns the state published by the most recent drain.
func (s *Store[S, A, E]) State() S {
	return s.subject.Value()
}

// Subscribe returns a subscription to every state published after the call.
func (s *Store[S, A, E]) Subscribe() *stream.Subscription[S] {
	return s.subject.Subscribe()
}

// States yields every state published after the call until ctx is done or
// the store closes.
func (s *Store[S, A, E]) States(ctx context.Context) iter.Seq[S] {
	return s.subject.Subscribe().All(ctx)
}

// Close cancels all running tasks, waits for them to settle and stops the
// loop. It is idempotent.
func (s *Store[S, A, E]) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.loopDone
		s.forget.Close()

		s.unitsMu.Lock()
		running := make([]*unit, 0, len(s.units))
		for _, u := range s.units {
			running = append(running, u)
		}
		s.unitsMu.Unlock()
		for _, u := range running {
			u.abort()
		}

		s.wg.Wait()
		s.subject.Close()
	})
}

// Running returns the number of tasks that have not settled yet.
func (s *Store[S, A, E]) Running() int {
	s.unitsMu.Lock()
	defer s.unitsMu.Unlock()
	return len(s.units)
}

func (s *Store[S, A, E]) post(parent *unit, action A) *Task {
	env := envelope[A]{action: action, parent: parent, reply: make(chan *Task, 1)}

	var abandoned <-chan struct{}
	if parent != nil {
		abandoned = parent.ctx.Done()
	}

	select {
	case s.inbox <- env:
	case <-s.ctx.Done():
		return newTask(nil)
	case <-abandoned:
		return newTask(nil)
	}

	select {
	case t := <-env.reply:
		return t
	case <-s.loopDone:
		return newTask(nil)
	}
}

func (s *Store[S, A, E]) observe() {
	for action := range s.forget.All(s.ctx) {
		s.post(nil, action)
		runtime.Gosched()
	}
}

func (s *Store[S, A, E]) run() {
	defer close(s.loopDone)
	for {
		select {
		case env := <-s.inbox:
			env.reply <- s.drain(env)
		case <-s.ctx.Done():
			return
		}
	}
}

// drain applies env.action and everything it cascades into against a copy
// of the state, then publishes the result.
func (s *Store[S, A, E]) drain(env envelope[A]) *Task {
	if env.parent != nil && env.parent.aborted.Load() {
		return newTask(nil)
	}

	state := s.copyState()
	pending := []A{env.action}
	var spawned []*unit
	applied := 0

	for len(pending) > 0 {
		action := pending[0]
		var zero A
		pending[0] = zero
		pending = pending[1:]

		effect := s.reducer(&state, action, s.env)
		pending = s.apply(env.parent, effect, pending, &spawned)
		applied++
	}

	s.state = state
	if err := s.subject.Send(state); err != nil {
		s.logger.DPanic("publish state", zap.Error(err))
	}
	if applied > 1 || len(spawned) > 0 {
		s.logger.Debug("drain complete",
			zap.Int("actions", applied),
			zap.Int("tasks", len(spawned)),
		)
	}
	return newTask(spawned)
}

func (s *Store[S, A, E]) copyState() S {
	if c, ok := any(s.state).(Cloner[S]); ok {
		return c.Clone()
	}
	return s.state
}

func (s *Store[S, A, E]) apply(parent *unit, effect Effect[A], pending []A, spawned *[]*unit) []A {
	switch effect.kind {
	case effectImmediate:
		pending = append(pending, effect.action)
	case effectMerge:
		for _, e := range effect.effects {
			pending = s.apply(parent, e, pending, spawned)
		}
	case effectTask:
		*spawned = append(*spawned, s.spawn(parent, effect))
	case effectCancel:
		s.unitsMu.Lock()
		u := s.named[effect.key]
		s.unitsMu.Unlock()
		if u != nil {
			u.abort()
		}
	}
	return pending
}

func (s *Store[S, A, E]) spawn(parent *unit, effect Effect[A]) *unit {
	ctx, cancel := context.WithCancel(s.ctx)
	u := &unit{
		id:     s.nextUnit.Add(1),
		key:    effect.key,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if parent != nil && !parent.adopt(u) {
		u.abort()
	}

	s.unitsMu.Lock()
	var previous *unit
	if u.key != "" {
		previous = s.named[u.key]
		s.named[u.key] = u
	}
	s.units[u.id] = u
	s.unitsMu.Unlock()

	if previous != nil {
		previous.abort()
	}

	s.wg.Add(1)
	go s.execute(u, effect)
	return u
}

func (s *Store[S, A, E]) execute(u *unit, effect Effect[A]) {
	defer s.wg.Done()
	defer s.settle(u)

	err := s.invoke(u, effect.run)
	if err == nil || u.ctx.Err() != nil {
		return
	}
	if effect.catch != nil {
		if recovery, ok := effect.catch(err); ok {
			s.emit(u, recovery)
		}
		return
	}
	s.logger.Debug("task failed", zap.Uint64("task_id", u.id), zap.Error(err))
}

func (s *Store[S, A, E]) invoke(u *unit, run func(context.Context, Emit[A]) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return run(u.ctx, func(action A) { s.emit(u, action) })
}

func (s *Store[S, A, E]) emit(u *unit, action A) {
	if u.aborted.Load() || s.ctx.Err() != nil {
		return
	}
	s.post(u, action)
}

func (s *Store[S, A, E]) settle(u *unit) {
	s.unitsMu.Lock()
	delete(s.units, u.id)
	if u.key != "" && s.named[u.key] == u {
		delete(s.named, u.key)
	}
	s.unitsMu.Unlock()

	if u.parent != nil {
		u.parent.release(u)
	}
	u.cancel()
	close(u.done)
}
