package store_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/store"
)

type counterState struct {
	Count int
	Log   []int
}

func (s counterState) Clone() counterState {
	s.Log = slices.Clone(s.Log)
	return s
}

type action struct {
	kind string
	n    int
	fn   func(ctx context.Context, emit store.Emit[action]) error
}

func inc(n int) action    { return action{kind: "inc", n: n} }
func record(n int) action { return action{kind: "log", n: n} }

func reduce(state *counterState, a action, _ struct{}) store.Effect[action] {
	switch a.kind {
	case "inc":
		state.Count += a.n
	case "log":
		state.Log = append(state.Log, a.n)
	case "cascade":
		state.Log = append(state.Log, a.n)
		if a.n > 0 {
			return store.Immediate(action{kind: "cascade", n: a.n - 1})
		}
	case "fanout":
		return store.Merge(
			store.Immediate(record(1)),
			store.Immediate(record(2)),
			store.Immediate(record(3)),
		)
	case "run":
		return store.Run(a.fn)
	case "runCatch":
		return store.Run(a.fn).Catch(func(error) (action, bool) {
			return record(-1), true
		})
	case "named":
		return store.Run(a.fn).Named("job")
	case "cancelNamed":
		return store.CancelTask[action]("job")
	}
	return store.None[action]()
}

func newStore(t *testing.T) *store.Store[counterState, action, struct{}] {
	t.Helper()
	s := store.New(context.Background(), counterState{}, reduce, struct{}{})
	t.Cleanup(s.Close)
	return s
}

// TestStore_ImmediateCascadeDrainsBeforeSendReturns verifies that a chain of
// reducer-triggered actions is fully applied by the time Send returns.
func TestStore_ImmediateCascadeDrainsBeforeSendReturns(t *testing.T) {
	s := newStore(t)

	task := s.Send(action{kind: "cascade", n: 1000})

	got := s.State().Log
	if len(got) != 1001 {
		t.Fatalf("expected 1001 cascaded actions applied, got %d", len(got))
	}
	if got[0] != 1000 || got[1000] != 0 {
		t.Fatalf("unexpected cascade order: first=%d last=%d", got[0], got[1000])
	}
	if task.Len() != 0 {
		t.Fatalf("expected no async units, got %d", task.Len())
	}
	select {
	case <-task.Done():
	default:
		t.Fatal("expected empty task to be done")
	}
}

func TestStore_MergeKeepsOrder(t *testing.T) {
	s := newStore(t)
	s.Send(action{kind: "fanout"})

	if got := s.State().Log; !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("expected [1 2 3], got %v", got)
	}
}

func TestStore_RunEffectFoldsActions(t *testing.T) {
	g := NewWithT(t)
	s := newStore(t)

	task := s.Send(action{kind: "run", fn: func(ctx context.Context, emit store.Emit[action]) error {
		for i := 0; i < 3; i++ {
			emit(inc(1))
		}
		return nil
	}})
	g.Expect(task.Len()).To(Equal(1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g.Expect(task.Wait(ctx)).To(Succeed())
	g.Expect(s.State().Count).To(Equal(3))
	g.Eventually(s.Running).Should(BeZero())
}

// TestStore_CancelPreventsFurtherActions verifies that once a task handle is
// cancelled, actions its units emit are no longer folded into state.
func TestStore_CancelPreventsFurtherActions(t *testing.T) {
	g := NewWithT(t)
	s := newStore(t)

	release := make(chan struct{})
	task := s.Send(action{kind: "run", fn: func(ctx context.Context, emit store.Emit[action]) error {
		emit(inc(1))
		<-release
		emit(inc(100))
		return nil
	}})

	g.Eventually(func() int { return s.State().Count }).Should(Equal(1))

	task.Cancel()
	task.Cancel()
	close(release)

	g.Eventually(task.Done()).Should(BeClosed())
	g.Consistently(func() int { return s.State().Count }, 100*time.Millisecond).Should(Equal(1))
}

func TestStore_CancelCascadesToChildTasks(t *testing.T) {
	g := NewWithT(t)
	s := newStore(t)

	childCancelled := make(chan struct{})
	child := func(ctx context.Context, _ store.Emit[action]) error {
		<-ctx.Done()
		close(childCancelled)
		return ctx.Err()
	}

	parentStarted := make(chan struct{})
	task := s.Send(action{kind: "run", fn: func(ctx context.Context, emit store.Emit[action]) error {
		emit(action{kind: "run", fn: child})
		close(parentStarted)
		<-ctx.Done()
		return ctx.Err()
	}})

	g.Eventually(parentStarted).Should(BeClosed())
	g.Expect(s.Running()).To(Equal(2))

	task.Cancel()
	g.Eventually(childCancelled).Should(BeClosed())
	g.Eventually(s.Running).Should(BeZero())
}

func TestStore_ChildOutlivesParentThatSettledNormally(t *testing.T) {
	g := NewWithT(t)
	s := newStore(t)

	release := make(chan struct{})
	child := func(ctx context.Context, emit store.Emit[action]) error {
		select {
		case <-release:
			emit(inc(1))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	task := s.Send(action{kind: "run", fn: func(_ context.Context, emit store.Emit[action]) error {
		emit(action{kind: "run", fn: child})
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g.Expect(task.Wait(ctx)).To(Succeed())
	g.Expect(s.Running()).To(Equal(1))

	close(release)
	g.Eventually(func() int { return s.State().Count }).Should(Equal(1))
}

func TestStore_FailureHandling(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(ctx context.Context, emit store.Emit[action]) error
		cancel   bool
		wantLogs []int
	}{
		{
			name:     "error routed to catch",
			fn:       func(context.Context, store.Emit[action]) error { return errors.New("boom") },
			wantLogs: []int{-1},
		},
		{
			name:     "panic routed to catch",
			fn:       func(context.Context, store.Emit[action]) error { panic("boom") },
			wantLogs: []int{-1},
		},
		{
			name:     "success skips catch",
			fn:       func(context.Context, store.Emit[action]) error { return nil },
			wantLogs: nil,
		},
		{
			name: "cancellation is not a failure",
			fn: func(ctx context.Context, _ store.Emit[action]) error {
				<-ctx.Done()
				return ctx.Err()
			},
			cancel:   true,
			wantLogs: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := NewWithT(t)
			s := newStore(t)

			task := s.Send(action{kind: "runCatch", fn: tc.fn})
			if tc.cancel {
				task.Cancel()
			}
			g.Eventually(task.Done()).Should(BeClosed())
			g.Eventually(s.Running).Should(BeZero())
			g.Expect(s.State().Log).To(Equal(tc.wantLogs))
		})
	}
}

func TestStore_NamedTaskReplacesPrevious(t *testing.T) {
	g := NewWithT(t)
	s := newStore(t)

	firstCancelled := make(chan struct{})
	first := s.Send(action{kind: "named", fn: func(ctx context.Context, _ store.Emit[action]) error {
		<-ctx.Done()
		close(firstCancelled)
		return nil
	}})

	second := s.Send(action{kind: "named", fn: func(ctx context.Context, _ store.Emit[action]) error {
		<-ctx.Done()
		return nil
	}})

	g.Eventually(firstCancelled).Should(BeClosed())
	g.Eventually(first.Done()).Should(BeClosed())
	g.Consistently(second.Done(), 50*time.Millisecond).ShouldNot(BeClosed())

	s.Send(action{kind: "cancelNamed"})
	g.Eventually(second.Done()).Should(BeClosed())
}

func TestStore_ConcurrentSenders(t *testing.T) {
	s := newStore(t)

	const senders = 100
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Send(inc(1))
		}()
	}
	wg.Wait()

	if got := s.State().Count; got != senders {
		t.Fatalf("expected count=%d, got %d", senders, got)
	}
}

func TestStore_SendAndForgetPreservesOrder(t *testing.T) {
	g := NewWithT(t)
	s := newStore(t)

	want := make([]int, 200)
	for i := range want {
		want[i] = i
		s.SendAndForget(record(i))
	}

	g.Eventually(func() []int { return s.State().Log }, 2*time.Second).Should(Equal(want))
}

func TestStore_StatesStream(t *testing.T) {
	g := NewWithT(t)
	s := newStore(t)

	sub := s.Subscribe()
	s.Send(inc(2))
	s.Send(inc(3))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var counts []int
	for st := range sub.All(ctx) {
		counts = append(counts, st.Count)
		if len(counts) == 2 {
			break
		}
	}
	g.Expect(counts).To(Equal([]int{2, 5}))
}

// TestStore_PublishedStateIsIsolated verifies that a state read by a caller
// is not mutated by later drains.
func TestStore_PublishedStateIsIsolated(t *testing.T) {
	s := newStore(t)
	s.Send(record(1))
	snapshot := s.State()

	s.Send(record(2))
	if len(snapshot.Log) != 1 {
		t.Fatalf("expected earlier snapshot to keep 1 entry, got %v", snapshot.Log)
	}
}

func TestStore_CloseCancelsTasks(t *testing.T) {
	g := NewWithT(t)
	s := store.New(context.Background(), counterState{}, reduce, struct{}{})

	cancelled := make(chan struct{})
	s.Send(action{kind: "run", fn: func(ctx context.Context, _ store.Emit[action]) error {
		<-ctx.Done()
		close(cancelled)
		return nil
	}})

	s.Close()
	s.Close()
	g.Expect(cancelled).To(BeClosed())

	task := s.Send(inc(1))
	g.Expect(task.Len()).To(BeZero())
	g.Expect(s.State().Count).To(BeZero())
}

func closedStore(logger *zap.Logger) *store.Store[counterState, action, struct{}] {
	s := store.New(context.Background(), counterState{}, reduce, struct{}{}, store.WithLogger(logger))
	s.Close()
	return s
}

func TestStore_SendAfterCloseReportsMisuse(t *testing.T) {
	g := NewWithT(t)
	core, logs := observer.New(zapcore.DebugLevel)
	s := closedStore(zap.New(core))

	task := s.Send(inc(1))
	g.Expect(task.Len()).To(BeZero())

	s.SendAndForget(inc(2))

	misuse := logs.FilterLevelExact(zapcore.DPanicLevel).FilterMessage("send on closed store").All()
	g.Expect(misuse).To(HaveLen(2))
	for _, entry := range misuse {
		g.Expect(entry.ContextMap()).To(HaveKeyWithValue("error", domain.ErrStoreClosed.Error()))
	}
	g.Expect(s.State().Count).To(BeZero())
}

func TestStore_SendAfterClosePanicsInDevelopment(t *testing.T) {
	g := NewWithT(t)
	core, _ := observer.New(zapcore.DebugLevel)
	s := closedStore(zap.New(core, zap.Development()))

	g.Expect(func() { s.Send(inc(1)) }).To(Panic())
	g.Expect(func() { s.SendAndForget(inc(1)) }).To(Panic())
}

func TestStore_TrySendAfterClose(t *testing.T) {
	g := NewWithT(t)
	core, logs := observer.New(zapcore.DebugLevel)
	s := closedStore(zap.New(core, zap.Development()))

	task, err := s.TrySend(inc(1))
	g.Expect(err).To(MatchError(domain.ErrStoreClosed))
	g.Expect(task).To(BeNil())
	g.Expect(s.TrySendAndForget(inc(1))).To(MatchError(domain.ErrStoreClosed))
	g.Expect(logs.Len()).To(BeZero())
}

func TestStore_TrySendRacingClose(t *testing.T) {
	g := NewWithT(t)
	core, _ := observer.New(zapcore.DebugLevel)
	s := store.New(context.Background(), counterState{}, reduce, struct{}{}, store.WithLogger(zap.New(core, zap.Development())))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := s.TrySend(inc(1)); err != nil {
					g.Expect(err).To(MatchError(domain.ErrStoreClosed))
					return
				}
			}
		}()
	}
	s.Close()
	wg.Wait()
}
