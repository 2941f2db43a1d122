package worker

import (
	"context"
	"iter"

	"github.com/notifyhub/actionqueue/internal/queue"
)

// StateGauge receives queue occupancy snapshots.
type StateGauge func(enqueued, executing int, started bool)

// StateReporter forwards every published queue state to a gauge.
type StateReporter[I, P any] struct {
	states func(ctx context.Context) iter.Seq[queue.State[I, P]]
	gauge  StateGauge
}

func NewStateReporter[I, P any](states func(ctx context.Context) iter.Seq[queue.State[I, P]], gauge StateGauge) *StateReporter[I, P] {
	return &StateReporter[I, P]{states: states, gauge: gauge}
}

// Run blocks until ctx is cancelled or the queue closes.
func (r *StateReporter[I, P]) Run(ctx context.Context) {
	for st := range r.states(ctx) {
		r.gauge(st.Enqueued(), st.Executing(), st.IsStarted)
	}
}
