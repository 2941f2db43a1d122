package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/queue"
	"github.com/notifyhub/actionqueue/internal/repository"
	"github.com/notifyhub/actionqueue/internal/stream"
)

// JobEntry is a job's scheduling entry.
type JobEntry = queue.Entry[domain.Job, domain.Progress]

// JobLookup resolves an item id to its scheduling entry.
type JobLookup func(id queue.ID) (JobEntry, bool)

const (
	recordTimeout      = 5 * time.Second
	interruptedMessage = "interrupted by shutdown"
)

// JournalWorker records every finished job in the execution journal. It
// follows the same progress broadcast as per-job observers and keeps only
// what it needs to build the record.
//
// Every job run closes with a report carrying its outcome. A run that
// finishes without one was cut off by a queue shutdown and is recorded as
// cancelled.
type JournalWorker struct {
	events *stream.Subscription[queue.Event[domain.Progress]]
	lookup JobLookup
	repo   repository.ExecutionRepository
	logger *zap.Logger
	now    func() time.Time

	running map[queue.ID]*domain.Execution
}

// NewJournalWorker takes ownership of events; subscribe before any job is
// submitted so no run goes unrecorded.
func NewJournalWorker(
	events *stream.Subscription[queue.Event[domain.Progress]],
	lookup JobLookup,
	repo repository.ExecutionRepository,
	logger *zap.Logger,
) *JournalWorker {
	return &JournalWorker{
		events:  events,
		lookup:  lookup,
		repo:    repo,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		running: make(map[queue.ID]*domain.Execution),
	}
}

// Run consumes events until ctx is cancelled or the queue closes.
func (jw *JournalWorker) Run(ctx context.Context) {
	for ev := range jw.events.All(ctx) {
		e := jw.track(ev.ID)
		if !ev.Finished {
			jw.apply(e, ev.Payload)
			continue
		}
		delete(jw.running, ev.ID)
		jw.record(ctx, e)
	}
}

func (jw *JournalWorker) track(id queue.ID) *domain.Execution {
	if e, ok := jw.running[id]; ok {
		return e
	}
	e := &domain.Execution{ID: id.String()}
	if entry, ok := jw.lookup(id); ok {
		e.Name = entry.Item.Name
		e.Target = entry.Item.Target
		e.StartedAt = entry.StartedAt
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = jw.now()
	}
	jw.running[id] = e
	return e
}

func (jw *JournalWorker) apply(e *domain.Execution, p domain.Progress) {
	e.Reports++
	e.Attempts = max(e.Attempts, p.Attempt)
	if p.Message != "" {
		e.LastMessage = p.Message
	}
	if p.Outcome != "" {
		e.Outcome = p.Outcome
		if p.Outcome == domain.OutcomeFailed {
			msg := p.Message
			e.ErrorMessage = &msg
		}
	}
}

func (jw *JournalWorker) record(ctx context.Context, e *domain.Execution) {
	e.FinishedAt = jw.now()
	if e.Outcome == "" {
		e.Outcome = domain.OutcomeCancelled
		e.LastMessage = interruptedMessage
	}

	// Runs interrupted by shutdown arrive as ctx is being cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := jw.repo.Record(ctx, e); err != nil {
		jw.logger.Error("failed to record execution",
			zap.String("job_id", e.ID), zap.Error(err))
		return
	}
	jw.logger.Debug("execution recorded",
		zap.String("job_id", e.ID),
		zap.String("outcome", string(e.Outcome)),
		zap.Int("reports", e.Reports),
	)
}
