package service

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/provider"
	"github.com/notifyhub/actionqueue/internal/queue"
	"github.com/notifyhub/actionqueue/internal/repository"
	"github.com/notifyhub/actionqueue/internal/stream"
)

// JobQueue is the queue instantiation served by the job service.
type JobQueue = queue.Queue[domain.Job, domain.Progress]

// JobHandle is the per-job handle returned by the queue.
type JobHandle = queue.ItemHandle[domain.Progress]

// Options tunes the queue owned by a JobService.
type Options struct {
	ConcurrencyLimit int
	Limiter          queue.Limiter
	Hooks            queue.MetricHooks
}

// JobService coordinates the queue, the executor and the execution journal.
// HTTP handlers depend on this service, never on the queue directly.
type JobService struct {
	q      *JobQueue
	exec   provider.Executor
	repo   repository.ExecutionRepository
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[queue.ID]*trackedJob
	run  *queue.Run
}

// trackedJob links a handle to the context its execution runs under.
type trackedJob struct {
	handle *JobHandle
	ctx    context.Context
	cancel context.CancelFunc
}

// JobSummary is the public view of one queued job.
type JobSummary struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Target     string           `json:"target,omitempty"`
	Status     string           `json:"status"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	Progress   *domain.Progress `json:"progress,omitempty"`
}

// QueueSnapshot is the public view of the scheduling state.
type QueueSnapshot struct {
	Started          bool         `json:"started"`
	ConcurrencyLimit int          `json:"concurrency_limit"`
	Enqueued         int          `json:"enqueued"`
	Executing        int          `json:"executing"`
	Jobs             []JobSummary `json:"jobs"`
}

func NewJobService(
	ctx context.Context,
	exec provider.Executor,
	repo repository.ExecutionRepository,
	opts Options,
	logger *zap.Logger,
) (*JobService, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &JobService{
		exec:   exec,
		repo:   repo,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[queue.ID]*trackedJob),
	}

	q, err := queue.New(ctx, queue.Options[domain.Job, domain.Progress]{
		ConcurrencyLimit: opts.ConcurrencyLimit,
		Execute:          s.execute,
		HandleFactory:    s.newHandle,
		Limiter:          opts.Limiter,
		Hooks:            opts.Hooks,
		Logger:           logger.Named("queue"),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.q = q
	go s.reap(q.SubscribeEvents())
	return s, nil
}

// Queue exposes the underlying queue to background workers.
func (s *JobService) Queue() *JobQueue {
	return s.q
}

// Submit validates job and hands it to the queue. It returns the job id as
// soon as the job is accepted; execution happens once the queue is started
// and a slot frees up.
func (s *JobService) Submit(job domain.Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	h, err := s.q.Add(job)
	if err != nil {
		return "", err
	}
	s.logger.Debug("job submitted", zap.String("job_id", h.ID().String()), zap.String("name", job.Name))
	return h.ID().String(), nil
}

// Cancel cancels a job that has not finished yet. A job cancelled before it
// starts still takes its turn in the queue and finishes immediately.
func (s *JobService) Cancel(id string) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.handle.Cancel()
	return nil
}

// Progress streams the progress of a job that has not finished yet.
func (s *JobService) Progress(ctx context.Context, id string) (iter.Seq[domain.Progress], error) {
	t, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.handle.Progress(ctx), nil
}

// Wait blocks until the job has finished.
func (s *JobService) Wait(ctx context.Context, id string) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	return t.handle.Wait(ctx)
}

// Start starts the queue. Starting a started queue is a no-op.
func (s *JobService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return nil
	}
	run, err := s.q.Start()
	if err != nil {
		return err
	}
	s.run = run
	return nil
}

// Stop stops the queue from starting further jobs.
func (s *JobService) Stop() {
	s.mu.Lock()
	run := s.run
	s.run = nil
	s.mu.Unlock()
	if run != nil {
		run.Cancel()
	}
}

// Snapshot returns the current scheduling state.
func (s *JobService) Snapshot() QueueSnapshot {
	st := s.q.State()
	snap := QueueSnapshot{
		Started:          st.IsStarted,
		ConcurrencyLimit: st.ConcurrencyLimit,
		Enqueued:         st.Enqueued(),
		Executing:        st.Executing(),
		Jobs:             make([]JobSummary, 0, len(st.Items)),
	}
	for _, e := range st.Items {
		js := JobSummary{
			ID:         e.ID.String(),
			Name:       e.Item.Name,
			Target:     e.Item.Target,
			Status:     e.Status.String(),
			EnqueuedAt: e.EnqueuedAt,
		}
		if e.Status == queue.StatusExecuting {
			started := e.StartedAt
			js.StartedAt = &started
		}
		if e.Reports > 0 {
			p := e.Progress
			js.Progress = &p
		}
		snap.Jobs = append(snap.Jobs, js)
	}
	return snap
}

// Lookup returns the scheduling entry of the job queued under id. It serves
// the journal worker.
func (s *JobService) Lookup(id queue.ID) (queue.Entry[domain.Job, domain.Progress], bool) {
	return s.q.State().Lookup(id)
}

func (s *JobService) Execution(ctx context.Context, id string) (*domain.Execution, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) Executions(ctx context.Context, filter domain.ListFilter) ([]*domain.Execution, int, error) {
	if filter.Outcome != nil && !filter.Outcome.IsValid() {
		return nil, 0, domain.ErrInvalidOutcome
	}
	return s.repo.List(ctx, filter)
}

// Close cancels every job and shuts the queue down.
func (s *JobService) Close() {
	s.cancel()
	s.q.Close()
}

// ---- private helpers ----

// reap drops finished jobs from the handle registry until the queue closes.
func (s *JobService) reap(sub *stream.Subscription[queue.Event[domain.Progress]]) {
	for ev := range sub.All(s.ctx) {
		if !ev.Finished {
			continue
		}
		s.mu.Lock()
		t, ok := s.jobs[ev.ID]
		delete(s.jobs, ev.ID)
		s.mu.Unlock()
		if ok {
			t.cancel()
			t.handle.Release()
		}
	}
}

func (s *JobService) lookup(id string) (*trackedJob, error) {
	qid, err := queue.ParseID(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.jobs[qid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

// newHandle gives every job its own cancel context, so cancelling a handle
// reaches the executor whether the job is waiting or running.
func (s *JobService) newHandle(req queue.HandleRequest[domain.Job, domain.Progress]) (*JobHandle, bool) {
	if s.ctx.Err() != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	h := req.NewHandle(cancel)

	s.mu.Lock()
	s.jobs[req.ID] = &trackedJob{handle: h, ctx: ctx, cancel: cancel}
	s.mu.Unlock()
	return h, true
}

// execute runs job under both the queue's and the job's own context and
// closes the run with a progress report carrying its outcome.
func (s *JobService) execute(ctx context.Context, job domain.Job, id queue.ID, report func(domain.Progress)) error {
	s.mu.Lock()
	t, ok := s.jobs[id]
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobCtx := ctx
	if ok {
		jobCtx = t.ctx
		stop := context.AfterFunc(t.ctx, cancel)
		defer stop()
	}

	attempt := 0
	err := jobCtx.Err()
	if err == nil {
		err = s.exec.Execute(ctx, id.String(), job, func(p domain.Progress) {
			attempt = p.Attempt
			report(p)
		})
	}

	final := domain.Progress{Attempt: attempt, Percent: 100, Outcome: domain.OutcomeSucceeded}
	switch {
	case err == nil:
		final.Message = "completed"
	case jobCtx.Err() != nil || errors.Is(err, context.Canceled):
		final.Outcome = domain.OutcomeCancelled
		final.Message = "cancelled"
	default:
		final.Outcome = domain.OutcomeFailed
		final.Message = err.Error()
	}
	report(final)
	return err
}
