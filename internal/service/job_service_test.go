package service_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/repository"
	"github.com/notifyhub/actionqueue/internal/service"
	"github.com/notifyhub/actionqueue/internal/worker"
)

type executorFunc func(ctx context.Context, id string, job domain.Job, report func(domain.Progress)) error

func (f executorFunc) Execute(ctx context.Context, id string, job domain.Job, report func(domain.Progress)) error {
	return f(ctx, id, job, report)
}

func newService(t *testing.T, exec executorFunc) (*service.JobService, *repository.MockExecutionRepository) {
	t.Helper()
	repo := repository.NewMockExecutionRepository()
	svc, err := service.NewJobService(context.Background(), exec, repo, service.Options{ConcurrencyLimit: 2}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, repo
}

func succeed(_ context.Context, _ string, _ domain.Job, report func(domain.Progress)) error {
	report(domain.Progress{Attempt: 1, Percent: 50, Message: "halfway"})
	return nil
}

var validJob = domain.Job{Name: "nightly-report"}

func TestJobService_Submit_InvalidJob(t *testing.T) {
	svc, _ := newService(t, succeed)

	_, err := svc.Submit(domain.Job{})
	if !errors.Is(err, domain.ErrInvalidJobName) {
		t.Fatalf("expected ErrInvalidJobName, got %v", err)
	}
}

func TestJobService_Submit_WaitsForStart(t *testing.T) {
	g := NewWithT(t)
	svc, _ := newService(t, succeed)

	id, err := svc.Submit(validJob)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(id).NotTo(BeEmpty())

	g.Eventually(func() int { return svc.Snapshot().Enqueued }).Should(Equal(1))
	snap := svc.Snapshot()
	g.Expect(snap.Started).To(BeFalse())
	g.Expect(snap.Jobs).To(HaveLen(1))
	g.Expect(snap.Jobs[0].ID).To(Equal(id))
	g.Expect(snap.Jobs[0].Status).To(Equal("enqueued"))
}

func TestJobService_ProgressEndsWithOutcome(t *testing.T) {
	g := NewWithT(t)
	svc, _ := newService(t, succeed)

	id, err := svc.Submit(validJob)
	g.Expect(err).NotTo(HaveOccurred())
	seq, err := svc.Progress(context.Background(), id)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(svc.Start()).To(Succeed())

	got := slices.Collect(seq)
	g.Expect(got).To(HaveLen(2))
	g.Expect(got[0].Message).To(Equal("halfway"))
	g.Expect(got[1].Outcome).To(Equal(domain.OutcomeSucceeded))
	g.Expect(got[1].Percent).To(Equal(100))
	g.Expect(got[1].Attempt).To(Equal(1))
}

func TestJobService_FailedJobReportsError(t *testing.T) {
	g := NewWithT(t)
	svc, _ := newService(t, func(context.Context, string, domain.Job, func(domain.Progress)) error {
		return errors.New("target unreachable")
	})

	id, err := svc.Submit(validJob)
	g.Expect(err).NotTo(HaveOccurred())
	seq, err := svc.Progress(context.Background(), id)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(svc.Start()).To(Succeed())

	got := slices.Collect(seq)
	g.Expect(got).To(HaveLen(1))
	g.Expect(got[0].Outcome).To(Equal(domain.OutcomeFailed))
	g.Expect(got[0].Message).To(Equal("target unreachable"))
}

func TestJobService_CancelRunningJob(t *testing.T) {
	g := NewWithT(t)
	started := make(chan struct{})
	svc, _ := newService(t, func(ctx context.Context, _ string, _ domain.Job, _ func(domain.Progress)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	id, err := svc.Submit(validJob)
	g.Expect(err).NotTo(HaveOccurred())
	seq, err := svc.Progress(context.Background(), id)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(svc.Start()).To(Succeed())

	<-started
	g.Expect(svc.Cancel(id)).To(Succeed())

	got := slices.Collect(seq)
	g.Expect(got).To(HaveLen(1))
	g.Expect(got[0].Outcome).To(Equal(domain.OutcomeCancelled))
}

func TestJobService_CancelBeforeStart(t *testing.T) {
	g := NewWithT(t)
	svc, _ := newService(t, func(ctx context.Context, _ string, _ domain.Job, _ func(domain.Progress)) error {
		return ctx.Err()
	})

	id, err := svc.Submit(validJob)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(svc.Cancel(id)).To(Succeed())
	g.Expect(svc.Start()).To(Succeed())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Expect(svc.Wait(ctx, id)).To(Succeed())
}

func TestJobService_UnknownJob(t *testing.T) {
	svc, _ := newService(t, succeed)

	for _, id := range []string{"not-a-uuid", "0f8fad5b-d9cb-469f-a165-70867728950e"} {
		if err := svc.Cancel(id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Cancel(%q): expected ErrNotFound, got %v", id, err)
		}
		if _, err := svc.Progress(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Progress(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestJobService_FinishedJobsAreReaped(t *testing.T) {
	g := NewWithT(t)
	svc, _ := newService(t, succeed)

	id, err := svc.Submit(validJob)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(svc.Start()).To(Succeed())

	g.Eventually(func() error { return svc.Cancel(id) }).Should(MatchError(domain.ErrNotFound))
	g.Eventually(func() int { return len(svc.Snapshot().Jobs) }).Should(BeZero())
}

func TestJobService_StartStopAreIdempotent(t *testing.T) {
	g := NewWithT(t)
	svc, _ := newService(t, succeed)

	g.Expect(svc.Start()).To(Succeed())
	g.Expect(svc.Start()).To(Succeed())
	g.Expect(svc.Snapshot().Started).To(BeTrue())

	svc.Stop()
	svc.Stop()
	g.Expect(svc.Snapshot().Started).To(BeFalse())
}

func TestJobService_Executions(t *testing.T) {
	g := NewWithT(t)
	svc, repo := newService(t, succeed)
	ctx := context.Background()

	g.Expect(repo.Record(ctx, &domain.Execution{ID: "a", Name: "one", Outcome: domain.OutcomeSucceeded})).To(Succeed())
	g.Expect(repo.Record(ctx, &domain.Execution{ID: "b", Name: "two", Outcome: domain.OutcomeFailed})).To(Succeed())

	failed := domain.OutcomeFailed
	list, total, err := svc.Executions(ctx, domain.ListFilter{Outcome: &failed})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(total).To(Equal(1))
	g.Expect(list[0].ID).To(Equal("b"))

	bogus := domain.Outcome("exploded")
	_, _, err = svc.Executions(ctx, domain.ListFilter{Outcome: &bogus})
	g.Expect(err).To(MatchError(domain.ErrInvalidOutcome))

	got, err := svc.Execution(ctx, "a")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got.Name).To(Equal("one"))
}

// TestJobService_CloseJournalsRunningJobs verifies a job still running at
// shutdown is recorded as cancelled with the start time the queue assigned.
func TestJobService_CloseJournalsRunningJobs(t *testing.T) {
	g := NewWithT(t)
	svc, repo := newService(t, func(ctx context.Context, _ string, _ domain.Job, report func(domain.Progress)) error {
		report(domain.Progress{Attempt: 1, Percent: 10, Message: "sending"})
		<-ctx.Done()
		return ctx.Err()
	})

	jw := worker.NewJournalWorker(svc.Queue().SubscribeEvents(), svc.Lookup, repo, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		jw.Run(context.Background())
	}()

	id, err := svc.Submit(validJob)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(svc.Start()).To(Succeed())

	g.Eventually(func() *time.Time {
		for _, j := range svc.Snapshot().Jobs {
			if j.ID == id && j.Progress != nil {
				return j.StartedAt
			}
		}
		return nil
	}).ShouldNot(BeNil())
	startedAt := *svc.Snapshot().Jobs[0].StartedAt

	svc.Close()
	g.Eventually(done).Should(BeClosed())

	got, err := repo.GetByID(context.Background(), id)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got.Name).To(Equal(validJob.Name))
	g.Expect(got.Outcome).To(Equal(domain.OutcomeCancelled))
	g.Expect(got.StartedAt).To(Equal(startedAt))
}
