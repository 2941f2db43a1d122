package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	. "github.com/onsi/gomega"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/provider"
)

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func collect(reports *[]domain.Progress) func(domain.Progress) {
	return func(p domain.Progress) { *reports = append(*reports, p) }
}

func TestWebhookProvider_Execute(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		maxTries     uint
		wantErr      bool
		wantAttempts int32
	}{
		{"accepted first time", []int{http.StatusAccepted}, 3, false, 1},
		{"retries server errors", []int{http.StatusBadGateway, http.StatusOK}, 3, false, 2},
		{"gives up after max tries", []int{http.StatusInternalServerError}, 3, true, 3},
		{"client errors are permanent", []int{http.StatusBadRequest}, 3, true, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := NewWithT(t)
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				if n >= len(tc.statuses) {
					n = len(tc.statuses) - 1
				}

				var body provider.DeliveryRequest
				g.Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				g.Expect(body.ID).To(Equal("job-1"))
				g.Expect(body.Attempt).To(Equal(int(calls.Load())))
				g.Expect(r.Header.Get("X-Job-ID")).To(Equal("job-1"))

				w.WriteHeader(tc.statuses[n])
				if tc.statuses[n] < 300 {
					_ = json.NewEncoder(w).Encode(provider.DeliveryResponse{MessageID: "msg-1", Status: "accepted"})
				}
			}))
			defer srv.Close()

			p := provider.NewWebhookProvider(time.Second, tc.maxTries, provider.WithBackOff(noWait))
			var reports []domain.Progress
			err := p.Execute(context.Background(), "job-1", domain.Job{Name: "n", Target: srv.URL}, collect(&reports))

			if tc.wantErr {
				g.Expect(err).To(HaveOccurred())
			} else {
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(reports[len(reports)-1].Percent).To(Equal(100))
				g.Expect(reports[len(reports)-1].Message).To(ContainSubstring("msg-1"))
			}
			g.Expect(calls.Load()).To(Equal(tc.wantAttempts))
			g.Expect(reports[0].Attempt).To(Equal(1))
		})
	}
}

func TestWebhookProvider_CancelledContext(t *testing.T) {
	g := NewWithT(t)
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	p := provider.NewWebhookProvider(5*time.Second, 5, provider.WithBackOff(noWait))

	done := make(chan error, 1)
	go func() {
		done <- p.Execute(ctx, "job-1", domain.Job{Name: "n", Target: srv.URL}, func(domain.Progress) {})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	var err error
	g.Eventually(done).Should(Receive(&err))
	g.Expect(err).To(MatchError(context.Canceled))
}

func TestSimulatedProvider_ReportsEveryStep(t *testing.T) {
	p := provider.NewSimulatedProvider(4, time.Millisecond)
	var reports []domain.Progress
	if err := p.Execute(context.Background(), "id", domain.Job{Name: "sim"}, collect(&reports)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 4 {
		t.Fatalf("expected 4 reports, got %d", len(reports))
	}
	if got := reports[3].Percent; got != 100 {
		t.Fatalf("expected final percent=100, got %d", got)
	}
}

func TestSimulatedProvider_StopsOnCancel(t *testing.T) {
	p := provider.NewSimulatedProvider(100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Execute(ctx, "id", domain.Job{Name: "sim"}, func(domain.Progress) {}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRouter(t *testing.T) {
	var webhook, fallback int
	r := provider.Router{
		Webhook:  executorFunc(func() { webhook++ }),
		Fallback: executorFunc(func() { fallback++ }),
	}
	ctx := context.Background()
	_ = r.Execute(ctx, "a", domain.Job{Name: "a", Target: "https://example.com"}, nil)
	_ = r.Execute(ctx, "b", domain.Job{Name: "b"}, nil)
	if webhook != 1 || fallback != 1 {
		t.Fatalf("expected one call each, got webhook=%d fallback=%d", webhook, fallback)
	}
}

type executorFunc func()

func (f executorFunc) Execute(context.Context, string, domain.Job, func(domain.Progress)) error {
	f()
	return nil
}
