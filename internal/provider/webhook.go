package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/notifyhub/actionqueue/internal/domain"
)

// WebhookProvider delivers jobs by POSTing them to the job's target URL.
// 5xx responses and transport errors are retried with exponential backoff;
// 4xx responses fail immediately.
type WebhookProvider struct {
	httpClient *http.Client
	maxTries   uint
	backoff    func() backoff.BackOff
}

// WebhookOption customizes a WebhookProvider.
type WebhookOption func(*WebhookProvider)

// WithBackOff replaces the exponential retry schedule. Tests use it to avoid
// sleeping.
func WithBackOff(fn func() backoff.BackOff) WebhookOption {
	return func(p *WebhookProvider) { p.backoff = fn }
}

func NewWebhookProvider(timeout time.Duration, maxTries uint, opts ...WebhookOption) *WebhookProvider {
	if maxTries == 0 {
		maxTries = 1
	}
	p := &WebhookProvider{
		httpClient: &http.Client{Timeout: timeout},
		maxTries:   maxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute posts the job until the target accepts it or the attempts run out.
// One progress report is published per attempt.
func (p *WebhookProvider) Execute(ctx context.Context, id string, job domain.Job, report func(domain.Progress)) error {
	attempt := 0
	operation := func() (*DeliveryResponse, error) {
		attempt++
		report(domain.Progress{
			Attempt: attempt,
			Percent: 0,
			Message: fmt.Sprintf("delivering to %s", job.Target),
		})
		return p.deliver(ctx, id, job, attempt)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backoff()),
		backoff.WithMaxTries(p.maxTries),
	)
	if err != nil {
		return fmt.Errorf("deliver job after %d attempt(s): %w", attempt, err)
	}

	msg := "delivered"
	if resp.MessageID != "" {
		msg = "delivered as " + resp.MessageID
	}
	report(domain.Progress{Attempt: attempt, Percent: 100, Message: msg})
	return nil
}

func (p *WebhookProvider) deliver(ctx context.Context, id string, job domain.Job, attempt int) (*DeliveryResponse, error) {
	var payload any
	if len(job.Payload) > 0 {
		payload = job.Payload
	}
	body, err := json.Marshal(DeliveryRequest{ID: id, Name: job.Name, Attempt: attempt, Payload: payload})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Target, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", id)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("unexpected target status: %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, backoff.Permanent(fmt.Errorf("unexpected target status: %d", resp.StatusCode))
	}

	var ack DeliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil && !errors.Is(err, io.EOF) {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &ack, nil
}

// compile-time check that WebhookProvider implements Executor
var _ Executor = (*WebhookProvider)(nil)
