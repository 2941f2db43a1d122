package provider

import (
	"context"

	"github.com/notifyhub/actionqueue/internal/domain"
)

// DeliveryRequest is the JSON body posted to a job's webhook target.
type DeliveryRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Attempt int    `json:"attempt"`
	Payload any    `json:"payload,omitempty"`
}

// DeliveryResponse maps the target's optional JSON acknowledgement.
type DeliveryResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Executor runs one job to completion, calling report as it makes progress.
// Mocking this interface in tests gives full control over execution without
// making real HTTP calls.
type Executor interface {
	Execute(ctx context.Context, id string, job domain.Job, report func(domain.Progress)) error
}

// Router sends jobs with a target to the webhook executor and every other job
// to the fallback.
type Router struct {
	Webhook  Executor
	Fallback Executor
}

func (r Router) Execute(ctx context.Context, id string, job domain.Job, report func(domain.Progress)) error {
	if job.Target != "" && r.Webhook != nil {
		return r.Webhook.Execute(ctx, id, job, report)
	}
	return r.Fallback.Execute(ctx, id, job, report)
}

var _ Executor = Router{}
