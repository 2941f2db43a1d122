package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/actionqueue/internal/domain"
)

// SimulatedProvider pretends to work through a job in a fixed number of
// timed steps. It backs jobs without a target and the bench command.
type SimulatedProvider struct {
	steps int
	delay time.Duration
}

func NewSimulatedProvider(steps int, delay time.Duration) *SimulatedProvider {
	if steps < 1 {
		steps = 1
	}
	return &SimulatedProvider{steps: steps, delay: delay}
}

func (p *SimulatedProvider) Execute(ctx context.Context, _ string, job domain.Job, report func(domain.Progress)) error {
	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	for step := 1; step <= p.steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		report(domain.Progress{
			Attempt: 1,
			Percent: step * 100 / p.steps,
			Message: fmt.Sprintf("%s: step %d/%d", job.Name, step, p.steps),
		})
		timer.Reset(p.delay)
	}
	return nil
}

var _ Executor = (*SimulatedProvider)(nil)
