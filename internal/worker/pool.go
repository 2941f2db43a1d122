package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner is a background loop that returns once ctx is cancelled or its
// input ends.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context)

func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

// Pool manages the lifecycle of the background observers attached to the
// queue.
type Pool struct {
	runners map[string]Runner
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewPool(logger *zap.Logger) *Pool {
	return &Pool{runners: make(map[string]Runner), logger: logger}
}

// Add registers r under name. It must be called before Start.
func (p *Pool) Add(name string, r Runner) {
	p.runners[name] = r
}

// Start launches every runner as a goroutine.
// The provided ctx is forwarded to every runner; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for name, r := range p.runners {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.logger.Info("worker started", zap.String("worker", name))
			r.Run(ctx)
			p.logger.Info("worker stopped", zap.String("worker", name))
		}()
	}
}

// Wait blocks until every runner has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
