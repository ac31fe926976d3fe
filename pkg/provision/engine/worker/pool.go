// Package worker drains the operation queue with a fixed pool of goroutines.
// Serialization per account is the batch manager's invariant, so workers can
// claim freely without coordinating with each other.
package worker

import (
	"context"
	"sync"
	"time"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/engine/batch"
	"accord/pkg/provision/engine/executor"
	"accord/pkg/provision/support/util/logger"
)

// Pool runs N workers against the batch manager's queue.
type Pool struct {
	manager  *batch.Manager
	registry *executor.Registry
	workers  int
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool from the provisioning configuration.
func NewPool(manager *batch.Manager, registry *executor.Registry, cfg *config.ProvisioningConfig) *Pool {
	return &Pool{
		manager:  manager,
		registry: registry,
		workers:  cfg.Workers,
		interval: cfg.PollInterval(),
	}
}

// Start launches the workers. They run until Stop.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	logger.Infof("Worker pool started with %d workers, poll interval %s", p.workers, p.interval)
}

// Stop halts claiming and waits for in-flight operations to settle.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	logger.Infof("Worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if !p.drain(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.manager.Wake():
		case <-ticker.C:
		}
	}
}

// drain claims and executes until the queue yields nothing runnable. Returns
// false when the context ended.
func (p *Pool) drain(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		op, err := p.manager.NextRunnable(ctx)
		if err != nil {
			logger.Errorf("Worker failed to claim an operation: %v", err)
			return true
		}
		if op == nil {
			return true
		}

		exec := p.registry.Resolve(op.EntityType)
		execErr := exec.Execute(ctx, op)
		if err := p.manager.Complete(ctx, op, execErr); err != nil {
			logger.Errorf("Worker failed to settle operation %s: %v", op.ID, err)
		}
	}
}
