package workers

import (
	"context"
	"sync"
	"time"

	"vulture/internal/metrics"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

// Pool manages and coordinates the monitoring workers
type Pool struct {
	workers []Worker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	log     *logger.Logger
	started bool
}

// NewPool creates a new worker pool
func NewPool() *Pool {
	return &Pool{
		workers: make([]Worker, 0),
		log:     logger.Get(),
	}
}

// Register adds a worker to the pool
func (p *Pool) Register(w Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		p.log.Warnw("Cannot register worker after pool has started", "worker", w.Name())
		return
	}

	p.workers = append(p.workers, w)
	p.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start begins running all registered workers
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "worker pool already started")
	}

	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.log.Infow("Starting worker pool", "workers", len(p.workers))

	for _, worker := range p.workers {
		if !worker.Enabled() {
			p.log.Infow("Skipping disabled worker", "worker", worker.Name())
			continue
		}

		p.wg.Add(1)
		go p.runWorker(worker)
	}

	return nil
}

// Stop gracefully shuts down all workers
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "worker pool not started")
	}
	p.cancel()
	p.mu.Unlock()

	p.log.Info("Stopping worker pool...")

	// A full-protocol scan can take a while on large deployments;
	// give workers time to finish the current iteration.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		p.log.Info("All workers stopped gracefully")
	case <-time.After(30 * time.Second):
		p.log.Warn("Worker shutdown timed out after 30 seconds")
		shutdownErr = errors.Wrapf(errors.ErrInternal, "shutdown timeout after 30 seconds")
	}

	p.mu.Lock()
	p.started = false
	p.mu.Unlock()

	return shutdownErr
}

// runWorker executes a single worker in a loop
func (p *Pool) runWorker(worker Worker) {
	defer p.wg.Done()

	p.log.Infow("Worker started", "worker", worker.Name())

	ticker := time.NewTicker(worker.Interval())
	defer ticker.Stop()

	// Run immediately on start
	p.executeWorker(worker)

	for {
		select {
		case <-p.ctx.Done():
			p.log.Infow("Worker stopping", "worker", worker.Name())
			return

		case <-ticker.C:
			p.executeWorker(worker)
		}
	}
}

// executeWorker runs a single iteration with panic recovery
func (p *Pool) executeWorker(worker Worker) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("Worker panicked",
				"worker", worker.Name(),
				"panic", r,
			)
		}
	}()

	err := worker.Run(p.ctx)
	duration := time.Since(start)
	metrics.RecordWorkerExecution(worker.Name(), duration, err)

	if hw, ok := worker.(interface {
		RecordRun(time.Duration)
		RecordError(error, time.Duration)
	}); ok {
		if err != nil {
			hw.RecordError(err, duration)
		} else {
			hw.RecordRun(duration)
		}
	}

	if err != nil {
		p.log.Errorw("Worker execution failed",
			"worker", worker.Name(),
			"error", err,
			"duration", duration,
		)
	} else {
		p.log.Debugw("Worker execution completed",
			"worker", worker.Name(),
			"duration", duration,
		)
	}
}

// Workers returns all registered workers
func (p *Pool) Workers() []Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workers := make([]Worker, len(p.workers))
	copy(workers, p.workers)
	return workers
}

// IsRunning returns whether the pool is currently running
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}
