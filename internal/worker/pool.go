package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Job - единица работы пула. Получает контекст вызывающего.
type Job func(ctx context.Context)

// Pool runs independent jobs (batch task updates) on a fixed set of workers.
type Pool struct {
	logger *zap.Logger
	count  int
	jobs   chan task
	wg     sync.WaitGroup
	stop   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

type task struct {
	ctx  context.Context
	job  Job
	done func()
}

func NewPool(logger *zap.Logger, count int) *Pool {
	if count <= 0 {
		count = 1
	}
	return &Pool{
		logger: logger,
		count:  count,
		jobs:   make(chan task),
		stop:   make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.logger.Info("Starting worker pool", zap.Int("workers", p.count))
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	// Остановка пула вместе с контекстом приложения
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.stop:
		}
	}()
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stop)
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool...")
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case t := <-p.jobs:
			p.run(t, id)
		}
	}
}

func (p *Pool) run(t task, workerID int) {
	defer t.done()
	defer func() {
		if r := recover(); r != nil && p != nil {
			p.logger.Error("job panicked", zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()
	t.job(t.ctx)
}

// Do runs every job exactly once and returns when all of them have finished.
// Jobs that cannot be handed to a worker (pool stopped, ctx done) run inline
// so that each job observes the caller's ctx itself.
func (p *Pool) Do(ctx context.Context, jobs []Job) {
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		t := task{ctx: ctx, job: job, done: wg.Done}

		if p == nil || !p.running() {
			p.run(t, -1)
			continue
		}
		select {
		case p.jobs <- t:
		case <-p.stop:
			p.run(t, -1)
		case <-ctx.Done():
			p.run(t, -1)
		}
	}
	wg.Wait()
}

func (p *Pool) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.stopped
}
