package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-service/internal/observability"
	"go.uber.org/zap"
)

const defaultKeepAlive = 60 * time.Second

// Task is a unit of work. ctx is cancelled when a shutdown deadline is exceeded.
type Task func(ctx context.Context)

// Mode tells the submitter how its task was accepted.
type Mode int

const (
	ModeQueued Mode = iota
	ModeSpawned
	ModeCallerRuns
)

func (m Mode) String() string {
	switch m {
	case ModeQueued:
		return "queued"
	case ModeSpawned:
		return "spawned"
	case ModeCallerRuns:
		return "caller_runs"
	default:
		return "unknown"
	}
}

type Config struct {
	CoreSize      int
	MaxSize       int
	QueueCapacity int
	KeepAlive     time.Duration
}

// Pool runs tasks on CoreSize long-lived workers fed by a bounded queue. When the queue is
// full it grows up to MaxSize workers; extra workers exit after KeepAlive of idleness.
// When both the queue and the workers are saturated, Submit runs the task on the calling
// goroutine, so work is never dropped.
type Pool struct {
	cfg     Config
	tasks   chan Task
	logger  *zap.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers int
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func New(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.CoreSize < 1 {
		return nil, fmt.Errorf("core size must be at least 1")
	}
	if cfg.MaxSize < cfg.CoreSize {
		return nil, fmt.Errorf("max size %d is below core size %d", cfg.MaxSize, cfg.CoreSize)
	}
	if cfg.QueueCapacity < 0 {
		return nil, fmt.Errorf("queue capacity must not be negative")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		tasks:  make(chan Task, cfg.QueueCapacity),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (p *Pool) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Start launches the core workers. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.CoreSize; i++ {
		p.spawnLocked(nil, true)
	}
	p.logger.Info("worker pool started",
		zap.Int("coreSize", p.cfg.CoreSize),
		zap.Int("maxSize", p.cfg.MaxSize),
		zap.Int("queueCapacity", p.cfg.QueueCapacity),
	)
}

func (p *Pool) Submit(task Task) Mode {
	mode := p.submit(task)
	p.metrics.IncPoolSubmission(mode.String())
	return mode
}

func (p *Pool) submit(task Task) Mode {
	p.mu.Lock()
	if !p.closed {
		select {
		case p.tasks <- task:
			p.mu.Unlock()
			return ModeQueued
		default:
		}

		if p.workers < p.cfg.MaxSize {
			p.spawnLocked(task, false)
			p.mu.Unlock()
			return ModeSpawned
		}
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		// The base context is cancelled once shutdown completes; late tasks still get to finish.
		p.logger.Warn("worker pool closed, running task on caller")
		p.run(context.WithoutCancel(p.ctx), task)
		return ModeCallerRuns
	}

	p.logger.Warn("worker pool saturated, running task on caller",
		zap.Int("workers", p.cfg.MaxSize),
		zap.Int("queueCapacity", p.cfg.QueueCapacity),
	)
	p.run(p.ctx, task)
	return ModeCallerRuns
}

// Workers reports the number of live worker goroutines.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Shutdown stops accepting queued work, drains the queue and waits for running tasks.
// If ctx expires first, running tasks see their context cancelled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) spawnLocked(first Task, core bool) {
	p.workers++
	p.wg.Add(1)
	go p.worker(first, core)
}

func (p *Pool) worker(first Task, core bool) {
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
		p.wg.Done()
	}()

	if first != nil {
		p.run(p.ctx, first)
	}

	if core {
		for task := range p.tasks {
			p.run(p.ctx, task)
		}
		return
	}

	idle := time.NewTimer(p.cfg.KeepAlive)
	defer idle.Stop()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(p.ctx, task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.KeepAlive)
		case <-idle.C:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, task Task) {
	if task == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker pool task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}
