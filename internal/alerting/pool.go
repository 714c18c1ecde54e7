package alerting

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
)

// ErrPoolStopped is returned by Submit after Stop
var ErrPoolStopped = errors.New("alert pool stopped")

// ErrPoolFull is returned by Submit when the queue has no room
var ErrPoolFull = errors.New("alert queue full")

// ProcessFunc handles the readings of one persisted message
type ProcessFunc func(ctx context.Context, readings []*domain.Reading)

type PoolConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Pool runs alerting work in the background with bounded memory. Submit
// never blocks the caller: when the queue is full the work is dropped.
type Pool struct {
	tasks   chan []*domain.Reading
	process ProcessFunc
	config  PoolConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	log *zap.Logger
}

func NewPool(config PoolConfig, process ProcessFunc, log *zap.Logger) *Pool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tasks:   make(chan []*domain.Reading, config.QueueSize),
		process: process,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("Alert pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues readings for evaluation.
func (p *Pool) Submit(readings []*domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- readings:
		metrics.AlertQueueDepth.Set(float64(len(p.tasks)))
		return nil
	default:
		metrics.AlertQueueDropped.Inc()
		p.log.Warn("Alert queue full, dropping evaluation",
			zap.String("store_code", readings[0].StoreCode),
			zap.Int("readings", len(readings)))
		return ErrPoolFull
	}
}

// Stop refuses new work and waits for queued work to finish. When ctx ends
// first, running tasks are cancelled and ctx's error is returned.
func (p *Pool) Stop(ctx context.Context) error {
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
		p.log.Info("Alert pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.log.Warn("Alert pool stop timed out, abandoning queued work", zap.Int("pending", len(p.tasks)))
		return fmt.Errorf("failed to drain alert pool: %w", ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for readings := range p.tasks {
		metrics.AlertQueueDepth.Set(float64(len(p.tasks)))
		p.run(id, readings)
	}
}

func (p *Pool) run(id int, readings []*domain.Reading) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Alert task panicked",
				zap.Int("worker_id", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	ctx := p.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}
	p.process(ctx, readings)
}
