// Package consumer pulls telemetry off the broker and runs each message
// through the ingestion pipeline.
//
// A single consumer process may be subscribed to a namespace at a time.
// Running two produces duplicate readings and duplicate notifications.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
)

// Handler processes one raw message
type Handler interface {
	Handle(ctx context.Context, topic string, payload []byte) (*Result, error)
}

// Config sizes the consumer
type Config struct {
	Workers       int
	BufferSize    int
	HandleTimeout time.Duration
}

// Consumer drives envelopes from a source through a pool of handler workers
type Consumer struct {
	source  Source
	handler Handler
	config  Config
	log     *zap.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(source Source, handler Handler, config Config, log *zap.Logger) *Consumer {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.BufferSize < 0 {
		config.BufferSize = 0
	}
	return &Consumer{
		source:  source,
		handler: handler,
		config:  config,
		log:     log,
	}
}

// Start runs until ctx is cancelled and every received envelope is handled
func (c *Consumer) Start(ctx context.Context) error {
	envelopes := make(chan *Envelope, c.config.BufferSize)

	var (
		wg        sync.WaitGroup
		sourceErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sourceErr = c.source.Start(ctx, envelopes)
	}()

	for i := 0; i < c.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, id, envelopes)
		}(i)
	}

	c.log.Info("Consumer started",
		zap.Int("workers", c.config.Workers),
		zap.Int("buffer_size", c.config.BufferSize))

	wg.Wait()
	if sourceErr != nil {
		return fmt.Errorf("message source failed: %w", sourceErr)
	}
	c.log.Info("Consumer stopped")
	return nil
}

// worker drains in until the source closes it. Handling is detached from
// ctx so work already received finishes during shutdown.
func (c *Consumer) worker(ctx context.Context, id int, in <-chan *Envelope) {
	base := context.WithoutCancel(ctx)
	for envelope := range in {
		c.process(base, id, envelope)
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, envelope *Envelope) {
	if c.config.HandleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HandleTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.handler.Handle(ctx, envelope.Topic, envelope.Payload)

	kind := "unknown"
	if result != nil {
		kind = string(result.Kind)
	}

	switch {
	case err == nil:
		metrics.HandleDuration.WithLabelValues(kind, "ok").Observe(time.Since(start).Seconds())
		c.log.Debug("Message processed",
			zap.Int("worker_id", workerID),
			zap.String("topic", envelope.Topic),
			zap.String("store_code", result.StoreCode),
			zap.Int("readings", result.Readings),
			zap.Bool("alerts_queued", result.AlertsQueued))
		if ackErr := envelope.Ack(ctx); ackErr != nil {
			c.log.Error("Failed to acknowledge message", zap.String("message_id", envelope.MessageID), zap.Error(ackErr))
		}

	case IsMalformed(err):
		metrics.HandleDuration.WithLabelValues(kind, "malformed").Observe(time.Since(start).Seconds())
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		c.log.Warn("Dropping malformed message",
			zap.String("topic", envelope.Topic),
			zap.String("message_id", envelope.MessageID),
			zap.Error(err))
		if ackErr := envelope.Ack(ctx); ackErr != nil {
			c.log.Error("Failed to acknowledge malformed message", zap.String("message_id", envelope.MessageID), zap.Error(ackErr))
		}

	default:
		metrics.HandleDuration.WithLabelValues(kind, "error").Observe(time.Since(start).Seconds())
		metrics.MessagesDropped.WithLabelValues("write_failed").Inc()
		c.log.Error("Failed to process message",
			zap.String("topic", envelope.Topic),
			zap.String("message_id", envelope.MessageID),
			zap.Error(err))
		if nackErr := envelope.Nack(ctx); nackErr != nil {
			c.log.Error("Failed to nack message", zap.String("message_id", envelope.MessageID), zap.Error(nackErr))
		}
	}
}
