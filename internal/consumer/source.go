package consumer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue"
)

// SubscriberSource adapts a push subscription into envelopes. Deliveries
// block while the envelope buffer is full, which holds back the transport.
type SubscriberSource struct {
	subscriber queue.Subscriber
	filters    []string
	log        *zap.Logger
}

func NewSubscriberSource(subscriber queue.Subscriber, filters []string, log *zap.Logger) *SubscriberSource {
	return &SubscriberSource{
		subscriber: subscriber,
		filters:    filters,
		log:        log,
	}
}

// Start subscribes, forwards deliveries until ctx is cancelled, then
// unsubscribes and closes out once no delivery is in progress.
func (s *SubscriberSource) Start(ctx context.Context, out chan<- *Envelope) error {
	var (
		mu       sync.RWMutex
		closed   bool
		inflight sync.WaitGroup
	)

	handler := func(_ context.Context, msg queue.Message) {
		mu.RLock()
		if closed {
			mu.RUnlock()
			metrics.MessagesDropped.WithLabelValues("shutdown").Inc()
			return
		}
		inflight.Add(1)
		mu.RUnlock()
		defer inflight.Done()

		nack := func(context.Context) error {
			s.log.Warn("Message not stored, no redelivery on this transport", zap.String("topic", msg.Topic))
			return nil
		}
		envelope := NewEnvelope(msg.Topic, msg.Payload, msg.ID, nil, nack)

		select {
		case out <- envelope:
		case <-ctx.Done():
			metrics.MessagesDropped.WithLabelValues("shutdown").Inc()
			s.log.Warn("Shutdown signaled, message dropped", zap.String("topic", msg.Topic))
		}
	}

	if err := s.subscriber.Subscribe(ctx, s.filters, handler); err != nil {
		s.log.Error("Failed to subscribe", zap.Strings("filters", s.filters), zap.Error(err))
		close(out)
		return fmt.Errorf("failed to subscribe to %v: %w", s.filters, err)
	}
	s.log.Info("Subscription source started", zap.Strings("filters", s.filters))

	<-ctx.Done()

	if err := s.subscriber.Unsubscribe(s.filters...); err != nil {
		s.log.Warn("Failed to unsubscribe", zap.Error(err))
	}

	mu.Lock()
	closed = true
	mu.Unlock()
	inflight.Wait()

	close(out)
	s.log.Info("Subscription source stopped")
	return nil
}
