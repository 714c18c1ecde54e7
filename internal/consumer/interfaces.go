package consumer

import (
	"context"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

// MessageParser turns a topic and raw body into a decoded message
type MessageParser interface {
	Parse(topic string, body []byte) (*Message, error)
}

// Source feeds envelopes into out and closes it when it stops. A non-nil
// error means the source could not start.
type Source interface {
	Start(ctx context.Context, out chan<- *Envelope) error
}

// StoreResolver finds the store a message belongs to
type StoreResolver interface {
	GetOrCreate(ctx context.Context, code string, defaults domain.StoreDefaults) (*domain.Store, error)
	MarkStatus(ctx context.Context, update *domain.StatusUpdate) error
}

// ReadingWriter persists the readings of one message
type ReadingWriter interface {
	Write(ctx context.Context, t *domain.Telemetry, store *domain.Store) ([]*domain.Reading, error)
}

// AlertSubmitter hands persisted readings to background alerting
type AlertSubmitter interface {
	Submit(readings []*domain.Reading) error
}
