package consumer

import (
	"context"
)

// Envelope wraps a raw broker message with acknowledgment callbacks
type Envelope struct {
	Topic     string
	Payload   []byte
	MessageID string
	ack       func(context.Context) error
	nack      func(context.Context) error
}

// NewEnvelope creates a new message envelope
func NewEnvelope(topic string, payload []byte, messageID string, ack, nack func(context.Context) error) *Envelope {
	return &Envelope{
		Topic:     topic,
		Payload:   payload,
		MessageID: messageID,
		ack:       ack,
		nack:      nack,
	}
}

// Ack acknowledges successful processing
func (e *Envelope) Ack(ctx context.Context) error {
	if e.ack != nil {
		return e.ack(ctx)
	}
	return nil
}

// Nack negatively acknowledges processing
func (e *Envelope) Nack(ctx context.Context) error {
	if e.nack != nil {
		return e.nack(ctx)
	}
	return nil
}
