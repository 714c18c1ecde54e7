// Package queue abstracts the broker transports telemetry arrives on.
package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// TopicAttribute carries the MQTT-style topic of a message over SQS
const TopicAttribute = "Topic"

// Publisher publishes a raw payload on a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Message is one delivery from a push-based subscription
type Message struct {
	Topic   string
	Payload []byte
	ID      string
}

// MessageHandler receives subscription deliveries. It must not retain msg.Payload
// beyond the call unless it owns a copy.
type MessageHandler func(ctx context.Context, msg Message)

// Subscriber delivers messages from topic filters to a handler
type Subscriber interface {
	Subscribe(ctx context.Context, filters []string, handler MessageHandler) error
	Unsubscribe(filters ...string) error
	IsConnected() bool
}

// QueueConsumer defines the interface for consuming messages from a queue
type QueueConsumer interface {
	ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
	QueueURL() string
}
