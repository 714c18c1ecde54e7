package consumer

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue"
)

// ReceiverConfig configures the SQS receiver
type ReceiverConfig struct {
	MaxMessages     int32
	WaitTimeSeconds int32
	ErrorBackoff    time.Duration
}

// Receiver long-polls SQS and emits one envelope per message. Ack deletes
// the message; nack leaves it to reappear after its visibility timeout.
type Receiver struct {
	consumer queue.QueueConsumer
	config   ReceiverConfig
	log      *zap.Logger
}

// NewReceiver creates a new SQS receiver
func NewReceiver(consumer queue.QueueConsumer, config ReceiverConfig, log *zap.Logger) *Receiver {
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = time.Second
	}
	return &Receiver{
		consumer: consumer,
		config:   config,
		log:      log,
	}
}

// Start receives until ctx is cancelled, then closes out
func (r *Receiver) Start(ctx context.Context, out chan<- *Envelope) error {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Receiver shutting down")
			return nil
		default:
			result, err := r.consumer.ReceiveMessages(ctx, &awssqs.ReceiveMessageInput{
				QueueUrl:              aws.String(r.consumer.QueueURL()),
				MaxNumberOfMessages:   r.config.MaxMessages,
				WaitTimeSeconds:       r.config.WaitTimeSeconds,
				MessageAttributeNames: []string{"All"},
			})

			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				r.log.Error("Error receiving messages from SQS", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(r.config.ErrorBackoff):
				}
				continue
			}

			if len(result.Messages) == 0 {
				continue
			}

			r.log.Debug("Received messages from SQS", zap.Int("message_count", len(result.Messages)))
			metrics.MessagesReceived.WithLabelValues("sqs").Add(float64(len(result.Messages)))

			for _, msg := range result.Messages {
				select {
				case <-ctx.Done():
					r.log.Info("Receiver shutting down while sending messages")
					return nil
				case out <- r.envelope(msg):
				}
			}
		}
	}
}

func (r *Receiver) envelope(msg types.Message) *Envelope {
	topic := ""
	if attr, ok := msg.MessageAttributes[queue.TopicAttribute]; ok {
		topic = aws.ToString(attr.StringValue)
	}

	ack := func(ctx context.Context) error {
		return r.deleteMessage(ctx, msg)
	}
	nack := func(ctx context.Context) error {
		r.log.Debug("Message left for redelivery", zap.String("message_id", aws.ToString(msg.MessageId)))
		return nil
	}

	return NewEnvelope(topic, []byte(aws.ToString(msg.Body)), aws.ToString(msg.MessageId), ack, nack)
}

func (r *Receiver) deleteMessage(ctx context.Context, msg types.Message) error {
	_, err := r.consumer.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.consumer.QueueURL()),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		r.log.Error("Failed to delete message",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		return err
	}
	return nil
}
