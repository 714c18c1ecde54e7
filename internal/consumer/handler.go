package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/sensor"
)

// Result summarizes the handling of one message
type Result struct {
	Kind      MessageKind
	StoreCode string
	StoreID   string
	Readings  int
	// AlertsQueued is false when alerting was skipped or its queue was full
	AlertsQueued bool
}

// MessageHandler runs one message through canonicalization, store
// resolution, reading fan-out and the alert hand-off.
type MessageHandler struct {
	parser MessageParser
	stores StoreResolver
	writer ReadingWriter
	alerts AlertSubmitter
	log    *zap.Logger
}

func NewMessageHandler(parser MessageParser, stores StoreResolver, writer ReadingWriter, alerts AlertSubmitter, log *zap.Logger) *MessageHandler {
	return &MessageHandler{
		parser: parser,
		stores: stores,
		writer: writer,
		alerts: alerts,
		log:    log,
	}
}

// Handle processes one message. Errors wrapping ErrMalformedMessage mean the
// message can never succeed; any other error is a storage failure.
func (h *MessageHandler) Handle(ctx context.Context, topic string, payload []byte) (*Result, error) {
	msg, err := h.parser.Parse(topic, payload)
	if err != nil {
		return nil, err
	}

	if msg.Kind == KindStatus {
		if err := h.stores.MarkStatus(ctx, msg.Status); err != nil {
			return nil, err
		}
		return &Result{Kind: KindStatus, StoreCode: msg.Status.StoreCode}, nil
	}

	t := msg.Telemetry
	store, err := h.stores.GetOrCreate(ctx, t.StoreCode, domain.StoreDefaults{
		Name:     t.StoreName,
		ClientID: t.ClientID,
		Lat:      t.Lat,
		Long:     t.Long,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store: %w", err)
	}
	if t.ClientID == "" {
		t.ClientID = store.ClientID
	}

	result := &Result{Kind: KindData, StoreCode: store.Code, StoreID: store.ID}
	if len(t.Metrics) == 0 {
		h.log.Debug("Message has no recognized metrics",
			zap.String("topic", topic),
			zap.Strings("unknown_keys", unknownKeys(t)))
		return result, nil
	}

	readings, err := h.writer.Write(ctx, t, store)
	if err != nil {
		return nil, err
	}
	result.Readings = len(readings)

	if h.alerts == nil || t.ClientID == "" {
		return result, nil
	}
	if err := h.alerts.Submit(readings); err != nil {
		h.log.Warn("Alert evaluation not queued",
			zap.String("store_code", store.Code),
			zap.Error(err))
		return result, nil
	}
	result.AlertsQueued = true
	return result, nil
}

func unknownKeys(t *domain.Telemetry) []string {
	return sensor.Unknown(t.Metadata, contextKeys...)
}

// IsMalformed reports whether err marks a message that must be dropped
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedMessage)
}
