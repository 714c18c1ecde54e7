package consumer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/ingest"
	"github.com/BarkinBalci/telemetry-pipeline/internal/sensor"
)

// ErrMalformedMessage marks messages that can never be processed. They are
// acknowledged and dropped.
var ErrMalformedMessage = errors.New("malformed message")

// MessageKind tells data messages from status reports
type MessageKind string

const (
	KindData   MessageKind = "data"
	KindStatus MessageKind = "status"
)

// millisThreshold separates Unix seconds from Unix milliseconds. Seconds do
// not reach it until the year 33658.
const millisThreshold = 1e12

// contextKeys are payload keys that describe the message rather than a metric
var contextKeys = []string{
	"timestamp", "cliente_id", "client_id", "lat", "long", "lon",
	"punto_venta_name", "store_name", "source", "gateway_ip", "ip",
	"rssi", "equipo_id", "gateway_id",
}

// Message is a decoded broker message. Exactly one of Telemetry and Status
// is set, according to Kind.
type Message struct {
	Kind      MessageKind
	Telemetry *domain.Telemetry
	Status    *domain.StatusUpdate
}

// SubscriptionTopics are the topic filters the consumer listens on
func SubscriptionTopics(namespace string) []string {
	return []string{
		namespace + "/+/data",
		namespace + "/+/+/data",
		namespace + "/+/status",
		namespace + "/+/+/status",
	}
}

// DataTopic is the topic a store's telemetry is published on
func DataTopic(namespace, storeCode string) string {
	return fmt.Sprintf("%s/%s/data", namespace, ingest.NormalizeCode(storeCode))
}

// TelemetryParser canonicalizes device payloads
type TelemetryParser struct {
	namespace string
	now       func() time.Time
}

func NewTelemetryParser(namespace string) *TelemetryParser {
	return &TelemetryParser{
		namespace: namespace,
		now:       time.Now,
	}
}

type topicParts struct {
	storeCode  string
	resourceID string
	kind       MessageKind
}

func (p *TelemetryParser) parseTopic(topic string) (topicParts, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 && len(parts) != 4 {
		return topicParts{}, fmt.Errorf("%w: unexpected topic %q", ErrMalformedMessage, topic)
	}
	if parts[0] != p.namespace {
		return topicParts{}, fmt.Errorf("%w: topic %q outside namespace %q", ErrMalformedMessage, topic, p.namespace)
	}

	out := topicParts{storeCode: ingest.NormalizeCode(parts[1])}
	if out.storeCode == "" {
		return topicParts{}, fmt.Errorf("%w: empty store code in topic %q", ErrMalformedMessage, topic)
	}
	if len(parts) == 4 {
		out.resourceID = strings.TrimSpace(parts[2])
	}

	switch MessageKind(parts[len(parts)-1]) {
	case KindData:
		out.kind = KindData
	case KindStatus:
		out.kind = KindStatus
	default:
		return topicParts{}, fmt.Errorf("%w: unexpected topic %q", ErrMalformedMessage, topic)
	}
	return out, nil
}

// Parse decodes body according to topic. Malformed input returns an error
// wrapping ErrMalformedMessage.
func (p *TelemetryParser) Parse(topic string, body []byte) (*Message, error) {
	parts, err := p.parseTopic(topic)
	if err != nil {
		return nil, err
	}

	payload, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if parts.kind == KindStatus {
		return &Message{Kind: KindStatus, Status: p.status(parts, payload)}, nil
	}
	return &Message{Kind: KindData, Telemetry: p.telemetry(topic, parts, payload)}, nil
}

// ParsePayload canonicalizes a body for storeCode without a broker topic
func (p *TelemetryParser) ParsePayload(storeCode string, body []byte) (*domain.Telemetry, error) {
	return p.parseData(DataTopic(p.namespace, storeCode), body)
}

func (p *TelemetryParser) parseData(topic string, body []byte) (*domain.Telemetry, error) {
	msg, err := p.Parse(topic, body)
	if err != nil {
		return nil, err
	}
	if msg.Kind != KindData {
		return nil, fmt.Errorf("%w: not a data topic %q", ErrMalformedMessage, topic)
	}
	return msg.Telemetry, nil
}

func (p *TelemetryParser) telemetry(topic string, parts topicParts, payload map[string]interface{}) *domain.Telemetry {
	t := &domain.Telemetry{
		Topic:     topic,
		StoreCode: parts.storeCode,
		ClientID:  stringField(payload, "cliente_id", "client_id"),
		StoreName: stringField(payload, "punto_venta_name", "store_name"),
		Lat:       floatField(payload, "lat"),
		Long:      floatField(payload, "long", "lon"),
		Source:    stringField(payload, "source"),
		GatewayIP: stringField(payload, "gateway_ip", "ip"),
		RSSI:      floatField(payload, "rssi"),
		Metrics:   sensor.Extract(payload),
		Timestamp: p.timestamp(payload["timestamp"]),
		Metadata:  payload,
	}

	switch {
	case parts.resourceID != "":
		t.ResourceID, t.ResourceType = parts.resourceID, domain.ResourceEquipment
	case stringField(payload, "equipo_id") != "":
		t.ResourceID, t.ResourceType = stringField(payload, "equipo_id"), domain.ResourceEquipment
	case stringField(payload, "gateway_id") != "":
		t.ResourceID, t.ResourceType = stringField(payload, "gateway_id"), domain.ResourceGateway
	default:
		t.ResourceType = domain.ResourceUnknown
	}
	return t
}

func (p *TelemetryParser) status(parts topicParts, payload map[string]interface{}) *domain.StatusUpdate {
	status := strings.ToLower(stringField(payload, "status"))
	if status != domain.StoreStatusOffline {
		status = domain.StoreStatusOnline
	}
	return &domain.StatusUpdate{
		StoreCode:  parts.storeCode,
		ResourceID: parts.resourceID,
		Status:     status,
		IP:         stringField(payload, "ip", "gateway_ip"),
		At:         p.timestamp(payload["timestamp"]),
	}
}

// timestamp reads Unix seconds or milliseconds, falling back to now
func (p *TelemetryParser) timestamp(raw interface{}) time.Time {
	if raw == nil {
		return p.now().UTC()
	}
	v, ok := sensor.ToFloat(raw)
	if !ok || v <= 0 {
		return p.now().UTC()
	}
	if v >= millisThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func decodeObject(body []byte) (map[string]interface{}, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, errors.New("body is not a JSON object")
	}

	var payload map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return payload, nil
}

// stringField returns the first non-empty value among keys. Numbers are
// formatted, since ids are often published unquoted.
func stringField(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func floatField(m map[string]interface{}, keys ...string) *float64 {
	for _, key := range keys {
		raw, ok := m[key]
		if !ok || raw == nil {
			continue
		}
		if v, ok := sensor.ToFloat(raw); ok {
			return &v
		}
	}
	return nil
}
