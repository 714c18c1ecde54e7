package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/sensor"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestParser() *TelemetryParser {
	p := NewTelemetryParser("aquatech")
	p.now = func() time.Time { return testNow }
	return p
}

func TestTelemetryParser_Parse_LabeledKeys(t *testing.T) {
	msg, err := newTestParser().Parse("aquatech/store01/data", []byte(`{"TDS": 620, "CAUDAL PURIFICADA": "1.2", "firmware": "v2"}`))

	require.NoError(t, err)
	require.Equal(t, KindData, msg.Kind)
	tel := msg.Telemetry
	assert.Equal(t, "STORE01", tel.StoreCode)
	assert.Equal(t, map[domain.SensorType]float64{sensor.TDS: 620, sensor.FlowProduction: 1.2}, tel.Metrics)
	assert.Equal(t, testNow, tel.Timestamp)
	assert.Equal(t, "v2", tel.Metadata["firmware"])
	assert.Equal(t, domain.ResourceUnknown, tel.ResourceType)
}

func TestTelemetryParser_Parse_KeyPrecedence(t *testing.T) {
	msg, err := newTestParser().Parse("aquatech/STORE01/data", []byte(`{"tds": null, "TDS": 10, "caudal_purificada": 2, "CAUDAL PURIFICADA": 3}`))

	require.NoError(t, err)
	assert.Equal(t, 10.0, msg.Telemetry.Metrics[sensor.TDS])
	assert.Equal(t, 2.0, msg.Telemetry.Metrics[sensor.FlowProduction])
}

func TestTelemetryParser_Parse_Timestamps(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Time
	}{
		{name: "seconds", body: `{"timestamp": 1740823200}`, want: time.Unix(1740823200, 0).UTC()},
		{name: "millis", body: `{"timestamp": 1740823200123}`, want: time.UnixMilli(1740823200123).UTC()},
		{name: "string seconds", body: `{"timestamp": "1740823200"}`, want: time.Unix(1740823200, 0).UTC()},
		{name: "missing", body: `{}`, want: testNow},
		{name: "invalid", body: `{"timestamp": "yesterday"}`, want: testNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := newTestParser().Parse("aquatech/STORE01/data", []byte(tt.body))

			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Telemetry.Timestamp)
		})
	}
}

func TestTelemetryParser_Parse_Context(t *testing.T) {
	body := `{"cliente_id": 42, "lat": "19.43", "lon": -99.13, "punto_venta_name": "Centro", "source": "gateway", "ip": "10.0.0.2", "rssi": -70, "gateway_id": "GW-9"}`

	msg, err := newTestParser().Parse("aquatech/STORE01/data", []byte(body))

	require.NoError(t, err)
	tel := msg.Telemetry
	assert.Equal(t, "42", tel.ClientID)
	require.NotNil(t, tel.Lat)
	assert.Equal(t, 19.43, *tel.Lat)
	require.NotNil(t, tel.Long)
	assert.Equal(t, -99.13, *tel.Long)
	assert.Equal(t, "Centro", tel.StoreName)
	assert.Equal(t, "gateway", tel.Source)
	assert.Equal(t, "10.0.0.2", tel.GatewayIP)
	require.NotNil(t, tel.RSSI)
	assert.Equal(t, "GW-9", tel.ResourceID)
	assert.Equal(t, domain.ResourceGateway, tel.ResourceType)
	assert.Empty(t, tel.Metrics)
}

func TestTelemetryParser_Parse_EquipmentTopic(t *testing.T) {
	msg, err := newTestParser().Parse("aquatech/STORE01/EQ-7/data", []byte(`{"tds": 5, "gateway_id": "GW-9"}`))

	require.NoError(t, err)
	assert.Equal(t, "EQ-7", msg.Telemetry.ResourceID)
	assert.Equal(t, domain.ResourceEquipment, msg.Telemetry.ResourceType)
}

func TestTelemetryParser_Parse_Status(t *testing.T) {
	msg, err := newTestParser().Parse("aquatech/STORE01/status", []byte(`{"status": "OFFLINE", "ip": "10.0.0.2"}`))

	require.NoError(t, err)
	require.Equal(t, KindStatus, msg.Kind)
	assert.Nil(t, msg.Telemetry)
	assert.Equal(t, "STORE01", msg.Status.StoreCode)
	assert.Equal(t, domain.StoreStatusOffline, msg.Status.Status)
	assert.Equal(t, "10.0.0.2", msg.Status.IP)
}

func TestTelemetryParser_Parse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		body  string
	}{
		{name: "not json", topic: "aquatech/STORE01/data", body: `not json`},
		{name: "array body", topic: "aquatech/STORE01/data", body: `[1,2]`},
		{name: "truncated", topic: "aquatech/STORE01/data", body: `{"tds": 1`},
		{name: "trailing data", topic: "aquatech/STORE01/data", body: `{"tds": 1} {}`},
		{name: "short topic", topic: "aquatech/data", body: `{}`},
		{name: "wrong suffix", topic: "aquatech/STORE01/config", body: `{}`},
		{name: "other namespace", topic: "other/STORE01/data", body: `{}`},
		{name: "empty code", topic: "aquatech/ /data", body: `{}`},
		{name: "empty topic", topic: "", body: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := newTestParser().Parse(tt.topic, []byte(tt.body))

			assert.Nil(t, msg)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestTelemetryParser_ParsePayload(t *testing.T) {
	tel, err := newTestParser().ParsePayload("store01", []byte(`{"eficiencia": 88}`))

	require.NoError(t, err)
	assert.Equal(t, "aquatech/STORE01/data", tel.Topic)
	assert.Equal(t, 88.0, tel.Metrics[sensor.Efficiency])
}

func TestSubscriptionTopics(t *testing.T) {
	assert.Equal(t, []string{
		"aquatech/+/data",
		"aquatech/+/+/data",
		"aquatech/+/status",
		"aquatech/+/+/status",
	}, SubscriptionTopics("aquatech"))
}
