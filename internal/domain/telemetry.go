package domain

import "time"

// SensorType is the canonical name of a measured quantity, e.g. "tds".
type SensorType string

// Resource types a reading can be attributed to.
const (
	ResourceEquipment = "equipo"
	ResourceGateway   = "gateway"
	ResourceUnknown   = "unknown"
)

// Telemetry is one decoded device message with its metrics resolved to
// canonical sensor types.
type Telemetry struct {
	Topic        string
	StoreCode    string
	ResourceID   string
	ResourceType string
	ClientID     string
	StoreName    string
	Lat          *float64
	Long         *float64
	Source       string
	GatewayIP    string
	RSSI         *float64
	Metrics      map[SensorType]float64
	Timestamp    time.Time
	Metadata     map[string]interface{}
}

// StatusUpdate is a connectivity report published on a status topic.
type StatusUpdate struct {
	StoreCode  string
	ResourceID string
	Status     string
	IP         string
	At         time.Time
}

// Reading is one persisted sample. Readings are immutable once written.
type Reading struct {
	ID           string
	Name         string
	SensorType   SensorType
	Value        float64
	Unit         string
	Label        string
	Timestamp    time.Time
	StoreCode    string
	StoreID      string
	ResourceID   string
	ResourceType string
	ClientID     string
	Meta         string
	IngestedAt   time.Time
}
