package domain

import "time"

const (
	StoreStatusActive  = "active"
	StoreStatusOnline  = "online"
	StoreStatusOffline = "offline"
)

// Store is a physical installation identified by its upper-cased code.
type Store struct {
	ID         string                 `bson:"_id,omitempty" json:"id"`
	Code       string                 `bson:"code" json:"code"`
	Name       string                 `bson:"name" json:"name"`
	ClientID   string                 `bson:"clientId,omitempty" json:"client_id,omitempty"`
	Status     string                 `bson:"status" json:"status"`
	Lat        *float64               `bson:"lat,omitempty" json:"lat,omitempty"`
	Long       *float64               `bson:"long,omitempty" json:"long,omitempty"`
	Meta       map[string]interface{} `bson:"meta,omitempty" json:"meta,omitempty"`
	LastSeenAt time.Time              `bson:"lastSeenAt,omitempty" json:"last_seen_at,omitempty"`
	CreatedAt  time.Time              `bson:"createdAt" json:"created_at"`
	UpdatedAt  time.Time              `bson:"updatedAt" json:"updated_at"`
}

// StoreDefaults are applied only when a store row is first created, except
// for coordinates and an explicit Name which refresh an existing row.
// FallbackName is used on creation when no Name was reported.
type StoreDefaults struct {
	Name         string
	FallbackName string
	ClientID     string
	Lat          *float64
	Long         *float64
	Meta         map[string]interface{}
}

// SensorConfig is display metadata for one sensor of a store. It never gates
// whether readings are written.
type SensorConfig struct {
	ID           string     `bson:"_id,omitempty" json:"id"`
	StoreID      string     `bson:"storeId" json:"store_id"`
	SensorType   SensorType `bson:"sensorType" json:"sensor_type"`
	ResourceID   string     `bson:"resourceId" json:"resource_id"`
	ResourceType string     `bson:"resourceType" json:"resource_type"`
	Label        string     `bson:"label" json:"label"`
	Unit         string     `bson:"unit" json:"unit"`
	MinValue     *float64   `bson:"minValue,omitempty" json:"min_value,omitempty"`
	MaxValue     *float64   `bson:"maxValue,omitempty" json:"max_value,omitempty"`
	Enabled      bool       `bson:"enabled" json:"enabled"`
	CreatedAt    time.Time  `bson:"createdAt" json:"created_at"`
}
