package dto

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"store_code is required"`
}

// PublishTelemetryResponse represents an accepted telemetry payload
type PublishTelemetryResponse struct {
	StoreCode string   `json:"store_code" example:"STORE01"`
	Topic     string   `json:"topic" example:"aquatech/STORE01/data"`
	Metrics   []string `json:"metrics" example:"tds,flujo_produccion"`
	Status    string   `json:"status" example:"accepted"`
}

// ReadingStatsGroup represents aggregated values for one time bucket
type ReadingStatsGroup struct {
	GroupValue string  `json:"group_value" example:"2025-03-01 12:00:00"`
	Count      uint64  `json:"count" example:"60"`
	Avg        float64 `json:"avg" example:"612.4"`
	Min        float64 `json:"min" example:"590"`
	Max        float64 `json:"max" example:"640"`
}

// GetReadingStatsResponse represents the reading statistics response
type GetReadingStatsResponse struct {
	StoreCode  string              `json:"store_code" example:"STORE01"`
	SensorType string              `json:"sensor_type" example:"tds"`
	Unit       string              `json:"unit,omitempty" example:"ppm"`
	From       int64               `json:"from" example:"1740787200"`
	To         int64               `json:"to" example:"1740873600"`
	Count      uint64              `json:"count" example:"1440"`
	Avg        float64             `json:"avg" example:"611.9"`
	Min        float64             `json:"min" example:"570"`
	Max        float64             `json:"max" example:"655"`
	GroupBy    string              `json:"group_by,omitempty" example:"hour"`
	Groups     []ReadingStatsGroup `json:"groups,omitempty"`
}

// LatestReading is the most recent value of one sensor type
type LatestReading struct {
	SensorType string    `json:"sensor_type" example:"tds"`
	Name       string    `json:"name" example:"TDS"`
	Value      float64   `json:"value" example:"620"`
	Unit       string    `json:"unit" example:"ppm"`
	Timestamp  time.Time `json:"timestamp"`
}

// GetLatestReadingsResponse represents the latest readings of a store
type GetLatestReadingsResponse struct {
	StoreCode string          `json:"store_code" example:"STORE01"`
	Readings  []LatestReading `json:"readings"`
}
