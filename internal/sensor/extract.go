package sensor

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

// Extract resolves every catalog type present in a flat payload. For each
// type the first key holding a numeric value wins. Keys that are present but
// non-numeric are skipped so a later spelling can still supply the value.
func Extract(body map[string]interface{}) map[domain.SensorType]float64 {
	out := make(map[domain.SensorType]float64)
	for _, def := range Catalog {
		for _, key := range def.Keys {
			raw, ok := body[key]
			if !ok || raw == nil {
				continue
			}
			if v, ok := ToFloat(raw); ok {
				out[def.Type] = v
				break
			}
		}
	}
	return out
}

// ToFloat coerces JSON numbers and numeric strings. NaN and infinities are
// rejected.
func ToFloat(raw interface{}) (float64, bool) {
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case float32:
		v = float64(t)
	case int:
		v = float64(t)
	case int64:
		v = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Unknown returns the payload keys that are not metric spellings. They stay
// in metadata only.
func Unknown(body map[string]interface{}, ignore ...string) []string {
	skip := make(map[string]struct{}, len(ignore))
	for _, k := range ignore {
		skip[k] = struct{}{}
	}
	var keys []string
	for k := range body {
		if _, ok := skip[k]; ok {
			continue
		}
		if !IsMetricKey(k) {
			keys = append(keys, k)
		}
	}
	return keys
}
