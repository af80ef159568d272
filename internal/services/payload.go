package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

// toFloat64 converts various numeric types to float64
func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := json.Number(val).Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

// toString converts scalar payload values to their string form
func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toBool coerces a payload value to bool, defaulting to fallback
func toBool(v interface{}, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

// payloadFloat reads a numeric payload field
func payloadFloat(payload models.JSONMap, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	return toFloat64(payload[key])
}

// payloadUint reads a numeric payload field as an identifier
func payloadUint(payload models.JSONMap, key string) uint {
	f, ok := payloadFloat(payload, key)
	if !ok || f < 0 {
		return 0
	}
	return uint(f)
}

// payloadString reads a string payload field
func payloadString(payload models.JSONMap, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// referencedEntityID extracts the domain row an event refers to, keyed by
// the trigger family's payload convention.
func referencedEntityID(trigger models.TriggerKey, payload models.JSONMap) uint {
	switch {
	case strings.HasPrefix(string(trigger), "job."):
		return payloadUint(payload, "job_id")
	case strings.HasPrefix(string(trigger), "material."):
		return payloadUint(payload, "material_id")
	case strings.HasPrefix(string(trigger), "invoice."):
		return payloadUint(payload, "invoice_id")
	default:
		return payloadUint(payload, "entity_id")
	}
}
