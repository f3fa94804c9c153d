package processors

import (
	"encoding/json"
	"strings"

	"easel/internal/services"
)

// decodeObject parses a stored JSON object field. Empty input yields an empty
// map so processors can treat request and result uniformly.
func decodeObject(capability, field, raw string) (map[string]any, error) {
	object := make(map[string]any)
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &object); err != nil {
			return nil, services.Wrap(services.ErrUnrecoverable, capability, "decode "+field, "malformed JSON object", err)
		}
	}
	return object, nil
}

func stringField(object map[string]any, key string) string {
	if value, ok := object[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func intField(object map[string]any, key string) int {
	switch value := object[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	}
	return 0
}

func int64Field(object map[string]any, key string) int64 {
	switch value := object[key].(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	}
	return 0
}
