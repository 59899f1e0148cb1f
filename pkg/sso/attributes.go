package sso

import (
	"encoding/json"
	"fmt"
	"strings"
)

// getStringValue resolves a dotted path such as "data.email" in a decoded
// JSON document. Numbers are rendered without exponent so numeric ids survive.
func getStringValue(data map[string]interface{}, path string) string {
	if path == "" {
		return ""
	}

	var current interface{} = data
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		if current, ok = m[key]; !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	case bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// flattenAttributes renders top-level values as strings for RawAttributes
func flattenAttributes(data map[string]interface{}) map[string]string {
	attrs := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			attrs[k] = val
		case nil:
		default:
			b, err := json.Marshal(val)
			if err == nil {
				attrs[k] = string(b)
			}
		}
	}
	return attrs
}

// firstNonEmpty returns the first non-empty value
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
