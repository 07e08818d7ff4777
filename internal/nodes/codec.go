package nodes

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EncodeJSON serializes a list or record attribute for storage in a single HTML attribute.
// encoding/json sorts map keys, so equal values always encode to equal strings.
func EncodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeList decodes a JSON list attribute. Absent or malformed input yields an empty list.
func DecodeList[T any](raw string) []T {
	out, _ := decodeList[T](raw)
	return out
}

// DecodeRecord decodes a JSON object attribute. Absent or malformed input yields an empty record.
func DecodeRecord[V any](raw string) map[string]V {
	out, _ := decodeRecord[V](raw)
	return out
}

// decodeList reports ok=false only when raw is present but not a JSON list.
func decodeList[T any](raw string) ([]T, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []T{}, true
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []T{}, false
	}
	return out, true
}

func decodeRecord[V any](raw string) (map[string]V, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]V{}, true
	}
	var out map[string]V
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]V{}, false
	}
	return out, true
}

// EncodeBool encodes a boolean attribute as the literal "true" or "false".
func EncodeBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// DecodeBool treats exactly "true" as true.
func DecodeBool(raw string) bool {
	return raw == "true"
}

// DecodeInt parses a numeric attribute, falling back on failure. A trailing "px" is accepted
// so legacy width attributes still decode.
func DecodeInt(raw string, fallback int) int {
	value, ok := decodeInt(raw)
	if !ok {
		return fallback
	}
	return value
}

func decodeInt(raw string) (int, bool) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "px")
	if raw == "" {
		return 0, false
	}
	if value, err := strconv.Atoi(raw); err == nil {
		return value, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return int(f + 0.5), true
}

// Clamp bounds value to [lo, hi].
func Clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}
