package oit

import (
	"encoding/json"
	"strings"
)

// DecodePayload unmarshals a stored JSON column into v. NULL, empty and
// unparsable input leave v at its zero value and report false; readers never
// fail on a bad column.
func DecodePayload(raw any, v any) bool {
	var b []byte
	switch val := raw.(type) {
	case nil:
		return false
	case string:
		b = []byte(val)
	case []byte:
		b = val
	default:
		// pgx hands json/jsonb columns back already decoded.
		enc, err := json.Marshal(val)
		if err != nil {
			return false
		}
		b = enc
	}
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return false
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return false
	}
	return true
}

// EncodePayload serializes v for a JSON column. nil pointers and empty maps
// encode as NULL-safe defaults ("{}" / "[]") matching what readers substitute.
func EncodePayload(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "{}"
	}
	return string(b)
}

// EncodeList is EncodePayload for array columns.
func EncodeList(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var c map[string]any
	if err := json.Unmarshal(b, &c); err != nil {
		return nil
	}
	return c
}
