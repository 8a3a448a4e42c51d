package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawRecord is one appliance log record as returned by the log search API.
// Field names and value types vary by log category, so every access goes
// through the typed accessors below.
type RawRecord map[string]interface{}

// String returns the first non-empty string value among the named fields.
func (r RawRecord) String(names ...string) string {
	for _, name := range names {
		v, ok := r[name]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		case fmt.Stringer:
			if s := val.String(); s != "" {
				return s
			}
		case int:
			return strconv.Itoa(val)
		case int64:
			return strconv.FormatInt(val, 10)
		case float64:
			if val == float64(int64(val)) {
				return strconv.FormatInt(int64(val), 10)
			}
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return ""
}

// Int returns the first parseable integer among the named fields.
func (r RawRecord) Int(names ...string) int64 {
	for _, name := range names {
		v, ok := r[name]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case int:
			return int64(val)
		case int64:
			return val
		case float64:
			return int64(val)
		case string:
			if val == "" {
				continue
			}
			if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}

// ContentHash returns a stable hex digest of the whole record. encoding/json
// serializes map keys in sorted order, which makes the digest deterministic
// for identical records regardless of field arrival order.
func (r RawRecord) ContentHash() string {
	data, err := json.Marshal(map[string]interface{}(r))
	if err != nil {
		data = []byte(fmt.Sprintf("%v", map[string]interface{}(r)))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
