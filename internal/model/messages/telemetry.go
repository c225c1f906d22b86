package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Meta carries device metadata.
type Meta struct {
	DeviceID int `json:"device_id"`
}

// Telemetry is one message per metric and window. Value is either a slice of
// numbers or nil; nil drops the key from the payload.
type Telemetry struct {
	Timestamp uint64 `json:"timestamp"`
	Value     any    `json:"value,omitempty"`
	Sequence  int    `json:"sequence"`
	Meta      Meta   `json:"meta"`
}

// Decoded is the collector side view of a Telemetry payload.
type Decoded struct {
	Timestamp uint64
	Sequence  int
	DeviceID  string
	Values    []float64
}

type wireTelemetry struct {
	Timestamp *uint64         `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
	Sequence  int             `json:"sequence"`
	Meta      json.RawMessage `json:"meta"`
}

var ErrMissingTimestamp = errors.New("telemetry: missing timestamp")

// DecodeTelemetry parses a payload from any node revision: value may be an
// array or a scalar, meta may be an object, a string or null.
func DecodeTelemetry(payload []byte) (Decoded, error) {
	var w wireTelemetry
	if err := json.Unmarshal(payload, &w); err != nil {
		return Decoded{}, fmt.Errorf("telemetry: %w", err)
	}
	if w.Timestamp == nil {
		return Decoded{}, ErrMissingTimestamp
	}
	out := Decoded{Timestamp: *w.Timestamp, Sequence: w.Sequence}

	values, err := decodeValue(w.Value)
	if err != nil {
		return Decoded{}, err
	}
	out.Values = values
	out.DeviceID = decodeDeviceID(w.Meta)
	return out, nil
}

func decodeValue(raw json.RawMessage) ([]float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []float64
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("telemetry: value array: %w", err)
		}
		return arr, nil
	}
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err != nil {
		return nil, fmt.Errorf("telemetry: value of unexpected type: %s", trimmed)
	}
	return []float64{scalar}, nil
}

func decodeDeviceID(raw json.RawMessage) string {
	var m struct {
		DeviceID json.Number `json:"device_id"`
	}
	if err := json.Unmarshal(raw, &m); err == nil && m.DeviceID != "" {
		return m.DeviceID.String()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" && s != "null" {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
