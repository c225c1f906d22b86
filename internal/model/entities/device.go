package entities

import (
	"strconv"
	"strings"
)

// Metric names the measurement carried on a topic.
type Metric string

const (
	MetricTemperature Metric = "temp"
	MetricHumidity    Metric = "hum"
	MetricVoc         Metric = "co2"
	MetricNoise       Metric = "mic"
)

// Metrics in the order the node publishes them at the end of a window.
var Metrics = []Metric{MetricNoise, MetricVoc, MetricHumidity, MetricTemperature}

// Device is the physical deployment: one node per room.
type Device struct {
	RoomID    int    `json:"room_id"`    // embedded in topics and meta.device_id
	BaseTopic string `json:"base_topic"` // e.g. "dhbw/ai/si2023/6"
}

// Topic returns <base>/<metric>/<room_id>.
func (d Device) Topic(m Metric) string {
	base := strings.TrimRight(d.BaseTopic, "/")
	return base + "/" + string(m) + "/" + strconv.Itoa(d.RoomID)
}

// Topics returns the topic of every metric keyed by metric.
func (d Device) Topics() map[Metric]string {
	out := make(map[Metric]string, len(Metrics))
	for _, m := range Metrics {
		out[m] = d.Topic(m)
	}
	return out
}

// MetricFromTopic extracts the metric segment from "<base>/<metric>/<room>".
func MetricFromTopic(topic string) (Metric, bool) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 2 {
		return "", false
	}
	return ParseMetric(parts[len(parts)-2])
}

// ParseMetric reports whether s names a known metric.
func ParseMetric(s string) (Metric, bool) {
	for _, known := range Metrics {
		if Metric(s) == known {
			return known, true
		}
	}
	return "", false
}
