package node

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeonardoBeccarini/roomsense/internal/connectivity"
	"github.com/LeonardoBeccarini/roomsense/internal/model/entities"
)

// Metrics are the node's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	publishes      *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	sensorFailures *prometheus.CounterVec
	ntpFailures    prometheus.Counter
	cursor         prometheus.Gauge
	sequence       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsense",
			Subsystem: "node",
			Name:      "publishes_total",
			Help:      "Telemetry messages handed to the broker, by metric and result.",
		}, []string{"metric", "result"}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsense",
			Subsystem: "node",
			Name:      "reconnects_total",
			Help:      "Network or broker sessions re-established before a send.",
		}, []string{"kind"}),
		sensorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsense",
			Subsystem: "node",
			Name:      "sensor_read_failures_total",
			Help:      "Sensor reads replaced with 0.",
		}, []string{"sensor"}),
		ntpFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomsense",
			Subsystem: "node",
			Name:      "ntp_failures_total",
			Help:      "Failed NTP refreshes.",
		}),
		cursor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomsense",
			Subsystem: "node",
			Name:      "batch_cursor",
			Help:      "Noise samples in the current window.",
		}),
		sequence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomsense",
			Subsystem: "node",
			Name:      "sequence",
			Help:      "Sequence number of the next batch.",
		}),
	}
}

// Hooks adapts the metrics to connectivity.Manager observers.
func (m *Metrics) Hooks() connectivity.Hooks {
	if m == nil {
		return connectivity.Hooks{}
	}
	return connectivity.Hooks{
		Reconnect: func(kind string) { m.reconnects.WithLabelValues(kind).Inc() },
		Sent:      m.sent,
	}
}

func (m *Metrics) sent(topic string, err error) {
	metric, ok := entities.MetricFromTopic(topic)
	if !ok {
		metric = "unknown"
	}
	m.publishes.WithLabelValues(string(metric), result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, connectivity.ErrNetworkUnavailable):
		return "network_unavailable"
	case errors.Is(err, connectivity.ErrBrokerUnreachable):
		return "broker_unreachable"
	}
	return "error"
}

func (m *Metrics) dropped(metric entities.Metric) {
	if m != nil {
		m.publishes.WithLabelValues(string(metric), "dropped").Inc()
	}
}

// NTPFailed counts a failed time refresh; fits timesource.NTP.OnFailure.
func (m *Metrics) NTPFailed(error) {
	if m != nil {
		m.ntpFailures.Inc()
	}
}

func (m *Metrics) sensorFailed(sensor string) {
	if m != nil {
		m.sensorFailures.WithLabelValues(sensor).Inc()
	}
}

func (m *Metrics) setCursor(n int) {
	if m != nil {
		m.cursor.Set(float64(n))
	}
}

func (m *Metrics) setSequence(n int) {
	if m != nil {
		m.sequence.Set(float64(n))
	}
}
