package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeonardoBeccarini/roomsense/internal/model"
)

// Results counted by messages_total.
const (
	resultOK         = "ok"
	resultDuplicate  = "duplicate"
	resultInvalid    = "invalid"
	resultEmpty      = "empty"
	resultWriteError = "write_error"
)

// Results counted by alerts_total.
const (
	alertSent       = "sent"
	alertSuppressed = "suppressed"
	alertSkipped    = "skipped"
	alertFailed     = "failed"
)

// Metrics are the collector's Prometheus collectors. A nil *Metrics is valid.
type Metrics struct {
	messages *prometheus.CounterVec
	points   *prometheus.CounterVec
	gaps     *prometheus.CounterVec
	inactive prometheus.Gauge
	alerts   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsense",
			Subsystem: "collector",
			Name:      "messages_total",
			Help:      "Telemetry messages received, by metric and result.",
		}, []string{"metric", "result"}),
		points: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsense",
			Subsystem: "collector",
			Name:      "points_written_total",
			Help:      "Points written to InfluxDB.",
		}, []string{"metric"}),
		gaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsense",
			Subsystem: "collector",
			Name:      "sequence_gaps_total",
			Help:      "Messages whose sequence did not follow the previous one.",
		}, []string{"metric"}),
		inactive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomsense",
			Subsystem: "collector",
			Name:      "inactive",
			Help:      "1 while the inactivity alert is active.",
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsense",
			Subsystem: "collector",
			Name:      "alerts_total",
			Help:      "Operator alerts, by kind and delivery result.",
		}, []string{"kind", "result"}),
	}
}

func (m *Metrics) message(metric model.Metric, result string) {
	if m != nil {
		m.messages.WithLabelValues(string(metric), result).Inc()
	}
}

func (m *Metrics) written(metric model.Metric, n int) {
	if m != nil && n > 0 {
		m.points.WithLabelValues(string(metric)).Add(float64(n))
	}
}

func (m *Metrics) gap(metric model.Metric) {
	if m != nil {
		m.gaps.WithLabelValues(string(metric)).Inc()
	}
}

func (m *Metrics) alert(kind, result string) {
	if m != nil {
		m.alerts.WithLabelValues(kind, result).Inc()
	}
}

// SetInactive records the watchdog state.
func (m *Metrics) SetInactive(inactive bool) {
	if m == nil {
		return
	}
	if inactive {
		m.inactive.Set(1)
	} else {
		m.inactive.Set(0)
	}
}
