package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

const DefaultAlertCooldown = 300 * time.Second

// Alert kinds, also the last segment of the alert topic.
const (
	AlertInactivity = "inactivity"
	AlertRecovery   = "recovery"
	AlertSequence   = "sequence"
)

// Alert is an operator notification published as JSON.
type Alert struct {
	Kind     string         `json:"kind"`
	Severity string         `json:"severity"` // info|warning|error
	Subject  string         `json:"subject"`
	Message  string         `json:"message"`
	Topic    string         `json:"topic,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	Time     time.Time      `json:"timestamp"`
}

// AlertSink delivers alerts somewhere an operator will see them.
type AlertSink interface {
	SendAlert(ctx context.Context, a Alert) error
}

type topicPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTTAlertSink publishes every alert on "<prefix>/<kind>".
type MQTTAlertSink struct {
	pub    topicPublisher
	prefix string
}

func NewMQTTAlertSink(pub topicPublisher, prefix string) *MQTTAlertSink {
	return &MQTTAlertSink{pub: pub, prefix: strings.TrimRight(prefix, "/")}
}

func (s *MQTTAlertSink) SendAlert(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alert: encode: %w", err)
	}
	return s.pub.Publish(ctx, s.prefix+"/"+a.Kind, payload)
}

// Notifier rate-limits alerts per key. Inactivity and recovery alerts are
// sent on every transition; sequence anomalies at most once per topic per
// cooldown. A nil *Notifier only drops alerts.
type Notifier struct {
	sink     AlertSink
	cooldown time.Duration
	timeout  time.Duration
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewNotifier builds a notifier. A nil sink logs the alerts without
// delivering them.
func NewNotifier(sink AlertSink, cooldown time.Duration, metrics *Metrics, log *slog.Logger) *Notifier {
	if cooldown <= 0 {
		cooldown = DefaultAlertCooldown
	}
	n := &Notifier{
		sink:     sink,
		cooldown: cooldown,
		timeout:  5 * time.Second,
		metrics:  metrics,
		log:      logging.Or(log).With("component", "alerting"),
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
	if sink == nil {
		n.log.Warn("alerting disabled: no sink configured")
	}
	return n
}

// Inactivity reports that no telemetry arrived for idle.
func (n *Notifier) Inactivity(ctx context.Context, idle time.Duration) bool {
	secs := int(idle.Seconds())
	return n.notify(ctx, AlertInactivity, true, Alert{
		Kind:     AlertInactivity,
		Severity: "error",
		Subject:  "MQTT inactivity alert",
		Message:  fmt.Sprintf("No MQTT messages received for %d seconds. Check broker, network and nodes.", secs),
		Fields:   map[string]any{"inactive_seconds": secs},
	})
}

// Recovery reports that traffic resumed after a silence of after.
func (n *Notifier) Recovery(ctx context.Context, after time.Duration) bool {
	secs := int(after.Seconds())
	return n.notify(ctx, AlertRecovery, true, Alert{
		Kind:     AlertRecovery,
		Severity: "info",
		Subject:  "MQTT inactivity recovery",
		Message:  fmt.Sprintf("MQTT traffic resumed after %d seconds of inactivity.", secs),
		Fields:   map[string]any{"recovered_after_seconds": secs},
	})
}

// SequenceAnomaly reports a message whose sequence did not follow lastGood.
func (n *Notifier) SequenceAnomaly(ctx context.Context, topic string, expected, received, lastGood int) bool {
	return n.notify(ctx, "seq:"+topic, false, Alert{
		Kind:     AlertSequence,
		Severity: "warning",
		Subject:  "MQTT sequence anomaly",
		Message:  fmt.Sprintf("Sequence anomaly on %s: expected %d, received %d.", topic, expected, received),
		Topic:    topic,
		Fields: map[string]any{
			"expected":  expected,
			"received":  received,
			"last_good": lastGood,
		},
	})
}

// notify reports whether a is handed to the sink.
func (n *Notifier) notify(ctx context.Context, key string, force bool, a Alert) bool {
	if n == nil {
		return false
	}
	if !force && !n.allow(key) {
		n.metrics.alert(a.Kind, alertSuppressed)
		return false
	}
	a.Time = n.now().UTC()
	if n.sink == nil {
		n.log.Info("alert not delivered", "kind", a.Kind, "subject", a.Subject, "message", a.Message)
		n.metrics.alert(a.Kind, alertSkipped)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.sink.SendAlert(ctx, a); err != nil {
		n.log.Error("alert delivery failed", "kind", a.Kind, "err", err)
		n.metrics.alert(a.Kind, alertFailed)
		return true
	}
	n.log.Info("alert sent", "kind", a.Kind, "subject", a.Subject)
	n.metrics.alert(a.Kind, alertSent)
	return true
}

func (n *Notifier) allow(key string) bool {
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.last[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.last[key] = now
	return true
}
