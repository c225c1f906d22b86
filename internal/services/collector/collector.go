// Package collector subscribes to the room telemetry topics and persists
// every reading to InfluxDB.
package collector

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/roomsense/internal/model"
	"github.com/LeonardoBeccarini/roomsense/internal/model/entities"
	"github.com/LeonardoBeccarini/roomsense/internal/model/messages"
	"github.com/LeonardoBeccarini/roomsense/pkg/broker"
	"github.com/LeonardoBeccarini/roomsense/pkg/dedup"
	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

// Topics returns one wildcard filter per metric under base, e.g.
// "<base>/co2/#".
func Topics(base string) []string {
	base = strings.TrimRight(base, "/")
	out := make([]string, 0, len(entities.Metrics))
	for _, m := range []model.Metric{model.MetricVoc, model.MetricNoise, model.MetricHumidity, model.MetricTemperature} {
		out = append(out, base+"/"+string(m)+"/#")
	}
	return out
}

// Collector validates, de-duplicates and stores incoming telemetry.
type Collector struct {
	store   Store
	dedup   *dedup.Deduper
	watch   *Watchdog
	metrics *Metrics
	alerts  *Notifier
	log     *slog.Logger

	mu     sync.Mutex
	last   map[string]int     // topic -> last sequence seen
	latest map[string]Reading // metric/device -> last value
}

func NewCollector(store Store, d *dedup.Deduper, watch *Watchdog, metrics *Metrics, log *slog.Logger) *Collector {
	return &Collector{
		store:   store,
		dedup:   d,
		watch:   watch,
		metrics: metrics,
		log:     logging.Or(log).With("component", "collector"),
		last:    make(map[string]int),
		latest:  make(map[string]Reading),
	}
}

// SetNotifier routes sequence anomalies to n.
func (c *Collector) SetNotifier(n *Notifier) {
	c.alerts = n
}

// Handler adapts Handle to a broker subscription.
func (c *Collector) Handler(ctx context.Context) broker.Handler {
	return func(_ string, msg mqtt.Message) error {
		return c.Handle(ctx, msg.Topic(), msg.Payload())
	}
}

// Handle processes one message. Bad payloads are logged and dropped; only
// storage failures are returned.
func (c *Collector) Handle(ctx context.Context, topic string, payload []byte) error {
	if c.watch != nil {
		c.watch.Touch()
	}

	metric, ok := entities.MetricFromTopic(topic)
	if !ok {
		c.log.Warn("message on unknown topic", "topic", topic)
		return nil
	}

	d, err := messages.DecodeTelemetry(payload)
	if err != nil {
		c.log.Error("undecodable payload", "topic", topic, "payload", string(payload), "err", err)
		c.metrics.message(metric, resultInvalid)
		return nil
	}

	if c.dedup != nil && !c.dedup.ShouldProcess(dedup.Key(topic, d.Sequence, d.Timestamp)) {
		c.log.Debug("duplicate dropped", "topic", topic, "sequence", d.Sequence)
		c.metrics.message(metric, resultDuplicate)
		return nil
	}

	c.checkSequence(ctx, topic, metric, d.Sequence)

	if len(d.Values) == 0 {
		c.log.Warn("message without values", "topic", topic, "sequence", d.Sequence)
		c.metrics.message(metric, resultEmpty)
		return nil
	}

	deviceID := d.DeviceID
	if deviceID == "" {
		deviceID = roomFromTopic(topic)
	}
	c.remember(metric, deviceID, d.Timestamp, d.Values)

	n, err := c.store.Write(ctx, metric, deviceID, d)
	if err != nil {
		c.metrics.message(metric, resultWriteError)
		return err
	}
	c.metrics.message(metric, resultOK)
	c.metrics.written(metric, n)
	c.log.Debug("stored", "topic", topic, "sequence", d.Sequence, "points", n)
	return nil
}

// checkSequence warns and alerts when a topic's sequence does not follow the
// previous message. The first message of a topic only sets the baseline.
func (c *Collector) checkSequence(ctx context.Context, topic string, metric model.Metric, seq int) {
	c.mu.Lock()
	prev, seen := c.last[topic]
	c.last[topic] = seq
	c.mu.Unlock()

	if seen && seq != prev+1 {
		c.log.Warn("sequence interrupted", "topic", topic, "expected", prev+1, "got", seq)
		c.metrics.gap(metric)
		c.alerts.SequenceAnomaly(ctx, topic, prev+1, seq, prev)
	}
}

// LastSequence returns the last sequence seen on topic.
func (c *Collector) LastSequence(topic string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq, ok := c.last[topic]
	return seq, ok
}

func roomFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	return parts[len(parts)-1]
}
