package collector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (f *fakeSink) SendAlert(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return f.err
}

func (f *fakeSink) all() []Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Alert(nil), f.alerts...)
}

func newTestNotifier(sink AlertSink, cooldown time.Duration) (*Notifier, *Metrics, *time.Time) {
	m := NewMetrics(prometheus.NewRegistry())
	n := NewNotifier(sink, cooldown, m, nil)
	now := time.Unix(1700000000, 0)
	n.now = func() time.Time { return now }
	return n, m, &now
}

func TestNotifierSequenceCooldownPerTopic(t *testing.T) {
	sink := &fakeSink{}
	n, m, now := newTestNotifier(sink, time.Minute)
	ctx := context.Background()

	assert.True(t, n.SequenceAnomaly(ctx, "base/temp/6", 5, 7, 4))
	assert.False(t, n.SequenceAnomaly(ctx, "base/temp/6", 8, 10, 7))
	assert.True(t, n.SequenceAnomaly(ctx, "base/hum/6", 2, 0, 1))

	*now = now.Add(time.Minute)
	assert.True(t, n.SequenceAnomaly(ctx, "base/temp/6", 11, 13, 10))

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, AlertSequence, got[0].Kind)
	assert.Equal(t, "base/temp/6", got[0].Topic)
	assert.Equal(t, map[string]any{"expected": 5, "received": 7, "last_good": 4}, got[0].Fields)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got[0].Time)
	assert.Equal(t, "base/hum/6", got[1].Topic)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.alerts.WithLabelValues(AlertSequence, alertSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues(AlertSequence, alertSuppressed)))
}

func TestNotifierInactivityIgnoresCooldown(t *testing.T) {
	sink := &fakeSink{}
	n, _, _ := newTestNotifier(sink, time.Hour)
	ctx := context.Background()

	assert.True(t, n.Inactivity(ctx, 301*time.Second))
	assert.True(t, n.Recovery(ctx, 320*time.Second))
	assert.True(t, n.Inactivity(ctx, 300*time.Second))

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, []string{AlertInactivity, AlertRecovery, AlertInactivity}, []string{got[0].Kind, got[1].Kind, got[2].Kind})
	assert.Equal(t, 301, got[0].Fields["inactive_seconds"])
	assert.Equal(t, 320, got[1].Fields["recovered_after_seconds"])
	assert.Equal(t, "error", got[0].Severity)
	assert.Equal(t, "info", got[1].Severity)
}

func TestNotifierWithoutSink(t *testing.T) {
	n, m, _ := newTestNotifier(nil, time.Minute)
	assert.False(t, n.Inactivity(context.Background(), time.Minute))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues(AlertInactivity, alertSkipped)))

	var none *Notifier
	assert.False(t, none.SequenceAnomaly(context.Background(), "t", 1, 3, 0))
}

func TestNotifierDeliveryFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("not connected")}
	n, m, _ := newTestNotifier(sink, time.Minute)
	assert.True(t, n.Recovery(context.Background(), time.Minute))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues(AlertRecovery, alertFailed)))
}

type fakeTopicPublisher struct {
	topic   string
	payload []byte
}

func (f *fakeTopicPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.topic, f.payload = topic, payload
	return nil
}

func TestMQTTAlertSink(t *testing.T) {
	pub := &fakeTopicPublisher{}
	sink := NewMQTTAlertSink(pub, "roomsense/alerts/")
	require.NoError(t, sink.SendAlert(context.Background(), Alert{
		Kind:     AlertSequence,
		Severity: "warning",
		Topic:    "roomsense/co2/6",
		Fields:   map[string]any{"expected": 3},
		Time:     time.Unix(0, 0).UTC(),
	}))
	assert.Equal(t, "roomsense/alerts/sequence", pub.topic)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, "sequence", got["kind"])
	assert.Equal(t, "roomsense/co2/6", got["topic"])
	assert.Equal(t, map[string]any{"expected": 3.0}, got["fields"])
	assert.Equal(t, "1970-01-01T00:00:00Z", got["timestamp"])
}
