package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/roomsense/internal/model"
	"github.com/LeonardoBeccarini/roomsense/internal/model/messages"
	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

// PointWriter is the subset of api.WriteAPIBlocking used by Writer.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Store persists one decoded telemetry message.
type Store interface {
	Write(ctx context.Context, metric model.Metric, deviceID string, d messages.Decoded) (int, error)
}

// Writer turns telemetry into Influx points and tracks the last write error
// for /healthz and /readyz.
type Writer struct {
	api     PointWriter
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger

	mu      sync.RWMutex
	lastErr time.Time
	now     func() time.Time
}

func NewWriter(w PointWriter, log *slog.Logger) *Writer {
	log = logging.Or(log).With("component", "influx")
	ww := &Writer{
		api: w,
		log: log,
		now: time.Now,
	}
	ww.lastErr = ww.now().Add(-24 * time.Hour) // "lontano nel tempo"
	ww.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "influx",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return ww
}

// Points builds one point per value. Array entries share the message
// timestamp and are spread by one millisecond each so Influx keeps them all.
func Points(metric model.Metric, deviceID string, d messages.Decoded) []*write.Point {
	base := time.Unix(int64(d.Timestamp), 0)
	tags := map[string]string{"device_id": deviceID}
	out := make([]*write.Point, 0, len(d.Values))
	for i, v := range d.Values {
		fields := map[string]interface{}{"value": v}
		out = append(out, influxdb2.NewPoint(string(metric), tags, fields, base.Add(time.Duration(i)*time.Millisecond)))
	}
	return out
}

// Write stores every value of d and returns how many points were written.
func (w *Writer) Write(ctx context.Context, metric model.Metric, deviceID string, d messages.Decoded) (int, error) {
	points := Points(metric, deviceID, d)
	if len(points) == 0 {
		return 0, nil
	}
	_, err := w.breaker.Execute(func() (interface{}, error) {
		return nil, w.api.WritePoint(ctx, points...)
	})
	if err != nil {
		w.mu.Lock()
		w.lastErr = w.now()
		w.mu.Unlock()
		return 0, fmt.Errorf("influx: write %s: %w", metric, err)
	}
	return len(points), nil
}

// LastErrorAge returns how long ago the last write failed.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

// Available is false while the breaker is open.
func (w *Writer) Available() bool {
	return w != nil && w.breaker.State() != gobreaker.StateOpen
}
