package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/roomsense/internal/model"
	"github.com/LeonardoBeccarini/roomsense/internal/model/messages"
)

type fakeBroker bool

func (f fakeBroker) IsConnected() bool { return bool(f) }

func healthStatus(t *testing.T, h http.Handler) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthHandler(t *testing.T) {
	w := NewWriter(&fakePointWriter{}, nil)
	watch := NewWatchdog(time.Minute, nil)

	st := healthStatus(t, NewHealthHandler(fakeBroker(true), w, watch))
	assert.Equal(t, "ok", st["status"])
	assert.Equal(t, true, st["mqtt_connected"])
	assert.Equal(t, true, st["influx_ok"])
	assert.Equal(t, false, st["inactive"])

	st = healthStatus(t, NewHealthHandler(fakeBroker(false), w, watch))
	assert.Equal(t, "degraded", st["status"])
}

func TestHealthDegradedAfterWriteError(t *testing.T) {
	w := NewWriter(&fakePointWriter{err: errors.New("boom")}, nil)
	_, _ = w.Write(context.Background(), model.MetricNoise, "6", messages.Decoded{Timestamp: 1, Values: []float64{1}})

	st := healthStatus(t, NewHealthHandler(fakeBroker(true), w, nil))
	assert.Equal(t, "degraded", st["status"])
}

func TestHealthDegradedWhileInactive(t *testing.T) {
	w := NewWriter(&fakePointWriter{}, nil)
	watch := NewWatchdog(time.Second, nil)
	now := time.Unix(0, 0)
	watch.now = func() time.Time { return now }
	watch.Touch()
	now = now.Add(time.Minute)
	require.True(t, watch.Check())

	st := healthStatus(t, NewHealthHandler(fakeBroker(true), w, watch))
	assert.Equal(t, "degraded", st["status"])
	assert.Equal(t, true, st["inactive"])
}

func TestReadyHandler(t *testing.T) {
	w := NewWriter(&fakePointWriter{}, nil)

	rec := httptest.NewRecorder()
	NewReadyHandler(fakeBroker(true), w, 2*time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready": true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewReadyHandler(fakeBroker(false), w, 2*time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ready": false}`, rec.Body.String())
}
