package node

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/roomsense/internal/connectivity"
)

type connFlag bool

func (c connFlag) Connected() bool { return bool(c) }

type syncFlag bool

func (s syncFlag) Synced() bool { return bool(s) }

func TestHealthHandler(t *testing.T) {
	b, _ := newTestBatcher(t, &fakeSensors{}, nil)
	b.Tick(context.Background())

	cases := []struct {
		conn, sync bool
		want       string
	}{
		{true, true, "ok"},
		{true, false, "degraded"},
		{false, true, "degraded"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		NewHealthHandler(connFlag(tc.conn), syncFlag(tc.sync), b).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.want, body["status"])
		assert.Equal(t, "ACCUMULATING", body["phase"])
		assert.Equal(t, 1.0, body["cursor"])
	}
}

func TestReadyHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewReadyHandler(connFlag(false)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ready":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewReadyHandler(connFlag(true)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true}`, rec.Body.String())
}

func TestGrpcHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	g := NewGrpcHealth(connFlag(true), nil)
	done := make(chan error, 1)
	go func() { done <- g.Serve(ctx, lis) }()

	cc, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer cc.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(cc).Check(callCtx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	assert.NoError(t, <-done)
}

func TestMetricsHooks(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := m.Hooks()
	h.Sent("b/mic/1", nil)
	h.Sent("b/mic/1", connectivity.ErrBrokerUnreachable)
	h.Sent("b/hum/1", assert.AnError)
	h.Reconnect("broker")
	m.dropped("temp")
	m.NTPFailed(assert.AnError)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("mic", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("mic", "broker_unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("hum", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("temp", "dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues("broker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ntpFailures))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.setCursor(3)
		nilMetrics.sensorFailed("voc")
		nilMetrics.NTPFailed(nil)
		nilMetrics.Hooks()
	})
}
