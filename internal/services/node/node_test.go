package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/roomsense/internal/model"
	"github.com/LeonardoBeccarini/roomsense/internal/sensors"
	"github.com/LeonardoBeccarini/roomsense/pkg/broker"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

func testConfig() Config {
	return Config{
		Device:      model.Device{RoomID: 303, BaseTopic: "rooms"},
		Broker:      broker.Config{Host: "127.0.0.1", Port: 1},
		Batch:       DefaultBatcherConfig(),
		NetRetry:    retry.Forever(time.Millisecond),
		BrokerRetry: retry.Bounded(1, time.Millisecond),
	}
}

func TestNewRejectsBadInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.Interval = 10 * time.Millisecond
	_, err := New(cfg, sensors.NewSimulated(1).Sources(), nil)
	assert.Error(t, err)
}

func TestNodeHandler(t *testing.T) {
	n, err := New(testConfig(), sensors.NewSimulated(1).Sources(), nil)
	require.NoError(t, err)
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	res, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	n.batcher.Tick(context.Background())
	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
