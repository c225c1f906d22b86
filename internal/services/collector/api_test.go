package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	readings []Reading
	err      error
	got      LatestQuery
}

func (f *fakeQuerier) Latest(_ context.Context, q LatestQuery) ([]Reading, error) {
	f.got = q
	return f.readings, f.err
}

func getLatest(t *testing.T, h http.Handler, query string) (*httptest.ResponseRecorder, []Reading) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telemetry/latest"+query, nil))
	if rec.Code != http.StatusOK {
		return rec, nil
	}
	var out []Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func seededCollector(t *testing.T) *Collector {
	t.Helper()
	c, _ := newTestCollector(&fakeStore{})
	for topic, payload := range map[string]string{
		"base/temp/6": `{"timestamp": 1700000000, "value": [21.5], "sequence": 0, "meta": {"device_id": 6}}`,
		"base/mic/6":  `{"timestamp": 1700000000, "value": [40, 44], "sequence": 0, "meta": {"device_id": 6}}`,
		"base/temp/7": `{"timestamp": 1700000001, "value": [19], "sequence": 0, "meta": {"device_id": 7}}`,
	} {
		require.NoError(t, c.Handle(context.Background(), topic, []byte(payload)))
	}
	return c
}

func TestLatestFromInflux(t *testing.T) {
	q := &fakeQuerier{readings: []Reading{{Metric: "temp", DeviceID: "6", Value: 22, Time: "2024-01-01T00:00:00Z"}}}
	rec, out := getLatest(t, NewLatestHandler(q, seededCollector(t), nil), "?metric=temp&device=6&minutes=30&limit=5")

	assert.Equal(t, "influx", rec.Header().Get("X-Data-Source"))
	assert.Equal(t, q.readings, out)
	assert.Equal(t, LatestQuery{Metric: "temp", DeviceID: "6", Minutes: 30, Limit: 5}, q.got)
}

func TestLatestFallsBackToCache(t *testing.T) {
	q := &fakeQuerier{err: errors.New("timeout")}
	rec, out := getLatest(t, NewLatestHandler(q, seededCollector(t), nil), "?metric=temp")

	assert.Equal(t, "cache", rec.Header().Get("X-Data-Source"))
	assert.Equal(t, "influx-query-error", rec.Header().Get("X-Error"))
	require.Len(t, out, 2)
	assert.Equal(t, Reading{Metric: "temp", DeviceID: "6", Value: 21.5, Time: "2023-11-14T22:13:20Z"}, out[0])
	assert.Equal(t, "7", out[1].DeviceID)
}

func TestLatestCacheOnly(t *testing.T) {
	q := &fakeQuerier{}
	rec, out := getLatest(t, NewLatestHandler(q, seededCollector(t), nil), "?source=cache&device=6")

	assert.Equal(t, "cache", rec.Header().Get("X-Data-Source"))
	require.Len(t, out, 2)
	assert.Equal(t, "mic", out[0].Metric)
	assert.Equal(t, 44.0, out[0].Value)
	assert.Zero(t, q.got.Limit, "querier must not be called")
}

func TestLatestClampsParams(t *testing.T) {
	q := &fakeQuerier{readings: []Reading{{Metric: "hum"}}}
	_, _ = getLatest(t, NewLatestHandler(q, seededCollector(t), nil), "?minutes=0&limit=9999")
	assert.Equal(t, 1, q.got.Minutes)
	assert.Equal(t, 500, q.got.Limit)
}

func TestLatestRejectsBadParams(t *testing.T) {
	h := NewLatestHandler(&fakeQuerier{}, seededCollector(t), nil)
	rec, _ := getLatest(t, h, "?metric=pressure")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = getLatest(t, h, "?source=disk")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestRejectsUnsafeDevice(t *testing.T) {
	q := &fakeQuerier{}
	h := NewLatestHandler(q, seededCollector(t), nil)
	for _, dev := range []string{`6" or true or "`, "${x}", `6\\`, "a b"} {
		rec, _ := getLatest(t, h, "?device="+url.QueryEscape(dev))
		assert.Equal(t, http.StatusBadRequest, rec.Code, dev)
	}
	assert.Empty(t, q.got.DeviceID, "querier must not be called")

	rec, _ := getLatest(t, h, "?device=lab-2")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildFlux(t *testing.T) {
	flux := buildFlux("telemetry", LatestQuery{Metric: "co2", DeviceID: "6", Minutes: 15, Limit: 3})
	assert.Contains(t, flux, `from(bucket: "telemetry")`)
	assert.Contains(t, flux, `range(start: -15m)`)
	assert.Contains(t, flux, `r._measurement == "co2"`)
	assert.Contains(t, flux, `r.device_id == "6"`)
	assert.Contains(t, flux, `limit(n:3)`)

	flux = buildFlux("telemetry", LatestQuery{Minutes: 60, Limit: 20})
	assert.NotContains(t, flux, "_measurement ==")
	assert.NotContains(t, flux, "device_id ==")
}

func TestLatestClassifiesReadings(t *testing.T) {
	q := &fakeQuerier{readings: []Reading{
		{Metric: "temp", DeviceID: "6", Value: 22},
		{Metric: "temp", DeviceID: "6", Value: 25.5},
		{Metric: "hum", DeviceID: "6", Value: 85},
	}}
	_, out := getLatest(t, NewLatestHandler(q, seededCollector(t), DefaultRanges()), "?device=6")

	require.Len(t, out, 3)
	assert.Equal(t, []string{StatusOptimal, StatusWarning, StatusCritical}, []string{out[0].Status, out[1].Status, out[2].Status})
	assert.Empty(t, q.readings[0].Status)
}
