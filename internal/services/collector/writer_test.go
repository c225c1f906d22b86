package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/roomsense/internal/model"
	"github.com/LeonardoBeccarini/roomsense/internal/model/messages"
)

type fakePointWriter struct {
	mu     sync.Mutex
	points []*write.Point
	calls  int
	err    error
}

func (f *fakePointWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, p...)
	return nil
}

func (f *fakePointWriter) written() []*write.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*write.Point(nil), f.points...)
}

func TestPoints(t *testing.T) {
	d := messages.Decoded{Timestamp: 1700000000, Sequence: 2, Values: []float64{40, 42.5}}
	points := Points(model.MetricNoise, "6", d)
	require.Len(t, points, 2)

	base := time.Unix(1700000000, 0)
	for i, p := range points {
		assert.Equal(t, "mic", p.Name())
		require.Len(t, p.TagList(), 1)
		assert.Equal(t, "device_id", p.TagList()[0].Key)
		assert.Equal(t, "6", p.TagList()[0].Value)
		require.Len(t, p.FieldList(), 1)
		assert.Equal(t, "value", p.FieldList()[0].Key)
		assert.Equal(t, d.Values[i], p.FieldList()[0].Value)
		assert.True(t, base.Add(time.Duration(i)*time.Millisecond).Equal(p.Time()))
	}
}

func TestPointsEmpty(t *testing.T) {
	assert.Empty(t, Points(model.MetricVoc, "6", messages.Decoded{Timestamp: 1}))
}

func TestWriterWrite(t *testing.T) {
	api := &fakePointWriter{}
	w := NewWriter(api, nil)

	n, err := w.Write(context.Background(), model.MetricTemperature, "6", messages.Decoded{Timestamp: 10, Values: []float64{21.25}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, api.written(), 1)
	assert.True(t, w.Available())
	assert.Greater(t, w.LastErrorAge(), time.Hour)

	n, err = w.Write(context.Background(), model.MetricTemperature, "6", messages.Decoded{Timestamp: 11})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, api.calls)
}

func TestWriterBreakerOpens(t *testing.T) {
	boom := errors.New("connection refused")
	api := &fakePointWriter{err: boom}
	w := NewWriter(api, nil)
	now := time.Unix(1000, 0)
	w.now = func() time.Time { return now }

	d := messages.Decoded{Timestamp: 10, Values: []float64{1}}
	for i := 0; i < 5; i++ {
		_, err := w.Write(context.Background(), model.MetricHumidity, "6", d)
		assert.ErrorIs(t, err, boom)
	}
	assert.False(t, w.Available())
	assert.Zero(t, w.LastErrorAge())

	_, err := w.Write(context.Background(), model.MetricHumidity, "6", d)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, api.calls)

	now = now.Add(10 * time.Second)
	assert.Equal(t, 10*time.Second, w.LastErrorAge())
}

func TestNilWriter(t *testing.T) {
	var w *Writer
	assert.False(t, w.Available())
	assert.Greater(t, w.LastErrorAge(), 24*time.Hour)
}
