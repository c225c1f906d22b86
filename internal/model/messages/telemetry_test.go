package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryOmitsNilValue(t *testing.T) {
	b, err := json.Marshal(Telemetry{Timestamp: 10, Sequence: 2, Meta: Meta{DeviceID: 1}})
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"value"`)
	assert.Contains(t, string(b), `"meta":{"device_id":1}`)
}

func TestDecodeTelemetryArray(t *testing.T) {
	d, err := DecodeTelemetry([]byte(`{"timestamp": 1723037000, "value": [10, 11, 12], "sequence": 7, "meta": {"device_id": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1723037000), d.Timestamp)
	assert.Equal(t, 7, d.Sequence)
	assert.Equal(t, "1", d.DeviceID)
	assert.Equal(t, []float64{10, 11, 12}, d.Values)
}

func TestDecodeTelemetryScalarAndStringMeta(t *testing.T) {
	d, err := DecodeTelemetry([]byte(`{"timestamp": 5, "value": 23.5, "sequence": 0, "meta": "null"}`))
	require.NoError(t, err)
	assert.Equal(t, []float64{23.5}, d.Values)
	assert.Equal(t, "", d.DeviceID)
}

func TestDecodeTelemetryMissingValue(t *testing.T) {
	d, err := DecodeTelemetry([]byte(`{"timestamp": 5, "sequence": 8, "meta": {"device_id": 303}}`))
	require.NoError(t, err)
	assert.Nil(t, d.Values)
	assert.Equal(t, "303", d.DeviceID)
}

func TestDecodeTelemetryErrors(t *testing.T) {
	_, err := DecodeTelemetry([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeTelemetry([]byte(`{"value": [1]}`))
	assert.ErrorIs(t, err, ErrMissingTimestamp)

	_, err = DecodeTelemetry([]byte(`{"timestamp": 1, "value": {"a": 1}}`))
	assert.Error(t, err)
}
