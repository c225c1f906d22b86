package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceTopic(t *testing.T) {
	d := Device{RoomID: 303, BaseTopic: "dhbw/ai/si2023/6"}

	assert.Equal(t, "dhbw/ai/si2023/6/temp/303", d.Topic(MetricTemperature))
	assert.Equal(t, "dhbw/ai/si2023/6/hum/303", d.Topic(MetricHumidity))
	assert.Equal(t, "dhbw/ai/si2023/6/co2/303", d.Topic(MetricVoc))
	assert.Equal(t, "dhbw/ai/si2023/6/mic/303", d.Topic(MetricNoise))
}

func TestDeviceTopicTrailingSlash(t *testing.T) {
	d := Device{RoomID: 1, BaseTopic: "base/"}
	assert.Equal(t, "base/mic/1", d.Topic(MetricNoise))
}

func TestDeviceTopics(t *testing.T) {
	d := Device{RoomID: 7, BaseTopic: "b"}
	topics := d.Topics()
	assert.Len(t, topics, 4)
	assert.Equal(t, "b/co2/7", topics[MetricVoc])
}

func TestMetricFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  Metric
		ok    bool
	}{
		{"dhbw/ai/si2023/6/co2/303", MetricVoc, true},
		{"b/mic/1", MetricNoise, true},
		{"b/unknown/1", "", false},
		{"mic", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.topic, func(t *testing.T) {
			got, ok := MetricFromTopic(tc.topic)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
