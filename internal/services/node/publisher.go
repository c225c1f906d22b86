package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LeonardoBeccarini/roomsense/internal/model/entities"
	"github.com/LeonardoBeccarini/roomsense/internal/model/messages"
	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

// DefaultCapacity is the largest serialised message the node sends.
const DefaultCapacity = 8192

var ErrPayloadTooLarge = errors.New("node: payload exceeds capacity")

// Sender transmits one payload. connectivity.Manager implements it.
type Sender interface {
	Send(ctx context.Context, topic string, payload []byte) error
}

// TelemetryPublisher is what the batcher publishes through.
type TelemetryPublisher interface {
	PublishNoise(ctx context.Context, ts uint64, values []int, seq int) error
	PublishVoc(ctx context.Context, ts uint64, values []int, seq int) error
	PublishTemperature(ctx context.Context, ts uint64, value float64, seq int) error
	PublishHumidity(ctx context.Context, ts uint64, value float64, seq int) error
}

// Publisher serialises telemetry messages and hands them to a Sender on
// <base>/<metric>/<room_id>.
type Publisher struct {
	sender   Sender
	device   entities.Device
	capacity int
	metrics  *Metrics
	log      *slog.Logger
}

func NewPublisher(sender Sender, device entities.Device, capacity int, log *slog.Logger) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{
		sender:   sender,
		device:   device,
		capacity: capacity,
		log:      logging.Or(log).With("component", "publisher"),
	}
}

// SetMetrics counts messages dropped before transmission.
func (p *Publisher) SetMetrics(m *Metrics) { p.metrics = m }

// PublishNoise sends the noise window. An empty window omits "value".
func (p *Publisher) PublishNoise(ctx context.Context, ts uint64, values []int, seq int) error {
	return p.publish(ctx, entities.MetricNoise, ts, ints(values), seq)
}

// PublishVoc sends the VOC window. An empty window omits "value".
func (p *Publisher) PublishVoc(ctx context.Context, ts uint64, values []int, seq int) error {
	return p.publish(ctx, entities.MetricVoc, ts, ints(values), seq)
}

// PublishTemperature sends a single reading as a one-element array.
func (p *Publisher) PublishTemperature(ctx context.Context, ts uint64, value float64, seq int) error {
	return p.publish(ctx, entities.MetricTemperature, ts, []float64{value}, seq)
}

// PublishHumidity sends a single reading, truncated to whole percent, as a
// one-element array.
func (p *Publisher) PublishHumidity(ctx context.Context, ts uint64, value float64, seq int) error {
	return p.publish(ctx, entities.MetricHumidity, ts, []int{int(value)}, seq)
}

// ints keeps a nil interface for empty windows so the value key is dropped.
func ints(v []int) any {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Encode builds the pretty-printed body of one message.
func (p *Publisher) Encode(ts uint64, value any, seq int) ([]byte, error) {
	msg := messages.Telemetry{
		Timestamp: ts,
		Value:     value,
		Sequence:  seq,
		Meta:      messages.Meta{DeviceID: p.device.RoomID},
	}
	b, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	if len(b) > p.capacity {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(b), p.capacity)
	}
	return b, nil
}

func (p *Publisher) publish(ctx context.Context, metric entities.Metric, ts uint64, value any, seq int) error {
	topic := p.device.Topic(metric)
	payload, err := p.Encode(ts, value, seq)
	if err != nil {
		p.log.Error("message dropped", "topic", topic, "sequence", seq, "err", err)
		p.metrics.dropped(metric)
		return err
	}
	if err := p.sender.Send(ctx, topic, payload); err != nil {
		p.log.Warn("publish failed", "topic", topic, "sequence", seq, "err", err)
		return err
	}
	p.log.Debug("published", "topic", topic, "sequence", seq, "bytes", len(payload))
	return nil
}
