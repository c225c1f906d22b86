package broker

import (
	"context"
	"fmt"
)

// IPublisher publishes messages on a fixed topic.
type IPublisher interface {
	PublishMessage(ctx context.Context, message any) error
}

// Publisher binds a Conn to a topic.
type Publisher struct {
	conn  *Conn
	topic string
}

func NewPublisher(conn *Conn, topic string) *Publisher {
	return &Publisher{conn: conn, topic: topic}
}

func (p *Publisher) Topic() string { return p.topic }

// PublishMessage accepts string or []byte payloads.
func (p *Publisher) PublishMessage(ctx context.Context, message any) error {
	var payload []byte
	switch m := message.(type) {
	case []byte:
		payload = m
	case string:
		payload = []byte(m)
	default:
		return fmt.Errorf("broker: invalid message type %T, expected string or []byte", message)
	}
	if err := p.conn.Publish(ctx, p.topic, payload); err != nil {
		return err
	}
	p.conn.log.Debug("message published", "topic", p.topic, "bytes", len(payload))
	return nil
}
