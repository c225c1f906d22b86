package broker

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message received on a subscription.
type Handler func(topic string, msg mqtt.Message) error

// IConsumer subscribes and dispatches messages until ctx is cancelled.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

var _ IConsumer = (*MultiConsumer)(nil)

// MultiConsumer subscribes several topic filters with the same handler.
// Subscriptions are restored after every reconnection.
type MultiConsumer struct {
	conn    *Conn
	topics  []string
	qos     byte
	handler Handler
}

func NewMultiConsumer(conn *Conn, topics []string, qos byte, handler Handler) *MultiConsumer {
	return &MultiConsumer{conn: conn, topics: topics, qos: qos, handler: handler}
}

func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

func (m *MultiConsumer) Topics() []string { return m.topics }

func (m *MultiConsumer) subscribeAll(ctx context.Context) error {
	for _, topic := range m.topics {
		filter := topic
		err := m.conn.Subscribe(ctx, filter, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
			if m.handler == nil {
				m.conn.log.Warn("no handler set", "topic", filter)
				return
			}
			if err := m.handler(filter, msg); err != nil {
				m.conn.log.Error("handling message", "topic", msg.Topic(), "err", err)
			}
		})
		if err != nil {
			return err
		}
		m.conn.log.Info("subscribed", "topic", filter, "qos", m.qos)
	}
	return nil
}

// ConsumeMessage subscribes every topic and blocks until ctx is done, then
// unsubscribes.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) error {
	if err := m.subscribeAll(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.conn.Unsubscribe(m.topics...)
	return nil
}

// Resubscribe re-issues the subscriptions, used from Conn.OnConnect when the
// session is clean.
func (m *MultiConsumer) Resubscribe(ctx context.Context) {
	if err := m.subscribeAll(ctx); err != nil {
		m.conn.log.Error("resubscribe failed", "err", err)
	}
}
