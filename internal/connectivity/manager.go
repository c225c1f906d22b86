// Package connectivity keeps the node attached to the network and the MQTT
// broker, re-establishing either right before a send when it has dropped.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

var (
	ErrNetworkUnavailable = errors.New("connectivity: network unavailable")
	ErrBrokerUnreachable  = errors.New("connectivity: broker unreachable")
)

const (
	DefaultNetworkDelay = 5 * time.Second
	DefaultBrokerDelay  = time.Second
)

// Broker is the MQTT session used for sending. broker.Conn implements it.
type Broker interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Hooks are optional observers, used for metrics.
type Hooks struct {
	// Reconnect is called with "network" or "broker" after a re-establishment
	// triggered by Send or EnsureLink.
	Reconnect func(kind string)
	// Sent is called once per Send with its outcome.
	Sent func(topic string, err error)
}

type Manager struct {
	link         Link
	broker       Broker
	netPolicy    retry.Policy
	brokerPolicy retry.Policy
	hooks        Hooks
	log          *slog.Logger
}

type Option func(*Manager)

func WithNetworkPolicy(p retry.Policy) Option { return func(m *Manager) { m.netPolicy = p } }
func WithBrokerPolicy(p retry.Policy) Option  { return func(m *Manager) { m.brokerPolicy = p } }
func WithHooks(h Hooks) Option                { return func(m *Manager) { m.hooks = h } }

// NewManager defaults to unbounded retries, 5 s apart for the network and
// 1 s apart for the broker.
func NewManager(link Link, broker Broker, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		link:         link,
		broker:       broker,
		netPolicy:    retry.Forever(DefaultNetworkDelay),
		brokerPolicy: retry.Forever(DefaultBrokerDelay),
		log:          logging.Or(log).With("component", "connectivity"),
	}
	for _, o := range opts {
		o(m)
	}
	if m.netPolicy.Logger == nil {
		m.netPolicy.Logger = m.log
	}
	if m.brokerPolicy.Logger == nil {
		m.brokerPolicy.Logger = m.log
	}
	return m
}

// ConnectNetwork blocks until the link is up, retrying association per the
// network policy.
func (m *Manager) ConnectNetwork(ctx context.Context) error {
	return m.netPolicy.Do(ctx, "network", func(ctx context.Context) error {
		if m.link.Up() {
			return nil
		}
		if err := m.link.Associate(ctx); err != nil {
			if errors.Is(err, ErrNetworkUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
		}
		return nil
	})
}

// ConnectBroker blocks until the broker handshake succeeds, retrying per the
// broker policy.
func (m *Manager) ConnectBroker(ctx context.Context) error {
	return m.brokerPolicy.Do(ctx, "broker", func(ctx context.Context) error {
		if m.broker.IsConnected() {
			return nil
		}
		if err := m.broker.Connect(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
		}
		return nil
	})
}

// EnsureLink re-associates the network if it has dropped.
func (m *Manager) EnsureLink(ctx context.Context) error {
	if m.link.Up() {
		return nil
	}
	m.log.Warn("network link down, reconnecting")
	if err := m.ConnectNetwork(ctx); err != nil {
		return err
	}
	m.reconnected("network")
	return nil
}

// Connected reports link and broker state without side effects.
func (m *Manager) Connected() bool {
	return m.link.Up() && m.broker.IsConnected()
}

// Send checks the link and the broker session, re-establishing whichever is
// down, then publishes once. The publish itself is never retried; the error
// is returned for logging only.
func (m *Manager) Send(ctx context.Context, topic string, payload []byte) (err error) {
	defer func() {
		if m.hooks.Sent != nil {
			m.hooks.Sent(topic, err)
		}
	}()
	if err := m.EnsureLink(ctx); err != nil {
		return err
	}
	if !m.broker.IsConnected() {
		m.log.Warn("broker session down, reconnecting")
		if err := m.ConnectBroker(ctx); err != nil {
			return err
		}
		m.reconnected("broker")
	}
	if err := m.broker.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("send %s: %w", topic, err)
	}
	return nil
}

func (m *Manager) reconnected(kind string) {
	m.log.Info("reconnected", "kind", kind)
	if m.hooks.Reconnect != nil {
		m.hooks.Reconnect(kind)
	}
}
