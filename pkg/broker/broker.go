// Package broker wraps the paho MQTT client used by the node and the
// collector.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

var (
	ErrNotConnected    = errors.New("broker: not connected")
	ErrPayloadTooLarge = errors.New("broker: payload exceeds limit")
)

// DefaultMaxPayload mirrors the transmit buffer the node firmware used.
const DefaultMaxPayload = 8001

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	// ClientID defaults to "roomsense-<random>" when empty.
	ClientID       string
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// AutoReconnect lets paho restore the session on its own. The node leaves
	// it off and reconnects explicitly before each send.
	AutoReconnect bool
	QoS           byte
	// MaxPayload <= 0 disables the size check.
	MaxPayload int
}

func (c Config) URL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Conn is a lazily connected MQTT session.
type Conn struct {
	cfg    Config
	client mqtt.Client
	log    *slog.Logger
	onUp   []func()
}

// NewConn builds the client without dialing. Call Connect or use Dial.
func NewConn(cfg Config, log *slog.Logger) *Conn {
	if cfg.ClientID == "" {
		cfg.ClientID = "roomsense-" + uuid.NewString()[:8]
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	c := &Conn{cfg: cfg, log: logging.Or(log).With("component", "broker", "broker", cfg.URL())}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL())
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.log.Info("connected", "client_id", cfg.ClientID)
		for _, fn := range c.onUp {
			fn()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn("connection lost", "err", err)
	})
	c.client = mqtt.NewClient(opts)
	return c
}

// OnConnect registers fn to run after every successful (re)connection.
// Must be called before the first Connect.
func (c *Conn) OnConnect(fn func()) {
	c.onUp = append(c.onUp, fn)
}

func (c *Conn) Config() Config { return c.cfg }

// Client exposes the underlying paho client.
func (c *Conn) Client() mqtt.Client { return c.client }

// Connect performs a single handshake attempt.
func (c *Conn) Connect(ctx context.Context) error {
	if err := wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("broker: connect %s: %w", c.cfg.URL(), err)
	}
	return nil
}

func (c *Conn) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends payload on topic with the configured QoS. It does not retry.
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.cfg.MaxPayload > 0 && len(payload) > c.cfg.MaxPayload {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), c.cfg.MaxPayload)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(ctx, c.client.Publish(topic, c.cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("broker: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler on topic and waits for the SUBACK.
func (c *Conn) Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error {
	if err := wait(ctx, c.client.Subscribe(topic, qos, handler)); err != nil {
		return fmt.Errorf("broker: subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *Conn) Unsubscribe(topics ...string) {
	if len(topics) == 0 {
		return
	}
	c.client.Unsubscribe(topics...).WaitTimeout(time.Second)
}

func (c *Conn) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.log.Info("disconnected")
	}
}

// Dial connects with exponential backoff, giving up after maxRetries
// attempts or when ctx is done.
func Dial(ctx context.Context, cfg Config, maxRetries int, log *slog.Logger) (*Conn, error) {
	c := NewConn(cfg, log)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	var b backoff.BackOff = bo
	if maxRetries > 0 {
		b = backoff.WithMaxRetries(bo, uint64(maxRetries-1))
	}

	err := backoff.RetryNotify(func() error {
		return c.Connect(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		c.log.Warn("connect failed", "retry_in", next, "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("broker: could not establish connection: %w", err)
	}

	go func() {
		<-ctx.Done()
		c.Disconnect()
	}()
	return c, nil
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
