package broker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startBroker spins up an in-process MQTT broker and returns its port.
func startBroker(t *testing.T) int {
	t.Helper()
	port := freePort(t)
	srv := mochi.New(nil)
	require.NoError(t, srv.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, srv.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Type:    "tcp",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})))
	require.NoError(t, srv.Serve())
	t.Cleanup(func() { _ = srv.Close() })
	return port
}

func TestConfigURL(t *testing.T) {
	assert.Equal(t, "tcp://broker.local:1883", Config{Host: "broker.local", Port: 1883}.URL())
}

func TestNewConnDefaults(t *testing.T) {
	c := NewConn(Config{Host: "localhost", Port: 1}, nil)
	assert.True(t, strings.HasPrefix(c.Config().ClientID, "roomsense-"))
	assert.Equal(t, 30*time.Second, c.Config().KeepAlive)
	assert.False(t, c.IsConnected())
}

func TestPublishRejectsOversizePayload(t *testing.T) {
	c := NewConn(Config{Host: "localhost", Port: 1, MaxPayload: 4}, nil)
	err := c.Publish(context.Background(), "t", []byte("12345"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPublishWhenDisconnected(t *testing.T) {
	c := NewConn(Config{Host: "localhost", Port: 1}, nil)
	err := c.Publish(context.Background(), "t", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDialGivesUp(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, Config{Host: "127.0.0.1", Port: port, ConnectTimeout: 200 * time.Millisecond}, 2, nil)
	assert.Error(t, err)
}

func TestPublishAndConsume(t *testing.T) {
	port := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := Config{Host: "127.0.0.1", Port: port, CleanSession: true, QoS: 1}
	sub, err := Dial(ctx, cfg, 3, nil)
	require.NoError(t, err)
	defer sub.Disconnect()

	got := make(chan string, 64)
	consumer := NewMultiConsumer(sub, []string{"rooms/+/mic/#"}, 1, func(topic string, msg mqtt.Message) error {
		got <- msg.Topic() + " " + string(msg.Payload())
		return nil
	})
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.ConsumeMessage(consumeCtx) }()

	pubConn, err := Dial(ctx, cfg, 3, nil)
	require.NoError(t, err)
	defer pubConn.Disconnect()
	pub := NewPublisher(pubConn, "rooms/a/mic/303")

	// the subscription is asynchronous: publish until the consumer sees it
	require.Eventually(t, func() bool {
		if !assert.NoError(t, pub.PublishMessage(ctx, "hello")) {
			return false
		}
		select {
		case m := <-got:
			assert.Equal(t, "rooms/a/mic/303 hello", m)
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Error(t, pub.PublishMessage(ctx, 42))

	stop()
	assert.NoError(t, <-done)
}
