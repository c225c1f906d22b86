package main

import (
	"errors"
	"flag"
	"time"

	"github.com/LeonardoBeccarini/roomsense/internal/model"
	"github.com/LeonardoBeccarini/roomsense/internal/services/node"
	"github.com/LeonardoBeccarini/roomsense/pkg/broker"
	"github.com/LeonardoBeccarini/roomsense/pkg/config"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

type Config struct {
	Node node.Config

	Simulate    bool
	Seed        int64
	I2CBus      string
	SerialPort  string
	SerialBaud  int
	SensorRetry retry.Policy
	LogLevel    string
}

// loadConfig reads the environment (after the secrets file) and lets flags
// override it.
func loadConfig(args []string) (Config, error) {
	if _, err := config.LoadSecrets(); err != nil {
		return Config{}, err
	}

	batch := node.DefaultBatcherConfig()
	batch.Interval = config.EnvDuration("SAMPLE_INTERVAL", batch.Interval)

	cfg := Config{
		Node: node.Config{
			Device: model.Device{
				RoomID:    config.EnvInt("ROOM_ID", 0),
				BaseTopic: config.EnvStr("TOPIC", "roomsense"),
			},
			Broker: broker.Config{
				Host:       config.EnvStr("MQTT_HOST", "localhost"),
				Port:       config.EnvInt("MQTT_PORT", 1883),
				User:       config.EnvStr("MQTT_USER", ""),
				Password:   config.EnvStr("MQTT_PASS", ""),
				ClientID:   config.EnvStr("MQTT_CLIENT_ID", ""),
				MaxPayload: broker.DefaultMaxPayload,
			},
			Interface:   config.EnvStr("WIFI_INTERFACE", ""),
			NTPServer:   config.EnvStr("NTP_SERVER", "pool.ntp.org"),
			Batch:       batch,
			Capacity:    config.EnvInt("JSON_SIZE", node.DefaultCapacity),
			NetRetry:    retry.Bounded(config.EnvInt("NET_RETRY_MAX", 0), 5*time.Second),
			BrokerRetry: retry.Bounded(config.EnvInt("BROKER_RETRY_MAX", 0), time.Second),
			HTTPPort:    config.EnvInt("HTTP_PORT", 8080),
			GRPCPort:    config.EnvInt("GRPC_PORT", 50051),
		},
		Seed:        time.Now().UnixNano(),
		I2CBus:      config.EnvStr("I2C_BUS", ""),
		SerialPort:  config.EnvStr("SERIAL_PORT", ""),
		SerialBaud:  config.EnvInt("SERIAL_BAUD", 115200),
		SensorRetry: retry.Bounded(config.EnvInt("SENSOR_RETRY_MAX", 0), time.Second),
		LogLevel:    config.EnvStr("LOG_LEVEL", "info"),
	}

	fs := flag.NewFlagSet("roomsense-node", flag.ContinueOnError)
	fs.BoolVar(&cfg.Simulate, "sim", config.EnvBool("SIMULATE", false), "use simulated sensors")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for simulated sensors")
	fs.DurationVar(&cfg.Node.Batch.Interval, "interval", cfg.Node.Batch.Interval, "sampling period (100ms..2s)")
	fs.IntVar(&cfg.Node.Device.RoomID, "room", cfg.Node.Device.RoomID, "room / device id")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Node.Device.RoomID <= 0 {
		return Config{}, errors.New("ROOM_ID must be a positive integer")
	}
	if err := cfg.Node.Batch.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
