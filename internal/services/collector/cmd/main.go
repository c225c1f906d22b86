package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/roomsense/internal/services/collector"
	"github.com/LeonardoBeccarini/roomsense/pkg/broker"
	"github.com/LeonardoBeccarini/roomsense/pkg/config"
	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

func main() {
	_, secretsErr := config.LoadSecrets()
	log := logging.Setup("collector", config.EnvStr("LOG_LEVEL", "info"))
	if secretsErr != nil {
		log.Error("secrets file", "err", secretsErr)
		os.Exit(2)
	}

	base := config.EnvStr("TOPIC", "roomsense")
	alertTopic := config.EnvStr("ALERT_TOPIC", strings.TrimRight(base, "/")+"/alerts")
	if !config.EnvBool("ALERTS_ENABLED", true) {
		alertTopic = ""
	}
	ranges := collector.DefaultRanges()
	if path := config.EnvStr("STATUS_RANGES_FILE", ""); path != "" {
		r, err := collector.LoadRanges(path)
		if err != nil {
			log.Error("invalid configuration", "err", err)
			os.Exit(2)
		}
		ranges = r
	}

	cfg := collector.Config{
		Broker: broker.Config{
			Host:     config.EnvStr("MQTT_HOST", "localhost"),
			Port:     config.EnvInt("MQTT_PORT", 1883),
			User:     config.EnvStr("MQTT_USER", ""),
			Password: config.EnvStr("MQTT_PASS", ""),
			// id stabile: la sessione persistente conserva i QoS 1 durante i riavvii
			ClientID:     config.EnvStr("MQTT_CLIENT_ID", "roomsense-collector"),
			CleanSession: config.EnvBool("MQTT_CLEAN_SESSION", false),
		},
		BaseTopic: base,
		Influx: collector.InfluxConfig{
			URL:    config.EnvStr("INFLUX_URL", "http://localhost:8086"),
			Token:  config.EnvStr("INFLUX_TOKEN", ""),
			Org:    config.EnvStr("INFLUX_ORG", "roomsense"),
			Bucket: config.EnvStr("INFLUX_BUCKET", "telemetry"),
		},
		Inactivity:   time.Duration(config.EnvInt("WATCHDOG_INACTIVITY_THRESHOLD_SECONDS", 300)) * time.Second,
		DedupTTL:     config.EnvDuration("DEDUP_TTL", 10*time.Minute),
		DedupMax:     config.EnvInt("DEDUP_MAX", 20000),
		ConnectRetry: retry.Bounded(config.EnvInt("BROKER_RETRY_MAX", 0), time.Second),

		AlertTopic:    alertTopic,
		AlertCooldown: time.Duration(config.EnvInt("ALERT_COOLDOWN_SECONDS", 300)) * time.Second,
		Ranges:        ranges,

		HTTPPort: config.EnvInt("HTTP_PORT", 8081),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := collector.New(cfg, log)
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(2)
	}
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("collector stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
