package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeonardoBeccarini/roomsense/internal/sensors"
	"github.com/LeonardoBeccarini/roomsense/internal/services/node"
	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	log := logging.Setup("node", cfg.LogLevel)
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, closer, err := openSources(ctx, cfg, log)
	if err != nil {
		log.Error("sensors", "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	n, err := node.New(cfg.Node, sources, log)
	if err != nil {
		log.Error("node", "err", err)
		os.Exit(2)
	}
	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("node stopped", "err", err)
		os.Exit(1)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openSources picks simulated, serial-bridge or I²C sensors.
func openSources(ctx context.Context, cfg Config, log *slog.Logger) (sensors.Set, io.Closer, error) {
	if cfg.Simulate {
		log.Info("using simulated sensors", "seed", cfg.Seed)
		return sensors.NewSimulated(cfg.Seed).Sources(), nopCloser{}, nil
	}

	var noise sensors.NoiseSource
	if cfg.SerialPort != "" {
		bridge, err := sensors.OpenSerialBridge(cfg.SerialPort, cfg.SerialBaud, cfg.SensorRetry, log)
		if err != nil {
			return sensors.Set{}, nil, err
		}
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Error("serial bridge stopped", "err", err)
			}
		}()
		noise = bridge
	}

	hw, err := sensors.OpenHardware(cfg.I2CBus, noise, cfg.SensorRetry, log)
	if err != nil {
		return sensors.Set{}, nil, fmt.Errorf("open hardware: %w", err)
	}
	return hw.Set, hw, nil
}
