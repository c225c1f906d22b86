package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

const (
	SHT4xAddress i2c.Addr = 0x44

	shtCmdMeasure   = 0xfd
	shtCmdSerial    = 0x89
	shtCmdSoftReset = 0x94
	shtCountDivisor = 65535.0
	shtMeasureDelay = 10 * time.Millisecond
	shtResetDelay   = 2 * time.Millisecond
)

// SHT4x reads relative humidity (and temperature) from a Sensirion SHT40/41/45.
type SHT4x struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	log    *slog.Logger
	policy retry.Policy
	serial uint32
}

func NewSHT4x(bus i2c.Bus, addr i2c.Addr, policy retry.Policy, log *slog.Logger) *SHT4x {
	return &SHT4x{
		dev:    &i2c.Dev{Bus: bus, Addr: uint16(addr)},
		log:    logging.Or(log).With("sensor", "sht4x"),
		policy: policy,
	}
}

func (s *SHT4x) Setup(ctx context.Context) error {
	return setupDevice(ctx, s.policy, s.log, "sht4x", s.probe)
}

func (s *SHT4x) probe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := txDelay(s.dev, []byte{shtCmdSoftReset}, nil, shtResetDelay); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	r := make([]byte, 6)
	if err := txDelay(s.dev, []byte{shtCmdSerial}, r, shtMeasureDelay); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	w, err := words(r)
	if err != nil {
		return err
	}
	s.serial = uint32(w[0])<<16 | uint32(w[1])
	s.log.Info("sensor ready", "serial", fmt.Sprintf("0x%08x", s.serial))
	return nil
}

// Measure runs one high precision measurement.
func (s *SHT4x) Measure() (tempC, rh float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]byte, 6)
	if err := txDelay(s.dev, []byte{shtCmdMeasure}, r, shtMeasureDelay); err != nil {
		return 0, 0, fmt.Errorf("sht4x: measure: %w", err)
	}
	w, err := words(r)
	if err != nil {
		return 0, 0, fmt.Errorf("sht4x: %w", err)
	}
	return countToCelsius(w[0]), countToHumidity(w[1]), nil
}

func (s *SHT4x) ReadHumidity() float64 {
	_, rh, err := s.Measure()
	return SanitizeHumidity(s.log, rh, err)
}

func (s *SHT4x) ReadTemperature() (float64, error) {
	t, _, err := s.Measure()
	return t, err
}

func countToCelsius(c uint16) float64 {
	return -45 + 175*float64(c)/shtCountDivisor
}

// countToHumidity crops to 0..100 %RH as the datasheet recommends.
func countToHumidity(c uint16) float64 {
	rh := -6 + 125*float64(c)/shtCountDivisor
	switch {
	case rh < 0:
		return 0
	case rh > 100:
		return 100
	}
	return rh
}
