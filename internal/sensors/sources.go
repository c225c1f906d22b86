// Package sensors adapts the room sensors (temperature, humidity, VOC and
// noise) behind small capability interfaces so the batcher can run against
// real I²C hardware, a serial bridge or simulated values.
package sensors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

var (
	// ErrDeviceNotFound is returned when a sensor does not answer during setup.
	ErrDeviceNotFound = errors.New("sensors: device not found")
	// ErrReadInvalid marks a reading that is out of range or not a number.
	ErrReadInvalid = errors.New("sensors: invalid reading")
	ErrCRC         = errors.New("sensors: crc mismatch")
)

// DefaultSetupRetry retries setup once per second until the device answers.
var DefaultSetupRetry = retry.Forever(time.Second)

type TemperatureSource interface {
	Setup(ctx context.Context) error
	// ReadTemperature returns degrees Celsius.
	ReadTemperature() (float64, error)
}

type HumiditySource interface {
	Setup(ctx context.Context) error
	// ReadHumidity returns relative humidity in percent. Failed or invalid
	// reads are logged and reported as 0.
	ReadHumidity() float64
}

type VocSource interface {
	Setup(ctx context.Context) error
	// ReadVoc returns the VOC index compensated for the given conditions.
	ReadVoc(tempC, rh float64) (int, error)
}

type NoiseSource interface {
	Setup(ctx context.Context) error
	// ReadNoise returns the noise amplitude in raw ADC counts.
	ReadNoise() (int, error)
}

// Set groups the four sources the node samples.
type Set struct {
	Temperature TemperatureSource
	Humidity    HumiditySource
	Voc         VocSource
	Noise       NoiseSource
}

// Setup initialises every source in order, blocking on each until it answers
// or ctx is cancelled.
func (s Set) Setup(ctx context.Context) error {
	steps := []struct {
		name  string
		setup func(context.Context) error
	}{
		{"temperature", s.Temperature.Setup},
		{"humidity", s.Humidity.Setup},
		{"voc", s.Voc.Setup},
		{"noise", s.Noise.Setup},
	}
	for _, st := range steps {
		if err := st.setup(ctx); err != nil {
			return fmt.Errorf("setup %s sensor: %w", st.name, err)
		}
	}
	return nil
}

// setupDevice runs probe through policy, tagging failures as ErrDeviceNotFound.
func setupDevice(ctx context.Context, policy retry.Policy, log *slog.Logger, name string, probe func() error) error {
	if policy.Logger == nil {
		policy.Logger = log
	}
	return policy.Do(ctx, name+" setup", func(context.Context) error {
		if err := probe(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, name, err)
		}
		return nil
	})
}

// SanitizeHumidity substitutes 0 for failed, NaN or out of range humidity
// readings, logging the cause.
func SanitizeHumidity(log *slog.Logger, rh float64, err error) float64 {
	if err == nil && (math.IsNaN(rh) || rh < 0 || rh > 100) {
		err = fmt.Errorf("%w: humidity %v", ErrReadInvalid, rh)
	}
	if err != nil {
		logging.Or(log).Warn("humidity read failed, using 0", "err", err)
		return 0
	}
	return rh
}

// SanitizeTemperature substitutes 0 for failed or non-finite temperature
// readings, logging the cause.
func SanitizeTemperature(log *slog.Logger, c float64, err error) float64 {
	if err == nil && (math.IsNaN(c) || math.IsInf(c, 0)) {
		err = fmt.Errorf("%w: temperature %v", ErrReadInvalid, c)
	}
	if err != nil {
		logging.Or(log).Warn("temperature read failed, using 0", "err", err)
		return 0
	}
	return c
}
