package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

const (
	ADT7410Address i2c.Addr = 0x48

	adtRegTemp   = 0x00
	adtRegConfig = 0x03
	adtRegID     = 0x0b

	adtManufacturer = 0xc8
	adtConfig16Bit  = 0x80
)

// ADT7410 is the Analog Devices ±0.5 °C temperature sensor.
type ADT7410 struct {
	dev    *i2c.Dev
	log    *slog.Logger
	policy retry.Policy
	// settle is the wait for the first conversion after configuration.
	settle time.Duration
}

func NewADT7410(bus i2c.Bus, addr i2c.Addr, policy retry.Policy, log *slog.Logger) *ADT7410 {
	return &ADT7410{
		dev:    &i2c.Dev{Bus: bus, Addr: uint16(addr)},
		log:    logging.Or(log).With("sensor", "adt7410"),
		policy: policy,
		settle: 250 * time.Millisecond,
	}
}

func (a *ADT7410) Setup(ctx context.Context) error {
	return setupDevice(ctx, a.policy, a.log, "adt7410", a.probe)
}

func (a *ADT7410) probe() error {
	id := make([]byte, 1)
	if err := a.dev.Tx([]byte{adtRegID}, id); err != nil {
		return err
	}
	if id[0]&0xf8 != adtManufacturer {
		return fmt.Errorf("unexpected id 0x%02x", id[0])
	}
	if err := a.dev.Tx([]byte{adtRegConfig, adtConfig16Bit}, nil); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	time.Sleep(a.settle)
	a.log.Info("sensor ready", "id", fmt.Sprintf("0x%02x", id[0]))
	return nil
}

// ReadTemperature reads the 16-bit two's complement register, 1/128 °C per LSB.
func (a *ADT7410) ReadTemperature() (float64, error) {
	r := make([]byte, 2)
	if err := a.dev.Tx([]byte{adtRegTemp}, r); err != nil {
		return 0, fmt.Errorf("adt7410: read temperature: %w", err)
	}
	raw := int16(uint16(r[0])<<8 | uint16(r[1]))
	return float64(raw) / 128.0, nil
}
