package sensors

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

// Hardware owns the I²C bus shared by the on-board sensors.
type Hardware struct {
	bus i2c.BusCloser
	Set Set
	mic *Microphone
}

// OpenHardware initialises the host drivers, opens the I²C bus (empty name
// picks the first one) and wires the ADT7410, SHT4x, SGP40 and ADS1115
// microphone. If noise is not nil it replaces the ADS1115 microphone.
func OpenHardware(busName string, noise NoiseSource, policy retry.Policy, log *slog.Logger) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	h := &Hardware{bus: bus}
	h.Set = Set{
		Temperature: NewADT7410(bus, ADT7410Address, policy, log),
		Humidity:    NewSHT4x(bus, SHT4xAddress, policy, log),
		Voc:         NewSGP40(bus, SGP40Address, policy, log),
		Noise:       noise,
	}
	if noise == nil {
		pin, err := OpenADS1115Pin(bus)
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		h.mic = NewMicrophone(pin, policy, log)
		h.Set.Noise = h.mic
	}
	return h, nil
}

func (h *Hardware) Close() error {
	if h.mic != nil {
		_ = h.mic.Close()
	}
	return h.bus.Close()
}
