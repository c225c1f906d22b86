package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

// DefaultNoiseWindow is the peak-to-peak sampling window.
const DefaultNoiseWindow = 50 * time.Millisecond

// ADCPin is the part of a periph analog pin the microphone needs.
type ADCPin interface {
	Read() (analog.Sample, error)
	Halt() error
}

// Microphone reads an analog microphone. In peak-to-peak mode every read
// samples the pin for Window and returns max-min of the raw counts; in
// instantaneous mode it returns a single raw sample.
type Microphone struct {
	pin           ADCPin
	log           *slog.Logger
	policy        retry.Policy
	Window        time.Duration
	Instantaneous bool
	now           func() time.Time
}

func NewMicrophone(pin ADCPin, policy retry.Policy, log *slog.Logger) *Microphone {
	return &Microphone{
		pin:    pin,
		log:    logging.Or(log).With("sensor", "microphone"),
		policy: policy,
		Window: DefaultNoiseWindow,
		now:    time.Now,
	}
}

func (m *Microphone) Setup(ctx context.Context) error {
	return setupDevice(ctx, m.policy, m.log, "microphone", func() error {
		_, err := m.pin.Read()
		return err
	})
}

func (m *Microphone) ReadNoise() (int, error) {
	if m.Instantaneous {
		s, err := m.pin.Read()
		if err != nil {
			return 0, fmt.Errorf("microphone: %w", err)
		}
		return int(s.Raw), nil
	}
	return m.peakToPeak()
}

func (m *Microphone) peakToPeak() (int, error) {
	start := m.now()
	var lo, hi int32
	n := 0
	for n == 0 || m.now().Sub(start) < m.Window {
		s, err := m.pin.Read()
		if err != nil {
			return 0, fmt.Errorf("microphone: sample %d: %w", n, err)
		}
		if n == 0 || s.Raw < lo {
			lo = s.Raw
		}
		if n == 0 || s.Raw > hi {
			hi = s.Raw
		}
		n++
	}
	return int(hi - lo), nil
}

func (m *Microphone) Close() error {
	return m.pin.Halt()
}

// OpenADS1115Pin opens channel 0 of an ADS1115 as the microphone input,
// sampling at the fastest data rate.
func OpenADS1115Pin(bus i2c.Bus) (ADCPin, error) {
	adc, err := ads1x15.NewADS1115(bus, &ads1x15.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("ads1115: %w", err)
	}
	pin, err := adc.PinForChannel(ads1x15.Channel0, 5*physic.Volt, 860*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return nil, fmt.Errorf("ads1115: channel 0: %w", err)
	}
	return pin, nil
}
