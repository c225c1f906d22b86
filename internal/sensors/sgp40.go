package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

const SGP40Address i2c.Addr = 0x59

var (
	sgpCmdMeasureRaw = []byte{0x26, 0x0f}
	sgpCmdSelfTest   = []byte{0x28, 0x0e}
	sgpCmdSerial     = []byte{0x36, 0x82}
	sgpCmdHeaterOff  = []byte{0x36, 0x15}
)

const (
	sgpSelfTestOK    = 0xd400
	sgpMeasureDelay  = 30 * time.Millisecond
	sgpSelfTestDelay = 320 * time.Millisecond
	sgpSerialDelay   = time.Millisecond
)

// SGP40 is the Sensirion metal-oxide VOC sensor. Raw ticks are turned into a
// VOC index by a VocIndex estimator.
type SGP40 struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	log    *slog.Logger
	policy retry.Policy
	index  *VocIndex
	serial uint64
}

func NewSGP40(bus i2c.Bus, addr i2c.Addr, policy retry.Policy, log *slog.Logger) *SGP40 {
	return &SGP40{
		dev:    &i2c.Dev{Bus: bus, Addr: uint16(addr)},
		log:    logging.Or(log).With("sensor", "sgp40"),
		policy: policy,
		index:  NewVocIndex(),
	}
}

func (s *SGP40) Setup(ctx context.Context) error {
	return setupDevice(ctx, s.policy, s.log, "sgp40", s.probe)
}

func (s *SGP40) probe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := make([]byte, 9)
	if err := txDelay(s.dev, sgpCmdSerial, r, sgpSerialDelay); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	w, err := words(r)
	if err != nil {
		return err
	}
	s.serial = uint64(w[0])<<32 | uint64(w[1])<<16 | uint64(w[2])
	s.log.Info("found sensor", "serial", fmt.Sprintf("0x%012x", s.serial))

	r = make([]byte, 3)
	if err := txDelay(s.dev, sgpCmdSelfTest, r, sgpSelfTestDelay); err != nil {
		return fmt.Errorf("self test: %w", err)
	}
	if w, err = words(r); err != nil {
		return err
	}
	if w[0] != sgpSelfTestOK {
		return fmt.Errorf("self test failed: 0x%04x", w[0])
	}
	return nil
}

// Serial returns the 48-bit serial number read during setup.
func (s *SGP40) Serial() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serial
}

// ReadRaw runs a humidity and temperature compensated measurement and
// returns the raw SRAW ticks.
func (s *SGP40) ReadRaw(tempC, rh float64) (uint16, error) {
	w := make([]byte, 0, 8)
	w = append(w, sgpCmdMeasureRaw...)
	w = append(w, withCRC(humidityTicks(rh))...)
	w = append(w, withCRC(temperatureTicks(tempC))...)

	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]byte, 3)
	if err := txDelay(s.dev, w, r, sgpMeasureDelay); err != nil {
		return 0, fmt.Errorf("sgp40: measure: %w", err)
	}
	v, err := words(r)
	if err != nil {
		return 0, fmt.Errorf("sgp40: %w", err)
	}
	return v[0], nil
}

func (s *SGP40) ReadVoc(tempC, rh float64) (int, error) {
	raw, err := s.ReadRaw(tempC, rh)
	if err != nil {
		return 0, err
	}
	return s.index.Process(raw), nil
}

// HeaterOff puts the sensor to idle.
func (s *SGP40) HeaterOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return txDelay(s.dev, sgpCmdHeaterOff, nil, 0)
}

func humidityTicks(rh float64) uint16 {
	rh = math.Max(0, math.Min(100, rh))
	return uint16(rh * 65535 / 100)
}

func temperatureTicks(c float64) uint16 {
	c = math.Max(-45, math.Min(130, c))
	return uint16((c + 45) * 65535 / 175)
}
