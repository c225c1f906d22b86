package sensors

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulated implements every source with a mean-reverting random walk, so the
// node runs without hardware. The walk advances with wall time between reads.
type Simulated struct {
	mu   sync.Mutex
	rng  *rand.Rand
	last time.Time
	now  func() time.Time

	temp  float64 // °C
	hum   float64 // %RH
	voc   float64 // index
	noise float64 // raw counts
}

// Valori di riposo della stanza verso cui il random walk rientra.
const (
	simTempBase  = 21.5
	simHumBase   = 45.0
	simVocBase   = 100.0
	simNoiseBase = 40.0

	// revertPerMin: frazione della distanza dal valore base recuperata al minuto.
	revertPerMin = 0.2
)

func NewSimulated(seed int64) *Simulated {
	return &Simulated{
		rng:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
		temp:  simTempBase,
		hum:   simHumBase,
		voc:   simVocBase,
		noise: simNoiseBase,
	}
}

func (s *Simulated) Setup(context.Context) error { return nil }

// step advances the walk; callers hold mu.
func (s *Simulated) step() {
	now := s.now()
	if s.last.IsZero() {
		s.last = now
	}
	dtMin := math.Max(0, now.Sub(s.last).Minutes())
	s.last = now

	k := math.Min(1, revertPerMin*dtMin)
	s.temp += (simTempBase-s.temp)*k + s.rng.NormFloat64()*0.05
	s.hum += (simHumBase-s.hum)*k + s.rng.NormFloat64()*0.2
	s.voc += (simVocBase-s.voc)*k + s.rng.NormFloat64()*2
	s.noise += (simNoiseBase - s.noise) * 0.3
	if s.rng.Float64() < 0.05 {
		// voci, porte che sbattono
		s.noise += 200 + s.rng.Float64()*600
	}

	s.temp = clamp(s.temp, -10, 45)
	s.hum = clamp(s.hum, 0, 100)
	s.voc = clamp(s.voc, 1, 500)
	s.noise = clamp(s.noise, 0, 32767)
}

func (s *Simulated) ReadTemperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return math.Round(s.temp*100) / 100, nil
}

func (s *Simulated) ReadHumidity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return math.Round(s.hum*100) / 100
}

// ReadVoc ignores the compensation inputs.
func (s *Simulated) ReadVoc(_, _ float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return int(math.Round(s.voc)), nil
}

func (s *Simulated) ReadNoise() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return int(math.Round(s.noise + s.rng.Float64()*10)), nil
}

// Sources returns s for all four capabilities.
func (s *Simulated) Sources() Set {
	return Set{Temperature: s, Humidity: s, Voc: s, Noise: s}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
