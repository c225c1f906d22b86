package sensors

import (
	"math"
	"sync"
)

// VocIndex turns SGP40 raw ticks into a 1..500 VOC index where 100 is the
// typical condition of the room. It tracks an exponentially weighted mean and
// variance of the raw signal; rising VOC lowers the raw ticks, so readings
// below the mean map above 100 through a logistic curve.
type VocIndex struct {
	mu       sync.Mutex
	n        int
	mean     float64
	variance float64

	// Blackout is the number of initial samples answered with 0.
	Blackout int
	// Learning caps the averaging window, in samples.
	Learning int
	// Gain is the slope of the logistic curve per standard deviation.
	Gain float64
}

const (
	vocIndexMax     = 500
	vocIndexTypical = 100
	vocMinStd       = 10.0
	vocInitialStd   = 50.0
)

func NewVocIndex() *VocIndex {
	// VOC is sampled every five ticks: 9 samples ≈ 45 s, 720 ≈ 1 h at 1 Hz ticks.
	return &VocIndex{Blackout: 9, Learning: 720, Gain: 1.0}
}

// Process feeds one raw sample. It returns 0 for a zero sample and during
// the blackout period.
func (v *VocIndex) Process(raw uint16) int {
	if raw == 0 {
		return 0
	}
	x := float64(raw)

	v.mu.Lock()
	defer v.mu.Unlock()

	v.n++
	if v.n == 1 {
		v.mean = x
		v.variance = vocInitialStd * vocInitialStd
		return 0
	}
	gain := 1 / float64(min(v.n, max(v.Learning, 1)))
	d := x - v.mean
	v.mean += gain * d
	v.variance = (1 - gain) * (v.variance + gain*d*d)

	if v.n <= v.Blackout {
		return 0
	}
	std := math.Max(math.Sqrt(v.variance), vocMinStd)
	z := (v.mean - x) / std
	// offset chosen so that z == 0 maps to the typical index
	offset := math.Log(vocIndexMax/vocIndexTypical - 1)
	idx := vocIndexMax / (1 + math.Exp(offset-v.Gain*z))
	return int(math.Max(1, math.Min(vocIndexMax, math.Round(idx))))
}

// Reset forgets the learned baseline.
func (v *VocIndex) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.n, v.mean, v.variance = 0, 0, 0
}
