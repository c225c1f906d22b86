package collector

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/LeonardoBeccarini/roomsense/internal/model/entities"
)

// Status classes a reading against its comfort range.
const (
	StatusOptimal  = "optimal"
	StatusWarning  = "warning"
	StatusCritical = "critical"
	StatusUnknown  = "unknown"
)

// Range is the optimal band of one metric. Values within Tolerance outside
// the band are a warning, anything further is critical.
type Range struct {
	Min       float64 `toml:"min"`
	Max       float64 `toml:"max"`
	Tolerance float64 `toml:"tolerance"`
}

// Ranges maps a metric name ("co2", "mic", "hum", "temp") to its range.
type Ranges map[string]Range

// DefaultRanges are used for metrics the ranges file does not mention.
func DefaultRanges() Ranges {
	return Ranges{
		"temp": {Min: 20, Max: 24, Tolerance: 2},
		"hum":  {Min: 40, Max: 60, Tolerance: 10},
		"co2":  {Min: 0, Max: 150, Tolerance: 100}, // VOC index
		"mic":  {Min: 0, Max: 200, Tolerance: 150}, // peak-to-peak ADC counts
	}
}

// LoadRanges reads a TOML file with one table per metric, e.g.
//
//	[temp]
//	min = 20.0
//	max = 24.0
//	tolerance = 2.0
//
// and overlays it on DefaultRanges.
func LoadRanges(path string) (Ranges, error) {
	var file Ranges
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("status ranges: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("status ranges: unknown keys %v", undec)
	}
	out := DefaultRanges()
	for metric, r := range file {
		if _, ok := entities.ParseMetric(metric); !ok {
			return nil, fmt.Errorf("status ranges: unknown metric %q", metric)
		}
		if r.Min > r.Max || r.Tolerance < 0 {
			return nil, fmt.Errorf("status ranges: %s: want min <= max and tolerance >= 0", metric)
		}
		out[metric] = r
	}
	return out, nil
}

// Classify returns the status of v for metric.
func (r Ranges) Classify(metric string, v float64) string {
	rg, ok := r[metric]
	switch {
	case !ok:
		return StatusUnknown
	case rg.Min <= v && v <= rg.Max:
		return StatusOptimal
	case rg.Min-rg.Tolerance <= v && v <= rg.Max+rg.Tolerance:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// withStatus returns a copy of list with Status filled in. A nil Ranges
// leaves the readings untouched.
func (r Ranges) withStatus(list []Reading) []Reading {
	if r == nil {
		return list
	}
	out := make([]Reading, len(list))
	for i, rd := range list {
		rd.Status = r.Classify(rd.Metric, rd.Value)
		out[i] = rd
	}
	return out
}
