// Package measure computes the basic measurements of a waveform in physical units.
package measure

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ftl/fpgascope/dsp"
)

// Stats of a waveform in volts. Frequency and Period are only valid if HasFrequency is set.
type Stats struct {
	Valid        bool
	Min          float64
	Max          float64
	PeakToPeak   float64
	Average      float64
	RMS          float64
	HasFrequency bool
	Frequency    float64
	Period       float64
}

// Basic computes the stats of the given samples in volts. The frequency is estimated from the
// dominant spectral component and needs at least dsp.MinFrequencySamples samples.
func Basic(volts []float64, sampleRate float64) Stats {
	var result Stats
	if len(volts) == 0 {
		return result
	}

	result.Valid = true
	result.Min = floats.Min(volts)
	result.Max = floats.Max(volts)
	result.PeakToPeak = result.Max - result.Min
	result.Average = stat.Mean(volts, nil)
	result.RMS = math.Sqrt(floats.Dot(volts, volts) / float64(len(volts)))

	frequency, ok := dsp.DominantFrequency(volts, sampleRate)
	if ok {
		result.HasFrequency = true
		result.Frequency = frequency
		result.Period = 1 / frequency
	}
	return result
}

// Items selects the measurements that are shown.
type Items struct {
	PeakToPeak bool
	Average    bool
	RMS        bool
	Frequency  bool
}

// AllItems selects all measurements.
var AllItems = Items{PeakToPeak: true, Average: true, RMS: true, Frequency: true}

// Lines returns the text lines of the selected measurements.
func (s Stats) Lines(items Items) []string {
	if !s.Valid {
		return nil
	}
	result := make([]string, 0, 4)
	if items.PeakToPeak {
		result = append(result, fmt.Sprintf("Vpp=%.3f V", s.PeakToPeak))
	}
	if items.Average {
		result = append(result, fmt.Sprintf("Vavg=%.3f V", s.Average))
	}
	if items.RMS {
		result = append(result, fmt.Sprintf("Vrms=%.3f V", s.RMS))
	}
	if items.Frequency && s.HasFrequency {
		result = append(result, fmt.Sprintf("f=%.3f Hz  T=%.3f ms", s.Frequency, s.Period*1e3))
	}
	return result
}

// Format returns the selected measurements as one text block.
func (s Stats) Format(items Items) string {
	return strings.Join(s.Lines(items), "\n")
}
