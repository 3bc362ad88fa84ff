// Package autorange suggests the time window, the voltage range and the trigger level for the current signal.
// The suggestions are computed from the channel snapshots, applying them is up to the consumer.
package autorange

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ftl/fpgascope/measure"
	"github.com/ftl/fpgascope/trigger"
)

const (
	// MinSamples is the minimum number of samples in the selected channel for an estimation.
	MinSamples = 32

	DefaultAlpha        = 0.4
	DefaultUpdatePeriod = 200 * time.Millisecond

	minVoltageRange = 0.050
	lowPercentile   = 5.0
	highPercentile  = 95.0
	periodsOnScreen = 3.0
	minTimeWindow   = 0.2e-3
	maxTimeWindow   = 200e-3
)

// Input of an estimation: the channel snapshots in volts.
type Input struct {
	CH0        []float64
	CH1        []float64
	Dual       bool
	SampleRate float64
	// TimeWindow is the current time window in seconds, it is kept if no frequency can be estimated.
	TimeWindow float64
}

// TriggerSuggestion is the suggested trigger setup if the trigger follows the signal.
type TriggerSuggestion struct {
	Level  float64
	Source trigger.Source
	Slope  trigger.Slope
}

// Suggestion of the display settings.
type Suggestion struct {
	Source        trigger.Source
	TimeWindow    float64
	VoltageRange  float64
	VoltageCenter float64
	Trigger       *TriggerSuggestion
}

// Smoothed is the state of the exponential moving averages of the stable estimation.
type Smoothed struct {
	Valid  bool
	Range  float64
	Center float64
}

// Update the moving averages with the given values. The first update initializes the state.
func (s Smoothed) Update(voltageRange, center float64, alpha float64) Smoothed {
	if !s.Valid {
		return Smoothed{Valid: true, Range: voltageRange, Center: center}
	}
	return Smoothed{
		Valid:  true,
		Range:  alpha*voltageRange + (1-alpha)*s.Range,
		Center: alpha*center + (1-alpha)*s.Center,
	}
}

// Params control one estimation.
type Params struct {
	Stable        bool
	Alpha         float64
	FollowTrigger bool
}

// Estimate computes a suggestion from the given input. In stable mode, the voltage range is estimated from the
// 5th and 95th percentile and smoothed with the previous state, otherwise from the mean and the peak to peak value.
// ok is false if there is not enough data, the state is unchanged then.
func Estimate(input Input, params Params, previous Smoothed) (result Suggestion, next Smoothed, ok bool) {
	next = previous
	source, samples := selectSource(input)
	if len(samples) < MinSamples {
		return result, next, false
	}
	result.Source = source

	if params.Stable {
		low := Percentile(samples, lowPercentile)
		high := Percentile(samples, highPercentile)
		alpha := params.Alpha
		if alpha <= 0 || alpha > 1 {
			alpha = DefaultAlpha
		}
		next = previous.Update(max(minVoltageRange, high-low), 0.5*(high+low), alpha)
		result.VoltageRange = next.Range
		result.VoltageCenter = next.Center
	} else {
		result.VoltageRange = max(minVoltageRange, floats.Max(samples)-floats.Min(samples))
		result.VoltageCenter = stat.Mean(samples, nil)
	}

	result.TimeWindow = input.TimeWindow
	stats := measure.Basic(samples, input.SampleRate)
	if stats.HasFrequency && stats.Frequency > 0 {
		result.TimeWindow = min(maxTimeWindow, max(minTimeWindow, periodsOnScreen/stats.Frequency))
	}

	if params.FollowTrigger {
		result.Trigger = &TriggerSuggestion{
			Level:  result.VoltageCenter,
			Source: source,
			Slope:  trigger.Rising,
		}
	}

	return result, next, true
}

// selectSource selects the channel with the larger peak to peak value in dual channel mode. CH0 wins a tie.
func selectSource(input Input) (trigger.Source, []float64) {
	if !input.Dual || len(input.CH0) != len(input.CH1) || len(input.CH0) == 0 {
		return trigger.CH0, input.CH0
	}
	pp0 := floats.Max(input.CH0) - floats.Min(input.CH0)
	pp1 := floats.Max(input.CH1) - floats.Min(input.CH1)
	if pp1 > pp0 {
		return trigger.CH1, input.CH1
	}
	return trigger.CH0, input.CH0
}

// Percentile returns the p-th percentile (0..100) of the given values, interpolating linearly between the
// closest ranks.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	p = min(100, max(0, p))
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	fraction := rank - float64(lower)
	return sorted[lower] + fraction*(sorted[lower+1]-sorted[lower])
}
