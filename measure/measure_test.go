package measure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, amplitude, frequency, offset, sampleRate float64) []float64 {
	result := make([]float64, n)
	for i := range result {
		result[i] = offset + amplitude*math.Sin(2*math.Pi*frequency*float64(i)/sampleRate)
	}
	return result
}

func TestBasic(t *testing.T) {
	volts := sine(1000, 1.5, 1000, 2, 100e3)

	stats := Basic(volts, 100e3)

	require.True(t, stats.Valid)
	assert.InDelta(t, 3.0, stats.PeakToPeak, 0.01)
	assert.InDelta(t, 0.5, stats.Min, 0.01)
	assert.InDelta(t, 3.5, stats.Max, 0.01)
	assert.InDelta(t, 2.0, stats.Average, 1e-9)
	assert.InDelta(t, math.Sqrt(4+1.5*1.5/2), stats.RMS, 1e-6)
	require.True(t, stats.HasFrequency)
	assert.InDelta(t, 1000, stats.Frequency, 100)
	assert.InDelta(t, 1e-3, stats.Period, 1e-4)
}

func TestBasic_Short(t *testing.T) {
	stats := Basic([]float64{1, 2, 3}, 1000)

	require.True(t, stats.Valid)
	assert.Equal(t, 2.0, stats.PeakToPeak)
	assert.False(t, stats.HasFrequency)

	assert.False(t, Basic(nil, 1000).Valid)
}

func TestFormat(t *testing.T) {
	stats := Stats{Valid: true, PeakToPeak: 3, Average: 2, RMS: 2.2638, HasFrequency: true, Frequency: 1000, Period: 1e-3}

	tt := []struct {
		desc     string
		stats    Stats
		items    Items
		expected string
	}{
		{"all", stats, AllItems, "Vpp=3.000 V\nVavg=2.000 V\nVrms=2.264 V\nf=1000.000 Hz  T=1.000 ms"},
		{"only vpp", stats, Items{PeakToPeak: true}, "Vpp=3.000 V"},
		{"no frequency", Stats{Valid: true, RMS: 1}, Items{RMS: true, Frequency: true}, "Vrms=1.000 V"},
		{"nothing", stats, Items{}, ""},
		{"invalid", Stats{}, AllItems, ""},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.stats.Format(tc.items))
		})
	}
}

func TestCursors(t *testing.T) {
	dt, frequency := TimeCursors{T1: 0.001, T2: 0.003}.Delta()
	assert.InDelta(t, 0.002, dt, 1e-12)
	assert.InDelta(t, 500, frequency, 1e-6)

	dt, frequency = TimeCursors{T1: 0.5, T2: 0.5}.Delta()
	assert.Equal(t, 0.0, dt)
	assert.Equal(t, 0.0, frequency)

	assert.InDelta(t, -1.25, VoltCursors{V1: 2, V2: 0.75}.Delta(), 1e-12)
}

func TestCursorLines(t *testing.T) {
	tt := []struct {
		desc     string
		line     string
		expected string
	}{
		{"time disabled", TimeCursors{T1: 0, T2: 1}.Line(), ""},
		{"time", TimeCursors{Enabled: true, T1: 0.001, T2: 0.003}.Line(), "dt=2.000 ms  1/dt=500.000 Hz"},
		{"time same position", TimeCursors{Enabled: true, T1: 0.001, T2: 0.001}.Line(), "dt=0.000 ms  1/dt=0.000 Hz"},
		{"volt disabled", VoltCursors{V1: 1, V2: 2}.Line(), ""},
		{"volt", VoltCursors{Enabled: true, V1: 0.5, V2: 2}.Line(), "dV=1.500 V"},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.line)
		})
	}
}
