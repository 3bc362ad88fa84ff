// Package scope publishes the rendered oscilloscope frames to remote viewers, in form of
// time domain and spectral frames.
package scope

import (
	"time"
)

type StreamID string
type ChannelID string
type MarkerID string

// The channels of a time frame.
const (
	CH0        ChannelID = "CH0"
	CH1        ChannelID = "CH1"
	CH0PeakMax ChannelID = "CH0.max"
	CH0PeakMin ChannelID = "CH0.min"
	CH1PeakMax ChannelID = "CH1.max"
	CH1PeakMin ChannelID = "CH1.min"
)

type Frame struct {
	Stream    StreamID
	Timestamp time.Time
}

// TimeFrame is one rendered time domain view. All values are in volts, the time axis starts at 0 and
// advances by 1/SampleRate per sample.
type TimeFrame struct {
	Frame
	SampleRate    float64
	TimeWindow    float64
	VoltageRange  float64
	VoltageCenter float64
	Values        map[ChannelID][]float64
	History       map[ChannelID][][]float64
	Measurements  []string
}

// SpectralFrame is one rendered frequency domain view.
type SpectralFrame struct {
	Frame
	FromFrequency    float64
	ToFrequency      float64
	Values           []float64
	FrequencyMarkers map[MarkerID]float64
	MagnitudeMarkers map[MarkerID]float64
}

// Scope receives the rendered frames.
type Scope interface {
	ShowTimeFrame(*TimeFrame)
	ShowSpectralFrame(*SpectralFrame)
}

type NullScope struct{}

func NewNullScope() *NullScope {
	return &NullScope{}
}

func (s *NullScope) ShowTimeFrame(*TimeFrame)         {}
func (s *NullScope) ShowSpectralFrame(*SpectralFrame) {}

// Scopes distributes the frames to several scopes.
type Scopes []Scope

func (s Scopes) ShowTimeFrame(frame *TimeFrame) {
	for _, scope := range s {
		scope.ShowTimeFrame(frame)
	}
}

func (s Scopes) ShowSpectralFrame(frame *SpectralFrame) {
	for _, scope := range s {
		scope.ShowSpectralFrame(frame)
	}
}
