package osc

import (
	"github.com/ftl/fpgascope/acq"
	"github.com/ftl/fpgascope/autorange"
	"github.com/ftl/fpgascope/calib"
	"github.com/ftl/fpgascope/dsp"
	"github.com/ftl/fpgascope/measure"
	"github.com/ftl/fpgascope/scope"
	"github.com/ftl/fpgascope/trace"
	"github.com/ftl/fpgascope/trigger"
)

const (
	TimeStream     scope.StreamID = "time"
	SpectrumStream scope.StreamID = "spectrum"

	PeakMarker scope.MarkerID = "peak"
)

func (e *Engine) resetConditioning() {
	for _, c := range e.conditioners {
		c.Reset()
	}
	e.estimator.Reset()
}

// dualSnapshot indicates if the snapshot contains two channels of the same length.
func dualSnapshot(status acq.Status, ch0, ch1 []int16) bool {
	return status.Settings.Channel.Dual() && len(ch1) == len(ch0) && len(ch0) > 0
}

func (e *Engine) autorangeInput(ch0, ch1 []int16) autorange.Input {
	status := e.acquisition.Status()
	result := autorange.Input{
		CH0:        calib.ToVolts(e.config.Calibration, ch0),
		Dual:       dualSnapshot(status, ch0, ch1),
		SampleRate: status.SampleRate,
		TimeWindow: e.settings.TimeWindow,
	}
	if result.Dual {
		result.CH1 = calib.ToVolts(e.config.Calibration, ch1)
	}
	return result
}

func (e *Engine) render(ch0, ch1 []int16) {
	if len(ch0) == 0 {
		return
	}
	status := e.acquisition.Status()

	if e.settings.MathMode {
		frame, ok := e.spectralFrame(ch0, status.SampleRate)
		if ok {
			e.sink.ShowSpectralFrame(frame)
		}
		return
	}
	e.sink.ShowTimeFrame(e.timeFrame(ch0, ch1, status))
}

func (e *Engine) timeFrame(ch0, ch1 []int16, status acq.Status) *scope.TimeFrame {
	settings := e.settings
	cal := e.config.Calibration
	dual := dualSnapshot(status, ch0, ch1)
	if !dual {
		ch1 = nil
	}
	unaligned := ch0

	if settings.Trigger.Enabled && len(ch0) > trigger.MinSamples {
		aligned0, aligned1, ok := trigger.Align(ch0, ch1, status.Settings.Points, settings.Trigger, cal)
		if ok {
			e.tracer.Trace(trace.Trigger, "aligned %d of %d samples on %s\n", len(aligned0), len(ch0), settings.Trigger.Source)
			ch0 = aligned0
			if dual {
				ch1 = aligned1
			}
		} else {
			e.tracer.Trace(trace.Trigger, "no trigger in %d samples\n", len(ch0))
		}
	}

	result := &scope.TimeFrame{
		Frame: scope.Frame{
			Stream:    TimeStream,
			Timestamp: e.clock.Now(),
		},
		SampleRate:    status.SampleRate,
		TimeWindow:    settings.TimeWindow,
		VoltageRange:  settings.VoltageRange,
		VoltageCenter: settings.VoltageCenter,
		Values:        make(map[scope.ChannelID][]float64),
		History:       make(map[scope.ChannelID][][]float64),
	}

	windowSamples := WindowSamples(settings.TimeWindow, status.SampleRate)
	e.conditionChannel(result, e.conditioners[0], ch0, windowSamples, scope.CH0, scope.CH0PeakMax, scope.CH0PeakMin)
	if dual {
		e.conditionChannel(result, e.conditioners[1], ch1, windowSamples, scope.CH1, scope.CH1PeakMax, scope.CH1PeakMin)
	}

	measured := calib.ToVolts(cal, dsp.ACCouple(dsp.ToFloat64(unaligned), settings.Conditioning.ACCoupling))
	result.Measurements = measure.Basic(measured, status.SampleRate).Lines(settings.Measurements)
	for _, line := range []string{settings.TimeCursors.Line(), settings.VoltCursors.Line()} {
		if line != "" {
			result.Measurements = append(result.Measurements, line)
		}
	}

	return result
}

func (e *Engine) conditionChannel(frame *scope.TimeFrame, conditioner *dsp.Conditioner, samples []int16, windowSamples int, channel, peakMax, peakMin scope.ChannelID) {
	cal := e.config.Calibration
	conditioned := conditioner.Condition(dsp.ToFloat64(samples), e.settings.Conditioning)

	frame.Values[channel] = tail(calib.ToVolts(cal, conditioned.Samples), windowSamples)
	if conditioned.PeakMax != nil {
		frame.Values[peakMax] = tail(calib.ToVolts(cal, conditioned.PeakMax), windowSamples)
		frame.Values[peakMin] = tail(calib.ToVolts(cal, conditioned.PeakMin), windowSamples)
	}

	// the last frame of the history is the current one
	if len(conditioned.History) > 1 {
		history := make([][]float64, 0, len(conditioned.History)-1)
		for _, samples := range conditioned.History[:len(conditioned.History)-1] {
			history = append(history, tail(calib.ToVolts(cal, samples), windowSamples))
		}
		frame.History[channel] = history
	}
}

func (e *Engine) spectralFrame(ch0 []int16, sampleRate float64) (*scope.SpectralFrame, bool) {
	volts := dsp.ACCouple(calib.ToVolts(e.config.Calibration, ch0), true)
	frequencies, magnitudes := dsp.Spectrum(volts, sampleRate, e.settings.Window, e.settings.SpectrumInDB)
	if len(frequencies) == 0 {
		return nil, false
	}

	result := &scope.SpectralFrame{
		Frame: scope.Frame{
			Stream:    SpectrumStream,
			Timestamp: e.clock.Now(),
		},
		FromFrequency:    frequencies[0],
		ToFrequency:      frequencies[len(frequencies)-1],
		Values:           magnitudes,
		FrequencyMarkers: make(map[scope.MarkerID]float64),
		MagnitudeMarkers: make(map[scope.MarkerID]float64),
	}
	if peak := dsp.PeakBin(magnitudes, 1); peak > 0 {
		result.FrequencyMarkers[PeakMarker] = frequencies[peak]
		result.MagnitudeMarkers[PeakMarker] = magnitudes[peak]
	}
	return result, true
}

// tail returns the last n values.
func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
