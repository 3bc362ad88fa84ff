// Package osc ties the acquisition, the signal conditioning, the trigger and the auto range estimation
// together into the display loop of the oscilloscope.
package osc

import (
	"errors"
	"fmt"
	"time"

	"github.com/ftl/fpgascope/acq"
	"github.com/ftl/fpgascope/calib"
	"github.com/ftl/fpgascope/dsp"
	"github.com/ftl/fpgascope/measure"
	"github.com/ftl/fpgascope/trigger"
	"github.com/ftl/fpgascope/udp"
)

const (
	DefaultTickPeriod    = 33 * time.Millisecond
	DefaultTimeWindow    = 2e-3
	DefaultVoltageRange  = 2.0
	DefaultVoltageCenter = 0.0

	MinAverageDepth     = 1
	MaxAverageDepth     = 64
	MaxPersistenceDepth = 50

	minVoltageRange     = 0.01
	receiverStopTimeout = 1 * time.Second
)

var (
	ErrNoData       = errors.New("no data")
	ErrConnected    = errors.New("already connected")
	ErrInvalidValue = errors.New("invalid value")
)

// Config of the engine. It is fixed for the lifetime of the engine.
type Config struct {
	Net         udp.NetConfig
	Calibration calib.Calibration
	QueueSize   int
	TickPeriod  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Net:         udp.DefaultNetConfig(),
		Calibration: calib.Default,
		QueueSize:   udp.DefaultQueueSize,
		TickPeriod:  DefaultTickPeriod,
	}
}

// Settings of the acquisition and the display. TimeWindow is in seconds, VoltageRange and VoltageCenter in volts.
type Settings struct {
	Acquisition   acq.Settings
	Conditioning  dsp.ConditionSettings
	Trigger       trigger.Config
	TimeWindow    float64
	VoltageRange  float64
	VoltageCenter float64
	Measurements  measure.Items
	TimeCursors   measure.TimeCursors
	VoltCursors   measure.VoltCursors
	MathMode      bool
	Window        dsp.Window
	SpectrumInDB  bool
}

func DefaultSettings() Settings {
	return Settings{
		Acquisition:   acq.DefaultSettings(),
		Conditioning:  dsp.ConditionSettings{AverageDepth: MinAverageDepth},
		Trigger:       trigger.DefaultConfig(),
		TimeWindow:    DefaultTimeWindow,
		VoltageRange:  DefaultVoltageRange,
		VoltageCenter: DefaultVoltageCenter,
		Measurements:  measure.AllItems,
		Window:        dsp.HannWindow,
		SpectrumInDB:  true,
	}
}

// NormalizedConditioning clamps the averaging depth to [1, 64] and the persistence depth to [0, 50].
func NormalizedConditioning(settings dsp.ConditionSettings) dsp.ConditionSettings {
	settings.AverageDepth = min(max(settings.AverageDepth, MinAverageDepth), MaxAverageDepth)
	settings.PersistenceDepth = min(max(settings.PersistenceDepth, 0), MaxPersistenceDepth)
	return settings
}

// WindowSamples is the number of samples shown in the given time window, at least one.
func WindowSamples(timeWindow float64, sampleRate float64) int {
	return max(1, int(timeWindow*max(1, sampleRate)))
}

func formatStatusLine(status acq.Status, packets uint64, bytes uint64) string {
	return fmt.Sprintf("connected: %s  running: %s  state: %s  buffered: %d  round: %d/%d bytes  packets: %d  bytes: %d",
		yesNo(status.Connected), yesNo(status.Running), status.State, status.Buffered,
		status.Round.Bytes, status.ExpectedBytes(), packets, bytes)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
