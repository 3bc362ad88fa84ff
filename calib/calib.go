// Package calib provides the linear map between zero-centered sample codes and volts.
package calib

import (
	"fmt"

	"github.com/ftl/fpgascope/dsp"
)

// Two point calibration of the analog front end: 0xFD <-> -0.25V, 0x52 <-> +3.20V.
const (
	DefaultOffset      = 2.271674
	DefaultVoltsPerLSB = 0.0201754385965
)

// Calibration maps a zero-centered code s to volts: V = Offset + VoltsPerLSB * s.
// It is loaded once at startup and passed by value to everything that needs physical units.
type Calibration struct {
	Offset      float64
	VoltsPerLSB float64
}

// Default is the calibration of the reference hardware.
var Default = Calibration{
	Offset:      DefaultOffset,
	VoltsPerLSB: DefaultVoltsPerLSB,
}

// New returns a calibration with the given offset and slope. The slope must not be zero.
func New(offset float64, voltsPerLSB float64) (Calibration, error) {
	if voltsPerLSB == 0 {
		return Calibration{}, fmt.Errorf("the calibration slope must not be zero")
	}
	return Calibration{Offset: offset, VoltsPerLSB: voltsPerLSB}, nil
}

func (c Calibration) String() string {
	return fmt.Sprintf("V = %.6f + %.9f * s", c.Offset, c.VoltsPerLSB)
}

// CodeToVolt converts a code value to volts.
func (c Calibration) CodeToVolt(s float64) float64 {
	return c.Offset + c.VoltsPerLSB*s
}

// VoltToCode converts volts to a (fractional) code value.
func (c Calibration) VoltToCode(v float64) float64 {
	return (v - c.Offset) / c.VoltsPerLSB
}

// MagnitudeToCode converts a voltage difference, e.g. a hysteresis width, to code units.
func (c Calibration) MagnitudeToCode(v float64) float64 {
	return c.VoltToCode(v) - c.VoltToCode(0)
}

// ToVolts converts the given code values to volts.
func ToVolts[T dsp.Number](c Calibration, samples []T) []float64 {
	result := make([]float64, len(samples))
	for i, s := range samples {
		result[i] = c.CodeToVolt(float64(s))
	}
	return result
}
