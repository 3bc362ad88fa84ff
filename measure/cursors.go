package measure

import "fmt"

// TimeCursors are two vertical cursors on the time axis, in seconds.
type TimeCursors struct {
	Enabled bool
	T1      float64
	T2      float64
}

// Delta returns the time between the cursors and its reciprocal. The frequency is 0 if both cursors are at the same position.
func (c TimeCursors) Delta() (dt float64, frequency float64) {
	dt = c.T2 - c.T1
	if dt == 0 {
		return 0, 0
	}
	return dt, 1 / dt
}

// VoltCursors are two horizontal cursors on the voltage axis, in volts.
type VoltCursors struct {
	Enabled bool
	V1      float64
	V2      float64
}

// Delta returns the voltage between the cursors.
func (c VoltCursors) Delta() float64 {
	return c.V2 - c.V1
}

// Line returns the readout of the cursors, empty if they are disabled.
func (c TimeCursors) Line() string {
	if !c.Enabled {
		return ""
	}
	dt, frequency := c.Delta()
	return fmt.Sprintf("dt=%.3f ms  1/dt=%.3f Hz", dt*1e3, frequency)
}

// Line returns the readout of the cursors, empty if they are disabled.
func (c VoltCursors) Line() string {
	if !c.Enabled {
		return ""
	}
	return fmt.Sprintf("dV=%.3f V", c.Delta())
}
