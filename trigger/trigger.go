// Package trigger finds a stable edge in the sample history and aligns the display window to it.
package trigger

import (
	"fmt"
	"strings"

	"github.com/ftl/fpgascope/calib"
	"github.com/ftl/fpgascope/dsp"
)

// MinSamples is the minimum length of the source for a trigger attempt.
const MinSamples = 8

const (
	DefaultHysteresis = 0.020
	DefaultPretrigger = 0.25
	MaxPretrigger     = 0.9
)

type Slope int

const (
	Rising Slope = iota
	Falling
)

func (s Slope) String() string {
	switch s {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return fmt.Sprintf("Slope(%d)", int(s))
	}
}

func ParseSlope(s string) (Slope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rising", "up", "+":
		return Rising, nil
	case "falling", "down", "-":
		return Falling, nil
	default:
		return Rising, fmt.Errorf("invalid slope %q, use rising or falling", s)
	}
}

// Source selects the channel that is searched for the trigger edge.
type Source int

const (
	CH0 Source = iota
	CH1
)

func (s Source) String() string {
	switch s {
	case CH0:
		return "CH0"
	case CH1:
		return "CH1"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

func ParseSource(s string) (Source, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CH0", "0":
		return CH0, nil
	case "CH1", "1":
		return CH1, nil
	default:
		return CH0, fmt.Errorf("invalid trigger source %q, use CH0 or CH1", s)
	}
}

// Config of the trigger. Level and Hysteresis are in volts, Pretrigger is the ratio of the window
// before the trigger point.
type Config struct {
	Enabled    bool
	Source     Source
	Level      float64
	Slope      Slope
	Pretrigger float64
	Hysteresis float64
}

// DefaultConfig returns a disabled rising edge trigger at 0V.
func DefaultConfig() Config {
	return Config{
		Source:     CH0,
		Slope:      Rising,
		Pretrigger: DefaultPretrigger,
		Hysteresis: DefaultHysteresis,
	}
}

// Normalized returns a copy with the pretrigger ratio clamped to [0, MaxPretrigger] and a non-negative hysteresis.
func (c Config) Normalized() Config {
	c.Pretrigger = min(max(c.Pretrigger, 0), MaxPretrigger)
	c.Hysteresis = max(c.Hysteresis, 0)
	return c
}

// Thresholds returns the upper and lower threshold in code units.
func (c Config) Thresholds(cal calib.Calibration) (upper float64, lower float64) {
	level := cal.VoltToCode(c.Level)
	half := 0.5 * cal.MagnitudeToCode(c.Hysteresis)
	return level + half, level - half
}

// Find returns the index of the first edge in the source that crosses the thresholds in the configured direction.
// The edge is only detected after the signal was on the other side of the hysteresis band.
func Find[T dsp.Number](source []T, config Config, cal calib.Calibration) (int, bool) {
	if len(source) < MinSamples {
		return 0, false
	}
	upper, lower := config.Thresholds(cal)

	armed := false
	for i := 1; i < len(source); i++ {
		previous := float64(source[i-1])
		current := float64(source[i])
		if !armed {
			switch config.Slope {
			case Rising:
				armed = current <= lower
			case Falling:
				armed = current >= upper
			}
			continue
		}

		switch config.Slope {
		case Rising:
			if previous < upper && upper <= current {
				return i, true
			}
		case Falling:
			if previous > lower && lower >= current {
				return i, true
			}
		}
	}
	return 0, false
}

// Window returns the bounds [start, end) of the display window around the trigger index.
// The window is min(windowSize, length) long and starts pretrigger * window length before the trigger
// index. The start is shifted back if the window would exceed the source.
func Window(index int, length int, windowSize int, pretrigger float64) (int, int) {
	window := min(windowSize, length)
	if window < 0 {
		window = 0
	}
	pre := int(pretrigger * float64(window))
	start := max(0, index-pre)
	end := start + window
	if end > length {
		end = length
		start = max(0, end-window)
	}
	return start, end
}

// Align searches the trigger edge in the configured source channel and slices both channels to the
// display window of windowSize samples. If no edge is found, ok is false and the channels are not touched.
// CH1 is only used as source and only sliced if its length equals the length of CH0.
func Align[T dsp.Number](ch0 []T, ch1 []T, windowSize int, config Config, cal calib.Calibration) (aligned0 []T, aligned1 []T, ok bool) {
	config = config.Normalized()
	matching := len(ch1) == len(ch0) && len(ch1) > 0

	source := ch0
	if config.Source == CH1 && matching {
		source = ch1
	}

	index, found := Find(source, config, cal)
	if !found {
		return nil, nil, false
	}

	start, end := Window(index, len(source), windowSize, config.Pretrigger)
	aligned0 = ch0[start:end]
	if matching {
		aligned1 = ch1[start:end]
	}
	return aligned0, aligned1, true
}
