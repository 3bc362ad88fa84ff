// Package control interprets the text commands of the remote consoles.
package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ftl/fpgascope/acq"
	"github.com/ftl/fpgascope/dsp"
	"github.com/ftl/fpgascope/frame"
	"github.com/ftl/fpgascope/measure"
	"github.com/ftl/fpgascope/osc"
	"github.com/ftl/fpgascope/trigger"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingValue   = errors.New("missing value")
)

// Controller is the part of the engine that can be controlled remotely. *osc.Engine satisfies this interface.
type Controller interface {
	Connect() error
	Disconnect()
	StartAcquisition() error
	StopAcquisition()
	TogglePause() (acq.State, error)
	Autoset(stable bool) error
	StopAuto()
	StatusLine() string
	Save(filename string) error
	QuickSave(dir string) (string, error)

	Settings() osc.Settings
	SetAcquisition(acq.Settings) error
	SetConditioning(dsp.ConditionSettings)
	SetTimeWindow(seconds float64) error
	SetVoltageRange(volts float64) error
	SetVoltageCenter(volts float64)
	SetTrigger(trigger.Config)
	SetMeasurements(measure.Items)
	SetCursors(measure.TimeCursors, measure.VoltCursors)
	SetMathMode(bool)
	SetSpectrum(window dsp.Window, inDB bool)
}

const help = `commands:
  connect | disconnect
  start | stop | pause
  autoset          stable autoset, enables the trigger
  auto [off]       automatic scaling with trigger follow
  status
  save [<file>]    .parquet or csv, quick save without file name
  math on|off      frequency domain view
  set <name> <value>
names: `

// Execute runs one command line and returns the response text.
func Execute(c Controller, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "help", "?":
		return help + strings.Join(settingNames, ", "), nil
	case "connect":
		if err := c.Connect(); err != nil {
			return "", err
		}
		return "connected", nil
	case "disconnect":
		c.Disconnect()
		return "disconnected", nil
	case "start":
		if err := c.StartAcquisition(); err != nil {
			return "", err
		}
		return "started", nil
	case "stop":
		c.StopAcquisition()
		return "stopped", nil
	case "pause":
		state, err := c.TogglePause()
		if err != nil {
			return "", err
		}
		return state.String(), nil
	case "autoset":
		if err := c.Autoset(true); err != nil {
			return "", err
		}
		return "autoset done", nil
	case "auto":
		if len(args) > 0 {
			enabled, err := parseOnOff(args[0])
			if err != nil {
				return "", err
			}
			if !enabled {
				c.StopAuto()
				return "auto off", nil
			}
		}
		if err := c.Autoset(false); err != nil {
			return "", err
		}
		return "auto on", nil
	case "status":
		return c.StatusLine(), nil
	case "save":
		if len(args) == 0 {
			filename, err := c.QuickSave(".")
			if err != nil {
				return "", err
			}
			return "saved " + filename, nil
		}
		filename := strings.Join(args, " ")
		if err := c.Save(filename); err != nil {
			return "", err
		}
		return "saved " + filename, nil
	case "math":
		if len(args) == 0 {
			return "", fmt.Errorf("math: %w", ErrMissingValue)
		}
		enabled, err := parseOnOff(args[0])
		if err != nil {
			return "", err
		}
		c.SetMathMode(enabled)
		return "math " + args[0], nil
	case "set":
		if len(args) < 2 {
			return "", fmt.Errorf("set: %w", ErrMissingValue)
		}
		name := strings.ToLower(args[0])
		value := strings.Join(args[1:], " ")
		if err := set(c, name, value); err != nil {
			return "", fmt.Errorf("set %s: %w", name, err)
		}
		return fmt.Sprintf("%s = %s", name, value), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

var settingNames = []string{
	"channel", "points", "rate", "mode",
	"timewin", "vrange", "voffset",
	"trigger", "level", "slope", "source", "pretrigger", "hysteresis",
	"ac", "avg", "peak", "persist",
	"window", "db", "meas", "tcursor", "vcursor",
}

func set(c Controller, name string, value string) error {
	var err error
	switch name {
	case "channel", "points", "rate", "mode":
		settings := c.Settings().Acquisition
		switch name {
		case "channel":
			settings.Channel, err = frame.ParseChannelCode(value)
		case "points":
			settings.Points, err = strconv.Atoi(value)
		case "rate":
			settings.Rate, err = strconv.ParseFloat(value, 64)
		case "mode":
			settings.Mode, err = acq.ParseMode(value)
		}
		if err != nil {
			return err
		}
		return c.SetAcquisition(settings)
	case "timewin":
		return setTimeWindow(c, value)
	case "vrange":
		volts, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		return c.SetVoltageRange(volts)
	case "voffset":
		volts, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.SetVoltageCenter(volts)
		return nil
	case "trigger", "level", "slope", "source", "pretrigger", "hysteresis":
		config := c.Settings().Trigger
		switch name {
		case "trigger":
			config.Enabled, err = parseOnOff(value)
		case "level":
			config.Level, err = strconv.ParseFloat(value, 64)
		case "slope":
			config.Slope, err = trigger.ParseSlope(value)
		case "source":
			config.Source, err = trigger.ParseSource(value)
		case "pretrigger":
			config.Pretrigger, err = strconv.ParseFloat(value, 64)
		case "hysteresis":
			config.Hysteresis, err = strconv.ParseFloat(value, 64)
		}
		if err != nil {
			return err
		}
		c.SetTrigger(config)
		return nil
	case "ac", "avg", "peak", "persist":
		settings := c.Settings().Conditioning
		switch name {
		case "ac":
			settings.ACCoupling, err = parseOnOff(value)
		case "avg":
			settings.AverageDepth, err = strconv.Atoi(value)
		case "peak":
			settings.PeakHold, err = parseOnOff(value)
		case "persist":
			settings.PersistenceDepth, err = strconv.Atoi(value)
		}
		if err != nil {
			return err
		}
		c.SetConditioning(settings)
		return nil
	case "window":
		return setWindow(c, value)
	case "db":
		return setDB(c, value)
	case "meas":
		return setMeasurements(c, value)
	case "tcursor", "vcursor":
		return setCursors(c, name, value)
	default:
		return ErrUnknownCommand
	}
}

// the time window is given in milliseconds
func setTimeWindow(c Controller, value string) error {
	ms, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	return c.SetTimeWindow(ms * 1e-3)
}

func setWindow(c Controller, value string) error {
	window, err := dsp.ParseWindow(value)
	if err != nil {
		return err
	}
	c.SetSpectrum(window, c.Settings().SpectrumInDB)
	return nil
}

func setDB(c Controller, value string) error {
	inDB, err := parseOnOff(value)
	if err != nil {
		return err
	}
	c.SetSpectrum(c.Settings().Window, inDB)
	return nil
}

// setMeasurements selects the measurements from a comma separated list of vpp, vavg, vrms, freq, all or none.
func setMeasurements(c Controller, value string) error {
	var items measure.Items
	for _, name := range strings.Split(value, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "vpp":
			items.PeakToPeak = true
		case "vavg":
			items.Average = true
		case "vrms":
			items.RMS = true
		case "freq":
			items.Frequency = true
		case "all":
			items = measure.AllItems
		case "none", "":
		default:
			return fmt.Errorf("invalid measurement %q", name)
		}
	}
	c.SetMeasurements(items)
	return nil
}

// setCursors takes off or two comma separated positions, the time cursors in milliseconds
// and the voltage cursors in volts.
func setCursors(c Controller, name string, value string) error {
	settings := c.Settings()
	timeCursors, voltCursors := settings.TimeCursors, settings.VoltCursors

	enabled := true
	var first, second float64
	if strings.EqualFold(strings.TrimSpace(value), "off") {
		enabled = false
	} else {
		a, b, found := strings.Cut(value, ",")
		if !found {
			return fmt.Errorf("%w: use off or <first>,<second>", ErrMissingValue)
		}
		var err error
		first, err = strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return err
		}
		second, err = strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err != nil {
			return err
		}
	}

	switch name {
	case "tcursor":
		timeCursors.Enabled = enabled
		if enabled {
			timeCursors.T1, timeCursors.T2 = first*1e-3, second*1e-3
		}
	case "vcursor":
		voltCursors.Enabled = enabled
		if enabled {
			voltCursors.V1, voltCursors.V2 = first, second
		}
	}
	c.SetCursors(timeCursors, voltCursors)
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid value %q, use on or off", s)
	}
}
