package osc

import (
	"context"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ftl/fpgascope/acq"
	"github.com/ftl/fpgascope/autorange"
	"github.com/ftl/fpgascope/dsp"
	"github.com/ftl/fpgascope/export"
	"github.com/ftl/fpgascope/measure"
	"github.com/ftl/fpgascope/scope"
	"github.com/ftl/fpgascope/trace"
	"github.com/ftl/fpgascope/trigger"
	"github.com/ftl/fpgascope/udp"
)

// Engine is the consumer of the receive queue. On every tick it drains the queue into the acquisition,
// updates the auto range and renders a frame from a snapshot of the channel buffers.
//
// All operations are executed on the loop goroutine while the engine is started, otherwise on the
// goroutine of the caller with the engine locked.
type Engine struct {
	config Config
	clock  autorange.Clock
	sink   scope.Scope
	status *statusLog
	tracer trace.Tracer

	acquisition  *acq.Acquisition
	estimator    *autorange.Estimator
	conditioners [2]*dsp.Conditioner
	settings     Settings

	receiver *udp.Receiver
	sender   *udp.Sender

	op      chan func()
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	stopped chan struct{}
}

func NewEngine(config Config, clock autorange.Clock, sink scope.Scope) *Engine {
	if clock == nil {
		clock = autorange.WallClock
	}
	if sink == nil {
		sink = scope.NewNullScope()
	}
	if config.TickPeriod <= 0 {
		config.TickPeriod = DefaultTickPeriod
	}
	if config.QueueSize <= 0 {
		config.QueueSize = udp.DefaultQueueSize
	}

	result := &Engine{
		config:    config,
		clock:     clock,
		sink:      sink,
		status:    new(statusLog),
		tracer:    new(trace.NoTracer),
		estimator: autorange.NewEstimator(clock),
		settings:  DefaultSettings(),
		op:        make(chan func()),
	}
	result.acquisition = acq.New(config.Net.ClockHz, result.status)
	result.conditioners = [2]*dsp.Conditioner{dsp.NewConditioner(), dsp.NewConditioner()}
	return result
}

// Start the loop of the engine.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}

	e.stop = make(chan struct{})
	e.stopped = make(chan struct{})
	e.running = true

	go e.run(e.stop, e.stopped)
}

// Stop the loop of the engine and disconnect from the device.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}

	close(e.stop)
	<-e.stopped
	e.running = false

	e.disconnect()
	e.tracer.Stop()
}

// Run the engine until the given context is done.
func (e *Engine) Run(ctx context.Context) error {
	e.Start()
	<-ctx.Done()
	e.Stop()
	return nil
}

// do executes f on the loop goroutine. While the loop is not running, f is executed on the
// goroutine of the caller with the engine locked.
func (e *Engine) do(f func()) {
	e.mu.Lock()
	if !e.running {
		defer e.mu.Unlock()
		f()
		return
	}
	stopped := e.stopped
	e.mu.Unlock()

	select {
	case e.op <- f:
	case <-stopped:
		e.do(f)
	}
}

func (e *Engine) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(e.config.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case op := <-e.op:
			op()
		case <-ticker.C:
			e.tick()
		}
	}
}

// Notify registers a listener for the status messages.
func (e *Engine) Notify(listener Listener) {
	e.status.Notify(listener)
}

func (e *Engine) SetTracer(tracer trace.Tracer) {
	if tracer == nil {
		tracer = new(trace.NoTracer)
	}
	e.do(func() {
		e.tracer.Stop()
		e.tracer = tracer
		e.tracer.Start()
		e.acquisition.SetTracer(tracer)
	})
}

// Connect binds the receive socket and opens the command socket to the device.
func (e *Engine) Connect() error {
	result := make(chan error, 1)
	e.do(func() {
		result <- e.connect()
	})
	return <-result
}

func (e *Engine) connect() error {
	if e.receiver != nil {
		return ErrConnected
	}
	if err := e.config.Net.Validate(); err != nil {
		return err
	}

	receiver := udp.NewReceiver(e.config.Net.LocalAddress(), e.config.QueueSize)
	receiver.Start()

	sender, err := udp.Dial(e.config.Net.DestinationAddress())
	if err != nil {
		receiver.Stop(receiverStopTimeout)
		return fmt.Errorf("cannot create the command socket: %w", err)
	}

	e.receiver = receiver
	e.sender = sender
	e.acquisition.Connect(sender, e.config.Net.ClockHz)
	e.status.Printf("connected to %s, local port %d", e.config.Net.DestinationAddress(), e.config.Net.LocalPort)
	return nil
}

// Disconnect stops a running acquisition, the receiver and closes the command socket.
func (e *Engine) Disconnect() {
	e.do(e.disconnect)
}

func (e *Engine) disconnect() {
	if e.receiver == nil {
		return
	}

	e.acquisition.Disconnect()
	if err := e.receiver.Stop(receiverStopTimeout); err != nil {
		e.status.Printf("%v", err)
	}
	if err := e.sender.Close(); err != nil {
		e.status.Printf("cannot close the command socket: %v", err)
	}
	e.receiver = nil
	e.sender = nil
	e.status.Printf("disconnected")
}

func (e *Engine) Connected() bool {
	result := make(chan bool, 1)
	e.do(func() {
		result <- e.receiver != nil
	})
	return <-result
}

// ReceiverAddr returns the bound address of the receive socket, or nil if it is not bound.
func (e *Engine) ReceiverAddr() net.Addr {
	result := make(chan net.Addr, 1)
	e.do(func() {
		if e.receiver == nil {
			result <- nil
			return
		}
		addr := e.receiver.Addr()
		if addr == nil {
			result <- nil
			return
		}
		result <- addr
	})
	return <-result
}

// StartAcquisition sends the current acquisition settings to the device and starts a new round.
func (e *Engine) StartAcquisition() error {
	result := make(chan error, 1)
	e.do(func() {
		err := e.acquisition.Start(e.settings.Acquisition)
		if err == nil {
			e.resetConditioning()
		}
		result <- err
	})
	return <-result
}

func (e *Engine) StopAcquisition() {
	e.do(func() {
		e.acquisition.Stop()
	})
}

func (e *Engine) TogglePause() (acq.State, error) {
	type pauseResult struct {
		state acq.State
		err   error
	}
	result := make(chan pauseResult, 1)
	e.do(func() {
		state, err := e.acquisition.TogglePause()
		result <- pauseResult{state, err}
	})
	r := <-result
	return r.state, r.err
}

// Autoset estimates the display settings from the current buffers, applies them and activates the
// automatic scaling with the trigger following the signal. The stable autoset uses the percentile estimation
// and additionally enables the trigger.
func (e *Engine) Autoset(stable bool) error {
	result := make(chan error, 1)
	e.do(func() {
		result <- e.autoset(stable)
	})
	return <-result
}

func (e *Engine) autoset(stable bool) error {
	ch0, ch1 := e.acquisition.Snapshot()
	suggestion, ok := e.estimator.Autoset(e.autorangeInput(ch0, ch1), stable)
	if !ok {
		e.status.Printf("not enough data for autoset")
		return ErrNoData
	}
	e.apply(suggestion)

	if !stable {
		e.status.Printf("auto scale and trigger follow enabled, a manual change stops them")
		return nil
	}
	e.settings.Trigger.Enabled = true
	e.status.Printf("autoset: source %s, range %.3f V, center %.3f V, time window %.2f ms",
		suggestion.Source, e.settings.VoltageRange, e.settings.VoltageCenter, e.settings.TimeWindow*1e3)
	return nil
}

// StopAuto disables the automatic scaling and the trigger following.
func (e *Engine) StopAuto() {
	e.do(func() {
		e.estimator.Deactivate()
	})
}

// AutoActive indicates if the automatic scaling is active and if the trigger follows the signal.
func (e *Engine) AutoActive() (bool, bool) {
	type activeResult struct {
		scale, follow bool
	}
	result := make(chan activeResult, 1)
	e.do(func() {
		scale, follow := e.estimator.Active()
		result <- activeResult{scale, follow}
	})
	r := <-result
	return r.scale, r.follow
}

func (e *Engine) apply(suggestion autorange.Suggestion) {
	e.settings.TimeWindow = suggestion.TimeWindow
	e.settings.VoltageRange = max(minVoltageRange, suggestion.VoltageRange)
	e.settings.VoltageCenter = suggestion.VoltageCenter
	if suggestion.Trigger != nil {
		e.settings.Trigger.Level = suggestion.Trigger.Level
		e.settings.Trigger.Source = suggestion.Trigger.Source
		e.settings.Trigger.Slope = suggestion.Trigger.Slope
	}
}

func (e *Engine) Settings() Settings {
	result := make(chan Settings, 1)
	e.do(func() {
		result <- e.settings
	})
	return <-result
}

// SetAcquisition sets the acquisition settings that are used for the next start.
func (e *Engine) SetAcquisition(settings acq.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	e.do(func() {
		e.settings.Acquisition = settings
	})
	return nil
}

func (e *Engine) SetConditioning(settings dsp.ConditionSettings) {
	e.do(func() {
		e.settings.Conditioning = NormalizedConditioning(settings)
	})
}

// SetTimeWindow sets the time window in seconds. This stops the automatic scaling.
func (e *Engine) SetTimeWindow(seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("time window %g: %w", seconds, ErrInvalidValue)
	}
	e.do(func() {
		e.settings.TimeWindow = seconds
		e.manualScaleChange()
	})
	return nil
}

// SetVoltageRange sets the visible voltage range. This stops the automatic scaling.
func (e *Engine) SetVoltageRange(volts float64) error {
	if volts <= 0 {
		return fmt.Errorf("voltage range %g: %w", volts, ErrInvalidValue)
	}
	e.do(func() {
		e.settings.VoltageRange = max(minVoltageRange, volts)
		e.manualScaleChange()
	})
	return nil
}

// SetVoltageCenter sets the center of the visible voltage range. This stops the automatic scaling.
func (e *Engine) SetVoltageCenter(volts float64) {
	e.do(func() {
		e.settings.VoltageCenter = volts
		e.manualScaleChange()
	})
}

// SetTrigger sets the trigger configuration. A changed trigger level stops the trigger following.
func (e *Engine) SetTrigger(config trigger.Config) {
	e.do(func() {
		config = config.Normalized()
		levelChanged := config.Level != e.settings.Trigger.Level
		e.settings.Trigger = config
		if levelChanged && e.estimator.ManualTriggerChange() {
			e.status.Printf("manual trigger level, the trigger does not follow the signal anymore")
		}
	})
}

func (e *Engine) manualScaleChange() {
	if e.estimator.ManualScaleChange() {
		e.status.Printf("manual axes control, auto scale stopped")
	}
}

func (e *Engine) SetMeasurements(items measure.Items) {
	e.do(func() {
		e.settings.Measurements = items
	})
}

// SetCursors sets the time cursors in seconds and the voltage cursors in volts. The readout of enabled
// cursors is shown below the measurements.
func (e *Engine) SetCursors(timeCursors measure.TimeCursors, voltCursors measure.VoltCursors) {
	e.do(func() {
		e.settings.TimeCursors = timeCursors
		e.settings.VoltCursors = voltCursors
	})
}

// SetMathMode switches between the time domain and the frequency domain view.
func (e *Engine) SetMathMode(enabled bool) {
	e.do(func() {
		if e.settings.MathMode == enabled {
			return
		}
		e.settings.MathMode = enabled
		if enabled {
			e.status.Printf("switched to frequency domain")
		} else {
			e.status.Printf("switched to time domain")
		}
	})
}

func (e *Engine) SetSpectrum(window dsp.Window, inDB bool) {
	e.do(func() {
		e.settings.Window = window
		e.settings.SpectrumInDB = inDB
	})
}

// Status returns the current state of the acquisition.
func (e *Engine) Status() acq.Status {
	return e.acquisition.Status()
}

// StatusLine returns the current state of the acquisition and the receiver as one line of text.
func (e *Engine) StatusLine() string {
	result := make(chan string, 1)
	e.do(func() {
		var packets, bytes uint64
		if e.receiver != nil {
			packets = e.receiver.Packets()
			bytes = e.receiver.Bytes()
		}
		result <- formatStatusLine(e.acquisition.Status(), packets, bytes)
	})
	return <-result
}

// Save the current buffers into the given file. Files with the extension .parquet are written
// as Parquet, all others as CSV.
func (e *Engine) Save(filename string) error {
	data, ok := e.exportData()
	if !ok {
		e.status.Printf("no data to save")
		return ErrNoData
	}

	var err error
	if strings.EqualFold(filepath.Ext(filename), ".parquet") {
		err = export.SaveParquet(filename, data)
	} else {
		err = export.SaveCSV(filename, data)
	}
	if err != nil {
		e.status.Printf("saving failed: %v", err)
		return err
	}
	e.status.Printf("saved %s (%d points)", filename, len(data.CH0))
	return nil
}

// QuickSave saves the current buffers as CSV into the given directory, the file name is
// derived from the current time.
func (e *Engine) QuickSave(dir string) (string, error) {
	filename := filepath.Join(dir, export.QuickSaveName(e.clock.Now()))
	return filename, e.Save(filename)
}

func (e *Engine) exportData() (export.Data, bool) {
	ch0, ch1 := e.acquisition.Snapshot()
	if len(ch0) == 0 {
		return export.Data{}, false
	}
	status := e.acquisition.Status()
	return export.Data{
		Channel:    status.Settings.Channel,
		SampleRate: status.SampleRate,
		CH0:        ch0,
		CH1:        ch1,
	}, true
}

// Tick processes the queued events and renders the next frame.
func (e *Engine) Tick() {
	e.do(e.tick)
}

func (e *Engine) tick() {
	if e.receiver != nil {
		if n, err := e.acquisition.Drain(e.receiver.Events(), acq.MaxEventsPerTick); err != nil {
			log.Printf("receive errors in %d queued events, first: %v", n, err)
		}
		if !e.receiver.Alive() && len(e.receiver.Events()) == 0 {
			if err := e.receiver.Err(); err != nil {
				e.status.Printf("receiver terminated: %v", err)
			} else {
				e.status.Printf("receiver terminated")
			}
			e.disconnect()
		}
	}

	ch0, ch1 := e.acquisition.Snapshot()
	if suggestion, ok := e.estimator.Update(e.autorangeInput(ch0, ch1), false); ok {
		e.apply(suggestion)
	}

	e.render(ch0, ch1)
}
