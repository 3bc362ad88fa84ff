// Package acq implements the acquisition state machine: it accumulates the decoded samples of the
// device into the channel buffers and handles round completion and the re-arm of the device.
package acq

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ftl/fpgascope/frame"
	"github.com/ftl/fpgascope/trace"
	"github.com/ftl/fpgascope/udp"
)

const (
	// MaxEventsPerTick limits the number of queued events that are processed in one call of Drain.
	MaxEventsPerTick = 256

	DefaultPoints = 4096
	DefaultRate   = 25e6
	MinPoints     = 32

	bytesPerSample = 2
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNotRunning   = errors.New("not running")
)

// State of the acquisition.
type State int

const (
	Idle State = iota
	Run
	Pause
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Run:
		return "RUN"
	case Pause:
		return "PAUSE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Mode of the acquisition.
type Mode int

const (
	Single Mode = iota
	Continuous
)

func (m Mode) String() string {
	switch m {
	case Single:
		return "single"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "once":
		return Single, nil
	case "continuous", "cont", "multi":
		return Continuous, nil
	default:
		return Single, fmt.Errorf("invalid mode %q, use single or continuous", s)
	}
}

// Settings of one acquisition run, captured on start.
type Settings struct {
	Channel frame.ChannelCode
	Points  int
	Rate    float64
	Mode    Mode
}

func DefaultSettings() Settings {
	return Settings{
		Channel: frame.Channel1,
		Points:  DefaultPoints,
		Rate:    DefaultRate,
		Mode:    Single,
	}
}

func (s Settings) Validate() error {
	switch s.Channel {
	case frame.Channel1, frame.Channel2, frame.DualChannel:
	default:
		return fmt.Errorf("invalid channel %v", s.Channel)
	}
	if s.Points < 1 {
		return fmt.Errorf("invalid number of points %d", s.Points)
	}
	if s.Rate <= 0 {
		return fmt.Errorf("invalid sample rate %v", s.Rate)
	}
	return nil
}

// Counters of the current round.
type Counters struct {
	Samples int
	Packets int
	Bytes   int
}

// Sender sends command datagrams to the device.
type Sender interface {
	Send([]byte) error
}

// Logger receives the status messages of the acquisition. *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, args ...any)
}

// Status is a consistent view of the acquisition.
type Status struct {
	Connected  bool
	Running    bool
	State      State
	Settings   Settings
	Divider    uint32
	SampleRate float64
	Buffered   int
	Round      Counters
}

// ExpectedBytes is the number of bytes of a complete round.
func (s Status) ExpectedBytes() int {
	return s.Settings.Points * bytesPerSample
}

// Acquisition owns the channel buffers. The buffers are only mutated by the consumer of the receive queue;
// readers get copies through Snapshot. All methods are safe for concurrent use.
type Acquisition struct {
	logger Logger
	tracer trace.Tracer

	mu        sync.Mutex
	clockHz   float64
	sender    Sender
	connected bool
	running   bool
	state     State
	settings  Settings
	divider   uint32
	ch0       []int16
	ch1       []int16
	round     Counters
}

// New returns an idle acquisition for a device with the given clock frequency.
func New(clockHz float64, logger Logger) *Acquisition {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Acquisition{
		logger:   logger,
		tracer:   new(trace.NoTracer),
		clockHz:  clockHz,
		settings: DefaultSettings(),
		ch0:      []int16{},
		ch1:      []int16{},
	}
}

func (a *Acquisition) SetTracer(tracer trace.Tracer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tracer == nil {
		tracer = new(trace.NoTracer)
	}
	a.tracer = tracer
}

// Connect sets the sender for the device commands and the device clock frequency.
func (a *Acquisition) Connect(sender Sender, clockHz float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sender = sender
	a.clockHz = clockHz
	a.connected = true
}

// Disconnect stops a running acquisition and releases the sender.
func (a *Acquisition) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		a.running = false
		a.logger.Printf("acquisition stopped")
	}
	a.state = Idle
	a.sender = nil
	a.connected = false
}

// Start a new acquisition run: the buffers and round counters are cleared and the complete configuration
// is sent to the device in one datagram. A failing send is logged, the acquisition runs anyway.
func (a *Acquisition) Start(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return ErrNotConnected
	}

	a.settings = settings
	a.divider = frame.DividerFor(a.clockHz, settings.Rate)
	a.ch0 = []int16{}
	a.ch1 = []int16{}
	a.round = Counters{}

	a.send(frame.BuildConfigAndStart(settings.Channel, uint32(settings.Points), a.divider))

	a.running = true
	a.state = Run
	a.logger.Printf("acquisition started (%s, channel %s, N=%d, divider=%d, fs=%.3f MS/s)",
		settings.Mode, settings.Channel, settings.Points, a.divider, frame.SampleRate(a.clockHz, a.divider)/1e6)
	return nil
}

// Stop the acquisition. Received payloads are dropped until the next start.
func (a *Acquisition) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		a.logger.Printf("acquisition stopped")
	}
	a.running = false
	a.state = Idle
}

// TogglePause switches between RUN and PAUSE. This is only possible while connected and running.
func (a *Acquisition) TogglePause() (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return a.state, ErrNotConnected
	}
	if !a.running {
		return a.state, ErrNotRunning
	}

	switch a.state {
	case Pause:
		a.state = Run
		a.logger.Printf("resumed, samples are buffered again")
	default:
		a.state = Pause
		a.logger.Printf("paused, received samples are dropped")
	}
	return a.state, nil
}

// Drain processes up to limit events from the given queue without blocking. It returns the number of
// processed events and the error of the first error event.
func (a *Acquisition) Drain(events <-chan udp.Event, limit int) (int, error) {
	if limit <= 0 {
		limit = MaxEventsPerTick
	}
	var result error
	processed := 0
	for processed < limit {
		select {
		case event, ok := <-events:
			if !ok {
				return processed, result
			}
			processed++
			switch event.Kind {
			case udp.ErrorEvent:
				a.logger.Printf("receive error: %v", event.Err)
				if result == nil {
					result = event.Err
				}
			case udp.PayloadEvent:
				a.Process(event.Payload)
			}
		default:
			return processed, result
		}
	}
	return processed, result
}

// Process one received payload.
func (a *Acquisition) Process(payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch0, ch1 := frame.Decode(payload, a.settings.Channel, a.settings.Channel.Dual())
	a.tracer.Trace(trace.Decode, "%d bytes -> %d samples (%s)\n", len(payload), len(ch0), a.state)
	if len(ch0) == 0 {
		return
	}
	if a.state != Run {
		return
	}

	a.round.Bytes += len(payload)
	a.round.Packets++
	switch a.settings.Mode {
	case Single:
		a.appendSingle(ch0, ch1)
	case Continuous:
		a.appendContinuous(ch0, ch1)
	}
}

func (a *Acquisition) appendSingle(ch0, ch1 []int16) {
	target := a.settings.Points
	take := min(len(ch0), max(0, target-len(a.ch0)))
	if take > 0 {
		a.ch0 = append(a.ch0, ch0[:take]...)
		if ch1 != nil {
			a.ch1 = append(a.ch1, ch1[:take]...)
		}
	}
	a.round.Samples += take

	if len(a.ch0) < target || !a.running {
		return
	}

	a.running = false
	a.state = Idle
	expected := target * bytesPerSample
	if a.round.Bytes != expected {
		a.logger.Printf("possible packet loss: expected %d bytes, received %d bytes", expected, a.round.Bytes)
	} else {
		a.logger.Printf("byte count of the round matches")
	}
	a.round = Counters{}
	a.logger.Printf("single acquisition complete (%d points)", len(a.ch0))
}

func (a *Acquisition) appendContinuous(ch0, ch1 []int16) {
	target := a.settings.Points
	a.ch0 = keepLast(append(a.ch0, ch0...), target)
	if ch1 != nil {
		a.ch1 = keepLast(append(a.ch1, ch1...), target)
	}
	a.round.Samples += len(ch0)

	if a.round.Samples < target {
		return
	}
	// the re-arm is sent and the round is reset in the same critical section,
	// so a burst of payloads cannot trigger more than one re-arm per round
	if a.running && a.state == Run {
		a.send(frame.BuildStartOnly())
	}
	a.round = Counters{}
}

func keepLast(samples []int16, n int) []int16 {
	if len(samples) <= n {
		return samples
	}
	result := make([]int16, n)
	copy(result, samples[len(samples)-n:])
	return result
}

func (a *Acquisition) send(datagram []byte) {
	if a.sender == nil {
		a.logger.Printf("cannot send command: %v", ErrNotConnected)
		return
	}
	err := a.sender.Send(datagram)
	if err != nil {
		a.logger.Printf("send failed: %v", err)
	}
}

// Snapshot returns copies of both channel buffers, taken in the same critical section.
// CH1 is only filled in dual channel mode.
func (a *Acquisition) Snapshot() ([]int16, []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch0 := make([]int16, len(a.ch0))
	copy(ch0, a.ch0)
	ch1 := make([]int16, len(a.ch1))
	copy(ch1, a.ch1)
	return ch0, ch1
}

func (a *Acquisition) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Connected:  a.connected,
		Running:    a.running,
		State:      a.state,
		Settings:   a.settings,
		Divider:    a.divider,
		SampleRate: frame.SampleRate(a.clockHz, a.divider),
		Buffered:   len(a.ch0),
		Round:      a.round,
	}
}

func (a *Acquisition) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Acquisition) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SampleRate returns the effective sample rate of the current settings.
func (a *Acquisition) SampleRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return frame.SampleRate(a.clockHz, a.divider)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
