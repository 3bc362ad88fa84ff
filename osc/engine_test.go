package osc

import (
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/fpgascope/acq"
	"github.com/ftl/fpgascope/autorange"
	"github.com/ftl/fpgascope/calib"
	"github.com/ftl/fpgascope/dsp"
	"github.com/ftl/fpgascope/frame"
	"github.com/ftl/fpgascope/measure"
	"github.com/ftl/fpgascope/scope"
	"github.com/ftl/fpgascope/trigger"
	"github.com/ftl/fpgascope/udp"
)

var testTime = time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)

var testClock = autorange.ClockFunc(func() time.Time { return testTime })

type testScope struct {
	mu             sync.Mutex
	timeFrames     []*scope.TimeFrame
	spectralFrames []*scope.SpectralFrame
}

func (s *testScope) ShowTimeFrame(frame *scope.TimeFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeFrames = append(s.timeFrames, frame)
}

func (s *testScope) ShowSpectralFrame(frame *scope.SpectralFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spectralFrames = append(s.spectralFrames, frame)
}

func (s *testScope) lastTimeFrame() *scope.TimeFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timeFrames) == 0 {
		return nil
	}
	return s.timeFrames[len(s.timeFrames)-1]
}

func (s *testScope) timeFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timeFrames)
}

type testListener struct {
	mu    sync.Mutex
	lines []string
}

func (l *testListener) StatusMessage(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, text)
}

func (l *testListener) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

type testTracer struct {
	lines []string
}

func (t *testTracer) Context() string { return "trigger" }
func (t *testTracer) Start()          {}
func (t *testTracer) Stop()           {}

func (t *testTracer) Trace(context string, format string, args ...any) {
	if context != t.Context() {
		return
	}
	t.lines = append(t.lines, context+": "+fmt.Sprintf(format, args...))
}

type nopSender struct{}

func (nopSender) Send([]byte) error { return nil }

// rawSine returns n raw bytes of a sine with the given amplitude in code units and the given period in samples.
func rawSine(n int, amplitude float64, period int) []byte {
	result := make([]byte, n)
	for i := range result {
		s := math.Round(amplitude * math.Sin(2*math.Pi*float64(i)/float64(period)))
		result[i] = byte(128 - int(s))
	}
	return result
}

func rawConstant(n int, value byte) []byte {
	result := make([]byte, n)
	for i := range result {
		result[i] = value
	}
	return result
}

func singlePayload(raw []byte) []byte {
	result := make([]byte, 2*len(raw))
	for i, b := range raw {
		result[2*i] = b
	}
	return result
}

func dualPayload(raw0 []byte, raw1 []byte) []byte {
	result := make([]byte, 2*len(raw0))
	for i := range raw0 {
		result[2*i] = raw1[i]
		result[2*i+1] = raw0[i]
	}
	return result
}

func testSettings(channel frame.ChannelCode, points int) acq.Settings {
	return acq.Settings{
		Channel: channel,
		Points:  points,
		Rate:    1e6,
		Mode:    acq.Single,
	}
}

// newTestEngine returns an engine that is not started, with a connected acquisition but without sockets.
func newTestEngine(t *testing.T, settings acq.Settings) (*Engine, *testScope, *testListener) {
	t.Helper()
	sink := new(testScope)
	listener := new(testListener)
	engine := NewEngine(DefaultConfig(), testClock, sink)
	engine.Notify(listener)
	engine.acquisition.Connect(nopSender{}, udp.DefaultClockHz)
	require.NoError(t, engine.SetAcquisition(settings))
	require.NoError(t, engine.StartAcquisition())
	return engine, sink, listener
}

func TestTick_RendersTimeFrame(t *testing.T) {
	engine, sink, listener := newTestEngine(t, testSettings(frame.Channel1, 64))
	engine.acquisition.Process(singlePayload(rawConstant(64, 0x80)))

	engine.Tick()

	require.Equal(t, 1, sink.timeFrameCount())
	timeFrame := sink.lastTimeFrame()
	assert.Equal(t, TimeStream, timeFrame.Stream)
	assert.Equal(t, testTime, timeFrame.Timestamp)
	assert.Equal(t, 1e6, timeFrame.SampleRate)
	assert.Equal(t, DefaultTimeWindow, timeFrame.TimeWindow)
	assert.Equal(t, DefaultVoltageRange, timeFrame.VoltageRange)
	require.Len(t, timeFrame.Values[scope.CH0], 64)
	for _, v := range timeFrame.Values[scope.CH0] {
		assert.InDelta(t, calib.DefaultOffset, v, 1e-9)
	}
	assert.NotContains(t, timeFrame.Values, scope.CH1)
	assert.Equal(t, []string{"Vpp=0.000 V", "Vavg=2.272 V", "Vrms=2.272 V"}, timeFrame.Measurements)
	assert.False(t, engine.Status().Running)
	assert.True(t, listener.contains("byte count of the round matches"))
}

func TestTick_CursorReadout(t *testing.T) {
	engine, sink, _ := newTestEngine(t, testSettings(frame.Channel1, 64))
	engine.SetMeasurements(measure.Items{PeakToPeak: true})
	engine.SetCursors(measure.TimeCursors{Enabled: true, T1: 0, T2: 1e-3}, measure.VoltCursors{Enabled: true, V1: 1, V2: 1.5})
	engine.acquisition.Process(singlePayload(rawConstant(64, 0x80)))

	engine.Tick()

	require.Equal(t, 1, sink.timeFrameCount())
	assert.Equal(t, []string{"Vpp=0.000 V", "dt=1.000 ms  1/dt=1000.000 Hz", "dV=0.500 V"}, sink.lastTimeFrame().Measurements)
}

func TestTick_NoDataNoFrame(t *testing.T) {
	engine, sink, _ := newTestEngine(t, testSettings(frame.Channel1, 64))

	engine.Tick()

	assert.Equal(t, 0, sink.timeFrameCount())
}

func TestTick_TimeWindowTail(t *testing.T) {
	engine, sink, _ := newTestEngine(t, testSettings(frame.Channel1, 64))
	engine.acquisition.Process(singlePayload(rawSine(64, 50, 16)))
	require.NoError(t, engine.SetTimeWindow(10.5e-6))

	engine.Tick()

	timeFrame := sink.lastTimeFrame()
	require.NotNil(t, timeFrame)
	values := timeFrame.Values[scope.CH0]
	require.Len(t, values, 10)
	expected := calib.ToVolts(calib.Default, frame.Invert(rawSine(64, 50, 16)))
	assert.InDeltaSlice(t, expected[54:], values, 1e-9)
}

func TestTick_DualChannel(t *testing.T) {
	engine, sink, _ := newTestEngine(t, testSettings(frame.DualChannel, 32))
	engine.acquisition.Process(dualPayload(rawConstant(32, 0x80), rawConstant(32, 0x7F)))

	engine.Tick()

	timeFrame := sink.lastTimeFrame()
	require.NotNil(t, timeFrame)
	require.Len(t, timeFrame.Values[scope.CH0], 32)
	require.Len(t, timeFrame.Values[scope.CH1], 32)
	assert.InDelta(t, calib.Default.CodeToVolt(0), timeFrame.Values[scope.CH0][0], 1e-9)
	assert.InDelta(t, calib.Default.CodeToVolt(1), timeFrame.Values[scope.CH1][0], 1e-9)
}

func TestTick_PeakHoldAndPersistence(t *testing.T) {
	engine, sink, _ := newTestEngine(t, testSettings(frame.Channel1, 32))
	engine.acquisition.Process(singlePayload(rawConstant(32, 0x80)))
	engine.SetConditioning(dsp.ConditionSettings{AverageDepth: 1, PeakHold: true, PersistenceDepth: 3})

	engine.Tick()
	engine.Tick()
	engine.Tick()

	timeFrame := sink.lastTimeFrame()
	require.NotNil(t, timeFrame)
	assert.Len(t, timeFrame.Values[scope.CH0PeakMax], 32)
	assert.Len(t, timeFrame.Values[scope.CH0PeakMin], 32)
	assert.Len(t, timeFrame.History[scope.CH0], 2)
}

func TestTick_TriggerAlignIsTraced(t *testing.T) {
	engine, sink, _ := newTestEngine(t, testSettings(frame.Channel1, 256))
	tracer := new(testTracer)
	engine.SetTracer(tracer)
	engine.acquisition.Process(singlePayload(rawSine(256, 50, 16)))
	config := trigger.DefaultConfig()
	config.Enabled = true
	config.Level = calib.Default.CodeToVolt(0)
	engine.SetTrigger(config)

	engine.Tick()

	require.NotNil(t, sink.lastTimeFrame())
	require.Len(t, tracer.lines, 1)
	assert.True(t, strings.HasPrefix(tracer.lines[0], "trigger: aligned 256 of 256 samples"), tracer.lines[0])
}

func TestTick_MathMode(t *testing.T) {
	engine, sink, _ := newTestEngine(t, testSettings(frame.Channel1, 256))
	engine.acquisition.Process(singlePayload(rawSine(256, 50, 16)))
	engine.SetMathMode(true)

	engine.Tick()

	assert.Equal(t, 0, sink.timeFrameCount())
	require.Len(t, sink.spectralFrames, 1)
	spectralFrame := sink.spectralFrames[0]
	assert.Equal(t, SpectrumStream, spectralFrame.Stream)
	assert.Equal(t, 0.0, spectralFrame.FromFrequency)
	assert.Equal(t, 0.5e6, spectralFrame.ToFrequency)
	assert.Len(t, spectralFrame.Values, 129)
	assert.InDelta(t, 1e6/16, spectralFrame.FrequencyMarkers[PeakMarker], 1e6/256)
}

func TestAutoset(t *testing.T) {
	engine, _, listener := newTestEngine(t, testSettings(frame.Channel1, 256))

	err := engine.Autoset(true)
	assert.ErrorIs(t, err, ErrNoData)
	assert.True(t, listener.contains("not enough data for autoset"))

	engine.acquisition.Process(singlePayload(rawSine(256, 50, 16)))
	err = engine.Autoset(true)
	require.NoError(t, err)

	settings := engine.Settings()
	assert.True(t, settings.Trigger.Enabled)
	assert.Equal(t, trigger.CH0, settings.Trigger.Source)
	assert.Equal(t, trigger.Rising, settings.Trigger.Slope)
	assert.InDelta(t, settings.VoltageCenter, settings.Trigger.Level, 1e-9)
	assert.InDelta(t, calib.DefaultOffset, settings.VoltageCenter, 0.1)
	assert.Greater(t, settings.VoltageRange, 1.0)
	assert.GreaterOrEqual(t, settings.TimeWindow, 0.2e-3)
	scale, follow := engine.AutoActive()
	assert.True(t, scale)
	assert.True(t, follow)

	require.NoError(t, engine.SetVoltageRange(1))
	scale, follow = engine.AutoActive()
	assert.False(t, scale)
	assert.True(t, follow)
	assert.True(t, listener.contains("auto scale stopped"))

	config := engine.Settings().Trigger
	config.Slope = trigger.Falling
	config.Pretrigger = 0.25
	config.Hysteresis = 0.05
	engine.SetTrigger(config)
	_, follow = engine.AutoActive()
	assert.True(t, follow)
	assert.Equal(t, trigger.Falling, engine.Settings().Trigger.Slope)

	config.Level += 0.1
	engine.SetTrigger(config)
	_, follow = engine.AutoActive()
	assert.False(t, follow)
	assert.True(t, listener.contains("manual trigger level"))
}

func TestAutoset_Quick(t *testing.T) {
	engine, _, _ := newTestEngine(t, testSettings(frame.Channel1, 256))
	engine.acquisition.Process(singlePayload(rawSine(256, 50, 16)))

	err := engine.Autoset(false)
	require.NoError(t, err)

	settings := engine.Settings()
	assert.False(t, settings.Trigger.Enabled)
	assert.InDelta(t, settings.VoltageCenter, settings.Trigger.Level, 1e-9)
	assert.InDelta(t, 100*calib.DefaultVoltsPerLSB, settings.VoltageRange, 1e-6)

	engine.StopAuto()
	scale, follow := engine.AutoActive()
	assert.False(t, scale)
	assert.False(t, follow)
}

func TestSetters(t *testing.T) {
	engine := NewEngine(DefaultConfig(), testClock, nil)

	engine.SetConditioning(dsp.ConditionSettings{AverageDepth: 100, PersistenceDepth: -1})
	engine.SetMeasurements(measure.Items{RMS: true})
	engine.SetSpectrum(dsp.BlackmanWindow, false)
	engine.SetVoltageCenter(1.5)
	assert.Error(t, engine.SetTimeWindow(0))
	assert.Error(t, engine.SetVoltageRange(-1))
	assert.Error(t, engine.SetAcquisition(acq.Settings{}))

	settings := engine.Settings()
	assert.Equal(t, MaxAverageDepth, settings.Conditioning.AverageDepth)
	assert.Equal(t, 0, settings.Conditioning.PersistenceDepth)
	assert.Equal(t, measure.Items{RMS: true}, settings.Measurements)
	assert.Equal(t, dsp.BlackmanWindow, settings.Window)
	assert.False(t, settings.SpectrumInDB)
	assert.Equal(t, 1.5, settings.VoltageCenter)
	assert.Equal(t, DefaultTimeWindow, settings.TimeWindow)
}

func TestNormalizedConditioning(t *testing.T) {
	tt := []struct {
		desc     string
		value    dsp.ConditionSettings
		expected dsp.ConditionSettings
	}{
		{"in range", dsp.ConditionSettings{AverageDepth: 8, PersistenceDepth: 5}, dsp.ConditionSettings{AverageDepth: 8, PersistenceDepth: 5}},
		{"too low", dsp.ConditionSettings{AverageDepth: 0, PersistenceDepth: -3}, dsp.ConditionSettings{AverageDepth: 1, PersistenceDepth: 0}},
		{"too high", dsp.ConditionSettings{AverageDepth: 65, PersistenceDepth: 51, ACCoupling: true}, dsp.ConditionSettings{AverageDepth: 64, PersistenceDepth: 50, ACCoupling: true}},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizedConditioning(tc.value))
		})
	}
}

func TestWindowSamples(t *testing.T) {
	tt := []struct {
		desc       string
		timeWindow float64
		sampleRate float64
		expected   int
	}{
		{"default", 2e-3, 25e6, 50000},
		{"at least one", 1e-9, 1e3, 1},
		{"zero sample rate", 2.5, 0, 2},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, WindowSamples(tc.timeWindow, tc.sampleRate))
		})
	}
}

func TestSave(t *testing.T) {
	engine, _, listener := newTestEngine(t, testSettings(frame.Channel1, 4))
	dir := t.TempDir()

	err := engine.Save(filepath.Join(dir, "empty.csv"))
	assert.ErrorIs(t, err, ErrNoData)

	engine.acquisition.Process(singlePayload([]byte{0x80, 0x7F, 0x81, 0x80}))

	filename := filepath.Join(dir, "wave.csv")
	require.NoError(t, engine.Save(filename))
	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "t(s),value\n0.000000000,0\n0.000001000,1\n0.000002000,-1\n0.000003000,0\n", string(content))
	assert.True(t, listener.contains("saved "+filename+" (4 points)"))

	parquetFilename := filepath.Join(dir, "wave.parquet")
	require.NoError(t, engine.Save(parquetFilename))
	info, err := os.Stat(parquetFilename)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	quickFilename, err := engine.QuickSave(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wave_20240305_070809.csv"), quickFilename)
	assert.FileExists(t, quickFilename)
}

func TestStatusLine(t *testing.T) {
	engine, _, _ := newTestEngine(t, testSettings(frame.Channel1, 64))
	engine.acquisition.Process(singlePayload(rawConstant(16, 0x80)))

	line := engine.StatusLine()

	assert.Equal(t, "connected: yes  running: yes  state: RUN  buffered: 16  round: 32/128 bytes  packets: 0  bytes: 0", line)
}

func TestEngine_LoopbackDevice(t *testing.T) {
	device, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer device.Close()

	config := DefaultConfig()
	config.Net = udp.NetConfig{
		Destination:     "127.0.0.1",
		DestinationPort: device.LocalAddr().(*net.UDPAddr).Port,
		LocalPort:       0,
		ClockHz:         udp.DefaultClockHz,
	}
	config.TickPeriod = 5 * time.Millisecond
	sink := new(testScope)
	engine := NewEngine(config, testClock, sink)
	engine.Start()
	defer engine.Stop()

	require.NoError(t, engine.Connect())
	assert.ErrorIs(t, engine.Connect(), ErrConnected)
	require.Eventually(t, func() bool { return engine.ReceiverAddr() != nil }, time.Second, 5*time.Millisecond)
	receiverPort := engine.ReceiverAddr().(*net.UDPAddr).Port

	require.NoError(t, engine.SetAcquisition(testSettings(frame.Channel1, 64)))
	require.NoError(t, engine.StartAcquisition())

	buffer := make([]byte, 1024)
	device.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := device.ReadFromUDP(buffer)
	require.NoError(t, err)
	assert.Equal(t, 4*frame.CommandSize, n)
	assert.Equal(t, frame.BuildConfigAndStart(frame.Channel1, 64, frame.DividerFor(udp.DefaultClockHz, 1e6)), buffer[:n])

	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: receiverPort}
	_, err = device.WriteToUDP(singlePayload(rawSine(32, 50, 16)), target)
	require.NoError(t, err)
	_, err = device.WriteToUDP(singlePayload(rawSine(32, 50, 16)), target)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status := engine.Status()
		return !status.Running && status.Buffered == 64
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		timeFrame := sink.lastTimeFrame()
		return timeFrame != nil && len(timeFrame.Values[scope.CH0]) == 64
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, engine.StatusLine(), "packets: 2  bytes: 128")

	engine.Disconnect()
	assert.False(t, engine.Connected())
}

func TestEngine_ReceiverTerminated(t *testing.T) {
	occupied, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err)
	defer occupied.Close()

	device, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer device.Close()

	config := DefaultConfig()
	config.Net = udp.NetConfig{
		Destination:     "127.0.0.1",
		DestinationPort: device.LocalAddr().(*net.UDPAddr).Port,
		LocalPort:       occupied.LocalAddr().(*net.UDPAddr).Port,
		ClockHz:         udp.DefaultClockHz,
	}
	listener := new(testListener)
	engine := NewEngine(config, testClock, nil)
	engine.Notify(listener)
	logOutput := new(lockedBuffer)
	log.SetOutput(logOutput)
	defer log.SetOutput(os.Stderr)

	require.NoError(t, engine.Connect())
	require.Eventually(t, func() bool {
		engine.Tick()
		return !engine.Connected()
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, listener.contains("receiver terminated: cannot bind"))
	assert.Contains(t, logOutput.String(), "receive errors in 1 queued events, first: cannot bind")
	assert.True(t, listener.contains("disconnected"))
	assert.False(t, engine.Status().Connected)
}

func TestEngine_CommandsDuringStartAndStop(t *testing.T) {
	config := DefaultConfig()
	config.TickPeriod = time.Millisecond
	engine := NewEngine(config, testClock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan struct{})
	go func() {
		defer close(commands)
		for i := 0; i < 500; i++ {
			engine.SetVoltageCenter(float64(i) / 1000)
			engine.Settings()
			engine.Tick()
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	<-commands

	engine.SetVoltageCenter(1.5)
	assert.Equal(t, 1.5, engine.Settings().VoltageCenter)

	engine.Start()
	engine.SetVoltageCenter(-1.5)
	assert.Equal(t, -1.5, engine.Settings().VoltageCenter)
	engine.Stop()
	engine.Stop()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
