package acq

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/fpgascope/frame"
	"github.com/ftl/fpgascope/udp"
)

type testSender struct {
	datagrams [][]byte
	err       error
}

func (s *testSender) Send(datagram []byte) error {
	s.datagrams = append(s.datagrams, append([]byte{}, datagram...))
	return s.err
}

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *testLogger) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// singlePayload encodes n samples of the given raw byte value in the single channel format.
func singlePayload(n int, raw byte) []byte {
	result := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		result[2*i] = raw
	}
	return result
}

func dualPayload(n int, raw0 byte, raw1 byte) []byte {
	result := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		result[2*i] = raw1
		result[2*i+1] = raw0
	}
	return result
}

func setup(t *testing.T, settings Settings) (*Acquisition, *testSender, *testLogger) {
	t.Helper()
	logger := new(testLogger)
	sender := new(testSender)
	acquisition := New(25e6, logger)
	acquisition.Connect(sender, 25e6)
	require.NoError(t, acquisition.Start(settings))
	return acquisition, sender, logger
}

func TestStart_NotConnected(t *testing.T) {
	acquisition := New(25e6, nil)

	err := acquisition.Start(DefaultSettings())

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, acquisition.Running())
	assert.Equal(t, Idle, acquisition.State())
}

func TestStart_InvalidSettings(t *testing.T) {
	acquisition := New(25e6, nil)
	acquisition.Connect(new(testSender), 25e6)

	err := acquisition.Start(Settings{Channel: 0x07, Points: 100, Rate: 1e6})
	assert.Error(t, err)
	err = acquisition.Start(Settings{Channel: frame.Channel1, Points: 0, Rate: 1e6})
	assert.Error(t, err)
	assert.False(t, acquisition.Running())
}

func TestStart_SendsConfiguration(t *testing.T) {
	acquisition, sender, _ := setup(t, Settings{Channel: frame.DualChannel, Points: 100, Rate: 1e6, Mode: Single})

	require.Len(t, sender.datagrams, 1)
	assert.Equal(t, frame.BuildConfigAndStart(frame.DualChannel, 100, 24), sender.datagrams[0])

	status := acquisition.Status()
	assert.True(t, status.Connected)
	assert.True(t, status.Running)
	assert.Equal(t, Run, status.State)
	assert.Equal(t, uint32(24), status.Divider)
	assert.Equal(t, 1e6, status.SampleRate)
	assert.Equal(t, 200, status.ExpectedBytes())
}

func TestStart_ResetsBuffers(t *testing.T) {
	acquisition, _, _ := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Continuous})
	acquisition.Process(singlePayload(30, 128))

	require.NoError(t, acquisition.Start(Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Continuous}))

	ch0, _ := acquisition.Snapshot()
	assert.Empty(t, ch0)
	assert.Equal(t, Counters{}, acquisition.Status().Round)
}

func TestSingle_StopsAtTarget(t *testing.T) {
	acquisition, sender, logger := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Single})

	acquisition.Process(singlePayload(40, 128))
	acquisition.Process(singlePayload(40, 128))
	assert.True(t, acquisition.Running())
	acquisition.Process(singlePayload(40, 128))

	ch0, ch1 := acquisition.Snapshot()
	assert.Len(t, ch0, 100)
	assert.Empty(t, ch1)
	assert.False(t, acquisition.Running())
	assert.Equal(t, Idle, acquisition.State())
	assert.Equal(t, Counters{}, acquisition.Status().Round)
	assert.True(t, logger.contains("expected 200 bytes, received 240 bytes"))
	assert.Len(t, sender.datagrams, 1, "no re-arm in single mode")

	acquisition.Process(singlePayload(40, 128))
	ch0, _ = acquisition.Snapshot()
	assert.Len(t, ch0, 100, "payloads after completion are dropped")
}

func TestSingle_ExactByteCount(t *testing.T) {
	acquisition, _, logger := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Single})

	acquisition.Process(singlePayload(50, 100))
	acquisition.Process(singlePayload(50, 100))

	ch0, _ := acquisition.Snapshot()
	require.Len(t, ch0, 100)
	assert.Equal(t, int16(28), ch0[0])
	assert.False(t, acquisition.Running())
	assert.True(t, logger.contains("byte count of the round matches"))
	assert.False(t, logger.contains("possible packet loss"))
}

func TestSingle_Dual(t *testing.T) {
	acquisition, _, _ := setup(t, Settings{Channel: frame.DualChannel, Points: 10, Rate: 1e6, Mode: Single})

	acquisition.Process(dualPayload(6, 100, 150))
	acquisition.Process(dualPayload(6, 100, 150))

	ch0, ch1 := acquisition.Snapshot()
	require.Len(t, ch0, 10)
	require.Len(t, ch1, 10)
	assert.Equal(t, int16(28), ch0[9])
	assert.Equal(t, int16(-22), ch1[9])
}

func TestContinuous_SlidingWindowAndRearm(t *testing.T) {
	acquisition, sender, _ := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Continuous})

	for k := 0; k < 5; k++ {
		acquisition.Process(singlePayload(30, byte(100+k)))
	}

	ch0, _ := acquisition.Snapshot()
	require.Len(t, ch0, 100)
	assert.Equal(t, int16(27), ch0[0], "tail of the second packet")
	assert.Equal(t, int16(27), ch0[9])
	assert.Equal(t, int16(26), ch0[10])
	assert.Equal(t, int16(24), ch0[99], "most recent packet")

	require.Len(t, sender.datagrams, 2)
	assert.Equal(t, frame.BuildStartOnly(), sender.datagrams[1])
	assert.Equal(t, Counters{Samples: 30, Packets: 1, Bytes: 60}, acquisition.Status().Round)
	assert.True(t, acquisition.Running())
	assert.Equal(t, Run, acquisition.State())
}

func TestContinuous_OneRearmPerRound(t *testing.T) {
	acquisition, sender, _ := setup(t, Settings{Channel: frame.Channel1, Points: 10, Rate: 1e6, Mode: Continuous})

	acquisition.Process(singlePayload(25, 128))

	ch0, _ := acquisition.Snapshot()
	assert.Len(t, ch0, 10)
	assert.Len(t, sender.datagrams, 2)
	assert.Equal(t, Counters{}, acquisition.Status().Round)
}

func TestPause(t *testing.T) {
	acquisition, sender, _ := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Continuous})
	acquisition.Process(singlePayload(30, 128))
	roundBefore := acquisition.Status().Round

	state, err := acquisition.TogglePause()
	require.NoError(t, err)
	assert.Equal(t, Pause, state)

	acquisition.Process(singlePayload(90, 128))
	ch0, _ := acquisition.Snapshot()
	assert.Len(t, ch0, 30, "buffer unchanged while paused")
	assert.Equal(t, roundBefore, acquisition.Status().Round, "round counters unchanged while paused")
	assert.Len(t, sender.datagrams, 1, "no re-arm while paused")

	state, err = acquisition.TogglePause()
	require.NoError(t, err)
	assert.Equal(t, Run, state)

	acquisition.Process(singlePayload(30, 128))
	ch0, _ = acquisition.Snapshot()
	assert.Len(t, ch0, 60, "accumulation continues")
	assert.Equal(t, 60, acquisition.Status().Round.Samples)
}

func TestTogglePause_Preconditions(t *testing.T) {
	acquisition := New(25e6, nil)
	_, err := acquisition.TogglePause()
	assert.ErrorIs(t, err, ErrNotConnected)

	acquisition.Connect(new(testSender), 25e6)
	_, err = acquisition.TogglePause()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, Idle, acquisition.State())
}

func TestStop_DropsPayloads(t *testing.T) {
	acquisition, _, _ := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Continuous})
	acquisition.Process(singlePayload(30, 128))

	acquisition.Stop()
	acquisition.Process(singlePayload(30, 128))

	ch0, _ := acquisition.Snapshot()
	assert.Len(t, ch0, 30)
	assert.False(t, acquisition.Running())
	assert.Equal(t, Idle, acquisition.State())
}

func TestSendFailureIsNotFatal(t *testing.T) {
	logger := new(testLogger)
	acquisition := New(25e6, logger)
	acquisition.Connect(&testSender{err: errors.New("network unreachable")}, 25e6)

	err := acquisition.Start(Settings{Channel: frame.Channel1, Points: 10, Rate: 1e6, Mode: Continuous})

	require.NoError(t, err)
	assert.True(t, acquisition.Running())
	assert.True(t, logger.contains("network unreachable"))
}

func TestDisconnect(t *testing.T) {
	acquisition, _, _ := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Continuous})

	acquisition.Disconnect()

	status := acquisition.Status()
	assert.False(t, status.Connected)
	assert.False(t, status.Running)
	assert.Equal(t, Idle, status.State)
	assert.ErrorIs(t, acquisition.Start(DefaultSettings()), ErrNotConnected)
}

func TestDrain(t *testing.T) {
	acquisition, _, logger := setup(t, Settings{Channel: frame.Channel1, Points: 1000, Rate: 1e6, Mode: Continuous})
	events := make(chan udp.Event, 10)
	events <- udp.Event{Kind: udp.PayloadEvent, Payload: singlePayload(10, 128)}
	events <- udp.Event{Kind: udp.ErrorEvent, Err: errors.New("receive failed")}
	events <- udp.Event{Kind: udp.PayloadEvent, Payload: singlePayload(10, 128)}
	events <- udp.Event{Kind: udp.PayloadEvent, Payload: singlePayload(10, 128)}

	processed, err := acquisition.Drain(events, 2)
	assert.Equal(t, 2, processed)
	assert.EqualError(t, err, "receive failed")
	assert.True(t, logger.contains("receive failed"))

	processed, err = acquisition.Drain(events, 0)
	assert.Equal(t, 2, processed)
	assert.NoError(t, err)

	processed, err = acquisition.Drain(events, 0)
	assert.Equal(t, 0, processed)
	assert.NoError(t, err)

	ch0, _ := acquisition.Snapshot()
	assert.Len(t, ch0, 30)
}

func TestProcess_MalformedPayloads(t *testing.T) {
	acquisition, _, _ := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Continuous})

	acquisition.Process(nil)
	acquisition.Process([]byte{1})
	acquisition.Process([]byte{128, 0, 128})

	ch0, _ := acquisition.Snapshot()
	assert.Equal(t, []int16{0}, ch0)
}

func TestSnapshot_IsACopy(t *testing.T) {
	acquisition, _, _ := setup(t, Settings{Channel: frame.Channel1, Points: 100, Rate: 1e6, Mode: Continuous})
	acquisition.Process(singlePayload(3, 128))

	ch0, _ := acquisition.Snapshot()
	ch0[0] = 99

	actual, _ := acquisition.Snapshot()
	assert.Equal(t, []int16{0, 0, 0}, actual)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("Continuous")
	require.NoError(t, err)
	assert.Equal(t, Continuous, mode)
	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}
