package udp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ReceiverState is the lifecycle state of a Receiver.
type ReceiverState int32

const (
	Stopped ReceiverState = iota
	Binding
	Receiving
)

func (s ReceiverState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Binding:
		return "binding"
	case Receiving:
		return "receiving"
	default:
		return fmt.Sprintf("ReceiverState(%d)", int32(s))
	}
}

// Receiver owns the datagram socket and runs the receive loop in its own goroutine.
// Received payloads and errors are delivered through the Events channel.
// A receiver terminates on its first error; create a new one to reconnect.
type Receiver struct {
	localAddress string
	events       chan Event

	state   atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64
	err     atomic.Pointer[error]

	addr     atomic.Pointer[net.UDPAddr]
	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// NewReceiver creates a receiver for the given local address with an event queue of the given capacity.
func NewReceiver(localAddress string, queueSize int) *Receiver {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Receiver{
		localAddress: localAddress,
		events:       make(chan Event, queueSize),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Start the receive loop. The socket is bound inside the loop, a bind failure is reported as error event.
func (r *Receiver) Start() {
	r.state.Store(int32(Binding))
	go r.run()
}

// Events returns the event queue of this receiver.
func (r *Receiver) Events() <-chan Event {
	return r.events
}

func (r *Receiver) State() ReceiverState {
	return ReceiverState(r.state.Load())
}

// Alive indicates if the receive loop is still running.
func (r *Receiver) Alive() bool {
	select {
	case <-r.stopped:
		return false
	default:
		return true
	}
}

// Done is closed when the receive loop has terminated.
func (r *Receiver) Done() <-chan struct{} {
	return r.stopped
}

// Err returns the error that terminated the receive loop, if any.
func (r *Receiver) Err() error {
	err := r.err.Load()
	if err == nil {
		return nil
	}
	return *err
}

// Addr returns the bound local address, or nil if the socket is not bound yet.
func (r *Receiver) Addr() *net.UDPAddr {
	return r.addr.Load()
}

// Packets returns the total number of received datagrams.
func (r *Receiver) Packets() uint64 {
	return r.packets.Load()
}

// Bytes returns the total number of received bytes.
func (r *Receiver) Bytes() uint64 {
	return r.bytes.Load()
}

// Stop signals the receive loop to stop and waits up to the given timeout for it to terminate.
func (r *Receiver) Stop(timeout time.Duration) error {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	if timeout <= 0 {
		timeout = defaultStopPeriod
	}
	select {
	case <-r.stopped:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("receiver did not stop within %v", timeout)
	}
}

func (r *Receiver) run() {
	defer close(r.stopped)
	defer r.state.Store(int32(Stopped))

	listenConfig := net.ListenConfig{Control: controlSocket}
	packetConn, err := listenConfig.ListenPacket(context.Background(), "udp", r.localAddress)
	if err != nil {
		r.fail(fmt.Errorf("cannot bind %s: %w", r.localAddress, err))
		return
	}
	conn := packetConn.(*net.UDPConn)
	defer conn.Close()

	localAddr, _ := conn.LocalAddr().(*net.UDPAddr)
	r.addr.Store(localAddr)
	r.state.Store(int32(Receiving))
	log.Printf("receiving on %v", localAddr)

	buffer := make([]byte, readBufferSize)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		err := conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err != nil {
			r.fail(fmt.Errorf("setting the read deadline failed: %w", err))
			return
		}
		n, _, err := conn.ReadFromUDP(buffer)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// ignore, nothing to read
			continue
		} else if err != nil {
			r.fail(fmt.Errorf("receive failed: %w", err))
			return
		}

		r.packets.Add(1)
		r.bytes.Add(uint64(n))

		payload := make([]byte, n)
		copy(payload, buffer[:n])
		select {
		case r.events <- Event{Kind: PayloadEvent, Payload: payload, Time: time.Now()}:
		case <-r.stop:
			return
		}
	}
}

func (r *Receiver) fail(err error) {
	r.err.Store(&err)
	log.Printf("receiver: %v", err)
	select {
	case r.events <- Event{Kind: ErrorEvent, Err: err, Time: time.Now()}:
	case <-r.stop:
	}
}
