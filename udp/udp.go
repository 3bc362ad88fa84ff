// Package udp implements the datagram link to the acquisition device.
package udp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultDestination     = "192.168.0.2"
	DefaultDestinationPort = 5000
	DefaultLocalPort       = 6102
	DefaultClockHz         = 25e6
	DefaultQueueSize       = 65536

	readTimeout       = 200 * time.Millisecond
	writeTimeout      = 200 * time.Millisecond
	readBufferSize    = 65536
	socketBufferSize  = 8 * 1024 * 1024
	defaultStopPeriod = time.Second
)

// NetConfig describes the link to the device. It must not change while an acquisition round is running.
type NetConfig struct {
	Destination     string
	DestinationPort int
	LocalPort       int
	ClockHz         float64
}

// DefaultNetConfig returns the default link configuration.
func DefaultNetConfig() NetConfig {
	return NetConfig{
		Destination:     DefaultDestination,
		DestinationPort: DefaultDestinationPort,
		LocalPort:       DefaultLocalPort,
		ClockHz:         DefaultClockHz,
	}
}

// DestinationAddress returns the device address in host:port notation.
func (c NetConfig) DestinationAddress() string {
	return net.JoinHostPort(c.Destination, strconv.Itoa(c.DestinationPort))
}

// LocalAddress returns the local bind address on all interfaces.
func (c NetConfig) LocalAddress() string {
	return fmt.Sprintf(":%d", c.LocalPort)
}

func (c NetConfig) Validate() error {
	if c.Destination == "" {
		return errors.New("no destination address")
	}
	if c.DestinationPort <= 0 || c.DestinationPort > 65535 {
		return fmt.Errorf("invalid destination port %d", c.DestinationPort)
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("invalid local port %d", c.LocalPort)
	}
	if c.ClockHz <= 0 {
		return fmt.Errorf("invalid clock frequency %v", c.ClockHz)
	}
	return nil
}

// EventKind distinguishes the events of the receiver.
type EventKind int

const (
	PayloadEvent EventKind = iota
	ErrorEvent
)

func (k EventKind) String() string {
	switch k {
	case PayloadEvent:
		return "payload"
	case ErrorEvent:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is either a received payload or a terminal error of the receiver.
type Event struct {
	Kind    EventKind
	Payload []byte
	Time    time.Time
	Err     error
}
