// Package serialctl provides the serial control link of the FPGA board. The board accepts text commands
// terminated with a semicolon and raw bytes that are forwarded to the selected peripheral.
package serialctl

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/jacobsa/go-serial/serial"
)

const (
	DefaultBaudRate = 115200

	commandTerminator = ";"
	readBufferSize    = 1024
	eventQueueSize    = 16
)

var ErrClosed = errors.New("serial port closed")

type EventKind int

const (
	DataEvent EventKind = iota
	ErrorEvent
)

// Event of the read loop: either received bytes or the error that closed the port.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Port is an open control link. A failing read or write closes the port.
type Port struct {
	port   io.ReadWriteCloser
	name   string
	events chan Event

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// Open the serial port with the given name, using 8N1 framing.
func Open(portName string, baudRate uint) (*Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	options := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baudRate,
		DataBits:        8,
		ParityMode:      serial.PARITY_NONE,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", portName, err)
	}
	log.Printf("connected to %s (%d baud)", portName, baudRate)
	return NewPort(port, portName), nil
}

// NewPort wraps the given byte stream and starts the read loop.
func NewPort(port io.ReadWriteCloser, name string) *Port {
	result := &Port{
		port:    port,
		name:    name,
		events:  make(chan Event, eventQueueSize),
		closeCh: make(chan struct{}),
	}
	go result.readLoop()
	return result
}

func (p *Port) String() string {
	return p.name
}

// Events returns the received bytes. The channel is closed when the port is closed.
func (p *Port) Events() <-chan Event {
	return p.events
}

func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.close()
}

func (p *Port) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closeCh)
	err := p.port.Close()
	log.Printf("port %s closed", p.name)
	return err
}

// Send the given text command. The terminating semicolon is appended if missing.
func (p *Port) Send(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	if !strings.HasSuffix(command, commandTerminator) {
		command += commandTerminator
	}
	return p.write([]byte(command))
}

// SendRaw sends the given bytes unchanged.
func (p *Port) SendRaw(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return p.write(data)
}

// SendHex sends the bytes of the given hex string, see ParseHex.
func (p *Port) SendHex(s string) error {
	data, err := ParseHex(s)
	if err != nil {
		return err
	}
	return p.SendRaw(data)
}

// SendSPI sends the payload of the transfer as raw bytes if there is one, otherwise the SPI command.
func (p *Port) SendSPI(transfer SPI) error {
	if len(transfer.Data) > 0 {
		return p.SendRaw(transfer.Data)
	}
	command, err := transfer.Command()
	if err != nil {
		return err
	}
	return p.Send(command)
}

func (p *Port) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	buffer := data
	for len(buffer) > 0 {
		n, err := p.port.Write(buffer)
		if err != nil {
			p.close()
			return fmt.Errorf("write to %s failed: %w", p.name, err)
		}
		buffer = buffer[n:]
	}
	return nil
}

func (p *Port) readLoop() {
	defer close(p.events)
	buffer := make([]byte, readBufferSize)
	for {
		n, err := p.port.Read(buffer)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buffer[:n])
			if !p.emit(Event{Kind: DataEvent, Data: data}) {
				return
			}
		}
		if err == nil {
			continue
		}

		select {
		case <-p.closeCh:
			return
		default:
		}
		log.Printf("read from %s failed: %v", p.name, err)
		p.emit(Event{Kind: ErrorEvent, Err: err})
		p.Close()
		return
	}
}

func (p *Port) emit(event Event) bool {
	select {
	case p.events <- event:
		return true
	case <-p.closeCh:
		return false
	}
}

// ParseHex parses a string of hex digits into bytes. The digits may be split into whitespace separated
// fields, each with an optional 0x prefix.
func ParseHex(s string) ([]byte, error) {
	fields := strings.Fields(s)
	for i, field := range fields {
		fields[i] = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
	}
	s = strings.Join(fields, "")
	if s == "" {
		return nil, nil
	}
	result, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", s, err)
	}
	return result, nil
}
