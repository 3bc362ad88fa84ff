package telnet

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
)

const (
	prompt         = "> "
	readBufferSize = 1024
	maxLineLength  = 256
)

var ErrClosed = errors.New("connection already closed")

// Connection of one console client. Commands are executed one after the other, status messages
// are written between the responses.
type Connection struct {
	conn    io.ReadWriteCloser
	name    string
	handler Handler
	lines   lineAssembler

	msg    chan []byte
	input  chan []byte
	close  chan struct{}
	closed chan struct{}
}

func NewConnection(conn io.ReadWriteCloser, name string, welcome string, handler Handler) *Connection {
	result := &Connection{
		conn:    conn,
		name:    name,
		handler: handler,
		msg:     make(chan []byte, messageQueueSize),
		input:   make(chan []byte, 1),
		close:   make(chan struct{}),
		closed:  make(chan struct{}),
	}

	go result.run(welcome + prompt)
	go result.readLoop()

	return result
}

func (c *Connection) String() string {
	return c.name
}

func (c *Connection) run(greeting string) {
	defer close(c.closed)
	defer func() {
		err := c.conn.Close()
		if err != nil {
			log.Printf("close %s: %v", c.name, err)
		}
	}()

	if err := c.writeAll([]byte(greeting)); err != nil {
		log.Printf("%s: %v", c.name, err)
		return
	}

	for {
		select {
		case <-c.close:
			return
		case bytes := <-c.msg:
			if err := c.writeAll(bytes); err != nil {
				log.Printf("%s: %v", c.name, err)
				return
			}
		case bytes, ok := <-c.input:
			if !ok {
				return
			}
			for _, line := range c.lines.Feed(bytes) {
				if err := c.writeAll([]byte(c.execute(line) + prompt)); err != nil {
					log.Printf("%s: %v", c.name, err)
					return
				}
			}
		}
	}
}

func (c *Connection) execute(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || c.handler == nil {
		return ""
	}
	log.Printf("%s: %s", c.name, line)
	response, err := c.handler(line)
	if err != nil {
		return fmt.Sprintf("error: %v\n", err)
	}
	if response == "" {
		return ""
	}
	return response + "\n"
}

func (c *Connection) readLoop() {
	defer close(c.input)
	buffer := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buffer)
		if n > 0 {
			bytes := make([]byte, n)
			copy(bytes, buffer[:n])
			select {
			case c.input <- bytes:
			case <-c.closed:
				return
			}
		}
		if errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return
		} else if err != nil {
			log.Printf("%s: %v", c.name, err)
			return
		}
	}
}

func (c *Connection) writeAll(bytes []byte) error {
	for len(bytes) > 0 {
		n, err := c.conn.Write(bytes)
		if err != nil {
			return err
		}
		bytes = bytes[n:]
	}
	return nil
}

func (c *Connection) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.close)
		<-c.closed
	}
}

// Write queues the given bytes for the connection. The bytes are dropped if the queue of the connection is full.
func (c *Connection) Write(bytes []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	default:
	}
	select {
	case c.msg <- bytes:
		return len(bytes), nil
	default:
		return 0, nil
	}
}

// Telnet command bytes, RFC 854.
const (
	iac  = 0xff
	sb   = 0xfa
	se   = 0xf0
	will = 0xfb
	dont = 0xfe
)

type iacState int

const (
	iacNone iacState = iota
	iacCommand
	iacOption
	iacSubnegotiation
	iacSubnegotiationEnd
)

// lineAssembler collects the typed bytes into lines. Telnet negotiation sequences are skipped,
// backspace removes the last character.
type lineAssembler struct {
	line  []byte
	state iacState
}

// Feed the given bytes and return the completed lines. Empty lines are skipped.
func (a *lineAssembler) Feed(bytes []byte) []string {
	var result []string
	for _, b := range bytes {
		if a.skip(b) {
			continue
		}
		switch {
		case b == '\r' || b == '\n':
			if len(a.line) > 0 {
				result = append(result, string(a.line))
				a.line = a.line[:0]
			}
		case b == 0x08 || b == 0x7f:
			if len(a.line) > 0 {
				a.line = a.line[:len(a.line)-1]
			}
		case b < 0x20:
		case len(a.line) < maxLineLength:
			a.line = append(a.line, b)
		}
	}
	return result
}

func (a *lineAssembler) skip(b byte) bool {
	switch a.state {
	case iacNone:
		if b != iac {
			return false
		}
		a.state = iacCommand
	case iacCommand:
		switch {
		case b == sb:
			a.state = iacSubnegotiation
		case b >= will && b <= dont:
			a.state = iacOption
		default:
			a.state = iacNone
		}
	case iacOption:
		a.state = iacNone
	case iacSubnegotiation:
		if b == iac {
			a.state = iacSubnegotiationEnd
		}
	case iacSubnegotiationEnd:
		if b == se {
			a.state = iacNone
		} else {
			a.state = iacSubnegotiation
		}
	}
	return true
}
