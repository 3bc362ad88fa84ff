package udp

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Sender sends command datagrams to the device through its own short-timeout socket.
type Sender struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

// Dial opens the command socket to the given device address.
func Dial(address string) (*Sender, error) {
	remoteAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", address, err)
	}
	conn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("cannot open command socket to %s: %w", address, err)
	}
	return &Sender{conn: conn}, nil
}

// Send the given bytes as one datagram.
func (s *Sender) Send(datagram []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return net.ErrClosed
	}

	err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err != nil {
		return err
	}
	n, err := s.conn.Write(datagram)
	if err != nil {
		return fmt.Errorf("send to %v failed: %w", s.conn.RemoteAddr(), err)
	}
	if n != len(datagram) {
		return fmt.Errorf("short send to %v: %d of %d bytes", s.conn.RemoteAddr(), n, len(datagram))
	}
	return nil
}

func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
