// Package telnet provides a line based remote console. Every connection can execute commands,
// the status messages are broadcast to all connections.
package telnet

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"
)

const (
	acceptDeadline            = 100 * time.Millisecond
	connectionKeepAlivePeriod = 30 * time.Second
	messageQueueSize          = 64
)

// Handler executes one command line and returns the response.
type Handler func(line string) (string, error)

type Server struct {
	listener *net.TCPListener
	welcome  string
	handler  Handler

	connections []*Connection

	msg    chan []byte
	close  chan struct{}
	closed chan struct{}
}

// NewServer listens on the given address and serves the connections in the background until Stop is called.
func NewServer(address string, version string, handler Handler) (*Server, error) {
	localAddress, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenTCP("tcp", localAddress)
	if err != nil {
		return nil, err
	}

	result := &Server{
		listener: listener,
		welcome:  fmt.Sprintf("fpgascope Version %s, type help for a list of commands\n", version),
		handler:  handler,
		msg:      make(chan []byte, messageQueueSize),
		close:    make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go result.run()

	return result, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) run() {
	defer close(s.closed)
	defer s.listener.Close()

	for {
		select {
		case <-s.close:
			for _, conn := range s.connections {
				conn.Close()
			}
			s.connections = nil
			return
		case bytes := <-s.msg:
			s.broadcast(bytes)
		default:
			if !s.accept() {
				return
			}
		}
	}
}

// accept waits a short time for a new connection. It returns false if the listener is broken.
func (s *Server) accept() bool {
	err := s.listener.SetDeadline(time.Now().Add(acceptDeadline))
	if err != nil {
		log.Printf("setting the listener deadline failed: %v", err)
		return false
	}
	conn, err := s.listener.AcceptTCP()
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	} else if err != nil {
		log.Printf("accepting a connection failed: %v", err)
		return true
	}

	log.Printf("new console connection from %v", conn.RemoteAddr())
	conn.SetKeepAlivePeriod(connectionKeepAlivePeriod)
	conn.SetKeepAlive(true)
	s.connections = append(s.connections, NewConnection(conn, conn.RemoteAddr().String(), s.welcome, s.handler))
	return true
}

// broadcast removes every connection that is already closed.
func (s *Server) broadcast(bytes []byte) {
	active := s.connections[:0]
	for _, conn := range s.connections {
		_, err := conn.Write(bytes)
		if err != nil {
			log.Printf("removing closed connection %s", conn)
			continue
		}
		active = append(active, conn)
	}
	clear(s.connections[len(active):])
	s.connections = active
}

func (s *Server) Stop() {
	select {
	case <-s.closed:
		return
	default:
		close(s.close)
		<-s.closed
	}
}

// StatusMessage broadcasts the given text to all connections. The message is dropped if the broadcast queue is full.
func (s *Server) StatusMessage(text string) {
	select {
	case s.msg <- []byte(formatStatusMessage(text)):
	default:
		log.Printf("status message dropped: %s", text)
	}
}

func formatStatusMessage(text string) string {
	return "* " + strings.TrimRight(text, "\r\n") + "\n"
}
