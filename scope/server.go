package scope

import (
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/protobuf/types/known/structpb"
)

var errAlreadyStarted = errors.New("frame server was already started")

// FrameServer is a scope that publishes the frames to the clients of the gRPC frame service.
// A stopped server can be started again.
type FrameServer struct {
	address   string
	published atomic.Uint64

	mu     sync.Mutex
	server *grpcServer
}

// NewFrameServer creates a frame server that listens on the given address once it is started.
func NewFrameServer(address string) *FrameServer {
	return &FrameServer{
		address: address,
	}
}

func (s *FrameServer) Active() bool {
	return s.current() != nil
}

// Addr returns the listening address, nil while the server is not serving.
func (s *FrameServer) Addr() net.Addr {
	server := s.current()
	if server == nil {
		return nil
	}
	return server.Addr()
}

// Published returns the number of frames that were handed to the frame service.
func (s *FrameServer) Published() uint64 {
	return s.published.Load()
}

// Start serving in the background until Stop is called.
func (s *FrameServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errAlreadyStarted
	}

	server, err := newGRPCServer(s.address, defaultOutBufferSize)
	if err != nil {
		return err
	}
	s.server = server

	go s.serve(server)
	return nil
}

func (s *FrameServer) serve(server *grpcServer) {
	err := server.Start()
	if err != nil {
		log.Printf("frame server failed: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == server {
		s.server = nil
	}
}

func (s *FrameServer) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server != nil {
		server.Stop()
	}
}

func (s *FrameServer) ShowTimeFrame(timeFrame *TimeFrame) {
	s.publish(func() *structpb.Struct { return encodeTimeFrame(timeFrame) })
}

func (s *FrameServer) ShowSpectralFrame(spectralFrame *SpectralFrame) {
	s.publish(func() *structpb.Struct { return encodeSpectralFrame(spectralFrame) })
}

// publish encodes the frame only if the server is serving.
func (s *FrameServer) publish(encode func() *structpb.Struct) {
	server := s.current()
	if server == nil || !server.Running() {
		return
	}
	server.SendFrame(encode())
	s.published.Add(1)
}

func (s *FrameServer) current() *grpcServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}
