package scope

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultOutBufferSize = 10

	serviceName     = "fpgascope.Scope"
	getFramesMethod = "/" + serviceName + "/GetFrames"
)

// frameServer is the server side of the scope service.
type frameServer interface {
	GetFrames(*emptypb.Empty, grpc.ServerStream) error
}

// scopeServiceDesc describes the scope service with its single server streaming method GetFrames.
var scopeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*frameServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetFrames",
			Handler:       getFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fpgascope/scope",
}

func getFramesHandler(srv any, stream grpc.ServerStream) error {
	request := new(emptypb.Empty)
	if err := stream.RecvMsg(request); err != nil {
		return err
	}
	return srv.(frameServer).GetFrames(request, stream)
}

type grpcServer struct {
	address *net.TCPAddr

	outBufferSize int
	in            chan *structpb.Struct
	register      chan chan *structpb.Struct
	out           []chan *structpb.Struct
	shutdown      chan struct{}

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
}

func newGRPCServer(address string, outBufferSize int) (*grpcServer, error) {
	result := &grpcServer{
		outBufferSize: outBufferSize,
		in:            make(chan *structpb.Struct),
		register:      make(chan chan *structpb.Struct),
		shutdown:      make(chan struct{}),
	}

	localAddress, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve address %s: %w", address, err)
	}
	result.address = localAddress

	return result, nil
}

func (s *grpcServer) run() {
	for {
		select {
		case <-s.shutdown:
			for _, out := range s.out {
				close(out)
			}
			s.out = nil
			return
		case out := <-s.register:
			s.out = append(s.out, out)
		case frame := <-s.in:
			s.sendFrameToStreams(frame)
		}
	}
}

// sendFrameToStreams closes and removes every stream that cannot take the frame immediately.
func (s *grpcServer) sendFrameToStreams(frame *structpb.Struct) {
	active := s.out[:0]
	for _, out := range s.out {
		select {
		case out <- frame:
			active = append(active, out)
		default:
			close(out)
		}
	}
	clear(s.out[len(active):])
	s.out = active
}

func (s *grpcServer) getFrameStream() chan *structpb.Struct {
	result := make(chan *structpb.Struct, s.outBufferSize)
	select {
	case s.register <- result:
	case <-s.shutdown:
		close(result)
	}
	return result
}

func (s *grpcServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *grpcServer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

// Start serves the scope service until Stop is called. A server can only be started once.
func (s *grpcServer) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return fmt.Errorf("server already stopped")
	default:
	}

	listener, err := net.Listen("tcp", s.address.String())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("cannot listen on address %s: %w", s.address, err)
	}
	server := grpc.NewServer()
	server.RegisterService(&scopeServiceDesc, s)
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	go s.run()

	err = server.Serve(listener)
	close(s.shutdown)
	return err
}

func (s *grpcServer) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return
	}
	server.Stop()
}

func (s *grpcServer) GetFrames(_ *emptypb.Empty, stream grpc.ServerStream) error {
	frames := s.getFrameStream()
	for {
		select {
		case frame, open := <-frames:
			if !open {
				return nil
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// SendFrame hands the frame to all registered streams. It does not block on slow streams.
func (s *grpcServer) SendFrame(frame *structpb.Struct) {
	if !s.Running() {
		return
	}
	select {
	case s.in <- frame:
	case <-s.shutdown:
	}
}
