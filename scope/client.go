package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client allows to connect to a scope server and receive frames.
type Client struct {
	address string

	conn *grpc.ClientConn
}

// NewClient creates a new client for the given address.
func NewClient(address string) *Client {
	return &Client{
		address: address,
	}
}

// Open the connection to the scope server.
func (c *Client) Open() error {
	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, err := grpc.NewClient(c.address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("cannot connect to scope server: %v", err)
	}
	c.conn = conn

	return nil
}

// Close the connection to the scope server.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// GetFrames provides a set of channels to receive frames from the scope server. Both channels are closed
// when the stream ends or the context is done.
func (c *Client) GetFrames(ctx context.Context) (chan *TimeFrame, chan *SpectralFrame, error) {
	if c.conn == nil {
		return nil, nil, fmt.Errorf("not connected")
	}
	stream, err := c.conn.NewStream(ctx, &scopeServiceDesc.Streams[0], getFramesMethod)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open frame stream: %v", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, nil, fmt.Errorf("cannot request frames: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, fmt.Errorf("cannot request frames: %v", err)
	}

	timeFrames := make(chan *TimeFrame, 1)
	spectralFrames := make(chan *SpectralFrame, 1)
	go func() {
		defer close(timeFrames)
		defer close(spectralFrames)
		for {
			raw := new(structpb.Struct)
			err := stream.RecvMsg(raw)
			if errors.Is(err, io.EOF) {
				return
			} else if err != nil {
				log.Printf("frame stream closed: %v", err)
				return
			}

			timeFrame, spectralFrame, err := decodeFrame(raw)
			if err != nil {
				log.Printf("invalid frame: %v", err)
				continue
			}
			if timeFrame != nil {
				select {
				case timeFrames <- timeFrame:
				case <-ctx.Done():
					return
				}
			}
			if spectralFrame != nil {
				select {
				case spectralFrames <- spectralFrame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return timeFrames, spectralFrames, nil
}
