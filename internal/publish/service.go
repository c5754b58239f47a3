package publish

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service, also used as the health
// check name.
const ServiceName = "guidance.v1.Guidance"

// Method names under ServiceName.
const (
	MethodStreamPlans  = "StreamPlans"
	MethodStreamActive = "StreamActive"
)

// planStreamer is the handler type the service descriptor dispatches to.
type planStreamer interface {
	streamTopic(topic Topic, stream grpc.ServerStream) error
}

// Both RPCs take google.protobuf.Empty and stream google.protobuf.Struct
// frames, so no generated stubs are needed on either side.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*planStreamer)(nil),
	Streams: []grpc.StreamDesc{
		{StreamName: MethodStreamPlans, Handler: topicHandler(TopicPlan), ServerStreams: true},
		{StreamName: MethodStreamActive, Handler: topicHandler(TopicActive), ServerStreams: true},
	},
	Metadata: "guidance/v1/guidance.proto",
}

func topicHandler(topic Topic) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		if err := stream.RecvMsg(new(emptypb.Empty)); err != nil {
			return err
		}
		return srv.(planStreamer).streamTopic(topic, stream)
	}
}

// Client reads frame streams from a publisher.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Stream is an open frame stream.
type Stream struct {
	s grpc.ClientStream
}

// Recv blocks for the next frame. It returns io.EOF once the publisher
// ends the stream.
func (s *Stream) Recv() (Frame, error) {
	msg := new(structpb.Struct)
	if err := s.s.RecvMsg(msg); err != nil {
		return Frame{}, err
	}
	return DecodeFrame(msg)
}

// Plans opens a stream of every published plan, starting with the current
// one.
func (c *Client) Plans(ctx context.Context) (*Stream, error) {
	return c.open(ctx, 0, MethodStreamPlans)
}

// Active opens a stream of active-line publications, starting with the
// current one.
func (c *Client) Active(ctx context.Context) (*Stream, error) {
	return c.open(ctx, 1, MethodStreamActive)
}

func (c *Client) open(ctx context.Context, idx int, method string) (*Stream, error) {
	desc := &serviceDesc.Streams[idx]
	cs, err := c.conn.NewStream(ctx, desc, "/"+ServiceName+"/"+method)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", method, err)
	}
	// io.EOF means the server already ended the stream; Recv reports why.
	if err := cs.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("close %s request: %w", method, err)
	}
	return &Stream{s: cs}, nil
}
