package server

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "sfu.Signal"
	// SignalMethod is the full method name of the signaling stream.
	SignalMethod = "/sfu.Signal/Signal"
)

// SignalServer is the server API for the sfu.Signal service. Frames are
// google.protobuf.Struct values of the form {"event": string, "data": object}.
type SignalServer interface {
	Signal(stream grpc.ServerStream) error
}

// ServiceDesc describes sfu.Signal for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SignalServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Signal",
			Handler:       signalHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "sfu/signal.proto",
}

func signalHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SignalServer).Signal(stream)
}

// RegisterSignalServer registers srv on s.
func RegisterSignalServer(s *grpc.Server, srv SignalServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SignalClient is a client side signaling stream. Send may be called from
// several goroutines.
type SignalClient struct {
	grpc.ClientStream
	mu sync.Mutex
}

// NewSignalClient opens the signaling stream on cc.
func NewSignalClient(ctx context.Context, cc grpc.ClientConnInterface) (*SignalClient, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], SignalMethod)
	if err != nil {
		return nil, err
	}
	return &SignalClient{ClientStream: stream}, nil
}

// Send writes one event.
func (c *SignalClient) Send(event string, payload interface{}) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SendMsg(frame)
}

// Recv reads one event and its raw JSON payload.
func (c *SignalClient) Recv() (string, []byte, error) {
	frame := &structpb.Struct{}
	if err := c.RecvMsg(frame); err != nil {
		return "", nil, err
	}
	return DecodeFrame(frame)
}
