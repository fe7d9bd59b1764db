// Package server serves SFU signaling over a gRPC bidirectional stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pion/ion-sfu-room/pkg/hub"
	"github.com/pion/ion-sfu-room/pkg/sfu"
)

var errBadFrame = errors.New("frame must carry a string event")

// GRPCSignal implements SignalServer on top of the hub.
type GRPCSignal struct {
	hub     *hub.Hub
	handler hub.Handler
}

// NewServer creates the sfu.Signal service.
func NewServer(h *hub.Hub, handler hub.Handler) *GRPCSignal {
	return &GRPCSignal{hub: h, handler: handler}
}

// Signal runs one client. The first frame the client receives is
// "connected" with its participant id. When the client closes the stream
// a disconnect is synthesized.
func (s *GRPCSignal) Signal(stream grpc.ServerStream) error {
	ctx := stream.Context()
	session := s.hub.Open(ctx, &streamConn{stream: stream}, s.handler)
	defer session.Close(context.Background())

	for {
		frame := &structpb.Struct{}
		if err := stream.RecvMsg(frame); err != nil {
			if err == io.EOF {
				return nil
			}
			errStatus, _ := status.FromError(err)
			if errStatus.Code() == codes.Canceled {
				return nil
			}
			sfu.Logger.Error(err, "signal stream error", "participant", session.ID, "code", errStatus.Code().String())
			return err
		}

		event, data, err := DecodeFrame(frame)
		if err != nil {
			sfu.Logger.V(1).Info("bad frame dropped", "participant", session.ID, "err", err)
			continue
		}
		_ = session.Dispatch(ctx, event, data)
	}
}

// streamConn adapts a server stream to hub.Conn. SendMsg is not safe for
// concurrent use, so writes are serialized.
type streamConn struct {
	mu     sync.Mutex
	stream grpc.ServerStream
}

func (c *streamConn) Notify(_ context.Context, event string, payload interface{}) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.SendMsg(frame)
}

// Close is a no-op; the stream ends when Signal returns or the server stops.
func (c *streamConn) Close() error {
	return nil
}

// EncodeFrame wraps a JSON-encodable payload into a signaling frame.
func EncodeFrame(event string, payload interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: payload is not an object: %w", event, err)
	}
	data, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"event": structpb.NewStringValue(event),
		"data":  structpb.NewStructValue(data),
	}}, nil
}

// DecodeFrame extracts the event name and its payload as JSON.
func DecodeFrame(frame *structpb.Struct) (string, []byte, error) {
	ev, ok := frame.GetFields()["event"]
	if !ok {
		return "", nil, errBadFrame
	}
	event, ok := ev.GetKind().(*structpb.Value_StringValue)
	if !ok || event.StringValue == "" {
		return "", nil, errBadFrame
	}
	data, ok := frame.GetFields()["data"]
	if !ok {
		return event.StringValue, nil, nil
	}
	b, err := json.Marshal(data.AsInterface())
	if err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", event.StringValue, err)
	}
	return event.StringValue, b, nil
}
