package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pion/ion-sfu-room/pkg/hub"
	"github.com/pion/ion-sfu-room/pkg/sfu"
	"github.com/pion/ion-sfu-room/pkg/signal"
)

type recordingHandler struct {
	envs chan signal.Envelope
}

func (h *recordingHandler) Handle(_ context.Context, _ sfu.ParticipantID, env signal.Envelope) error {
	h.envs <- env
	return nil
}

func dial(t *testing.T) (*SignalClient, *hub.Hub, *recordingHandler, func()) {
	lis := bufconn.Listen(1 << 20)
	h := hub.New()
	rec := &recordingHandler{envs: make(chan signal.Envelope, 8)}

	s := grpc.NewServer()
	RegisterSignalServer(s, NewServer(h, rec))
	go func() { _ = s.Serve(lis) }()

	ctx, cancel := context.WithCancel(context.Background())
	cc, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := NewSignalClient(ctx, cc)
	require.NoError(t, err)

	return client, h, rec, func() {
		cancel()
		cc.Close()
		s.Stop()
	}
}

func nextEnv(t *testing.T, rec *recordingHandler) signal.Envelope {
	select {
	case env := <-rec.envs:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope dispatched")
	}
	return nil
}

func TestGRPCSignal(t *testing.T) {
	client, h, rec, done := dial(t)
	defer done()

	event, data, err := client.Recv()
	require.NoError(t, err)
	require.Equal(t, "connected", event)
	var connected signal.Connected
	require.NoError(t, json.Unmarshal(data, &connected))
	require.NotEmpty(t, connected.ID)

	require.NoError(t, client.Send("joinRoom", signal.JoinRoom{ID: connected.ID, RoomID: "r1"}))
	assert.Equal(t, signal.JoinRoom{ID: connected.ID, RoomID: "r1"}, nextEnv(t, rec))

	require.NoError(t, h.Send(context.Background(), sfu.ParticipantID(connected.ID), signal.AllUsers{}))
	event, data, err = client.Recv()
	require.NoError(t, err)
	assert.Equal(t, "allUsers", event)
	assert.JSONEq(t, `{"users":[]}`, string(data))

	require.NoError(t, client.CloseSend())
	assert.Equal(t, signal.Disconnect{}, nextEnv(t, rec))
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestGRPCSignalSkipsBadFrames(t *testing.T) {
	client, _, rec, done := dial(t)
	defer done()

	event, data, err := client.Recv()
	require.NoError(t, err)
	require.Equal(t, "connected", event)
	var connected signal.Connected
	require.NoError(t, json.Unmarshal(data, &connected))

	require.NoError(t, client.SendMsg(&structpb.Struct{}))
	require.NoError(t, client.Send("joinRoom", map[string]string{"id": connected.ID}))
	require.NoError(t, client.Send("joinRoom", signal.JoinRoom{ID: connected.ID, RoomID: "r2"}))

	assert.Equal(t, signal.JoinRoom{ID: connected.ID, RoomID: "r2"}, nextEnv(t, rec))
}

func TestFrameCodec(t *testing.T) {
	frame, err := EncodeFrame("getReceiverAnswer", signal.ReceiverAnswer{ID: "a", SDP: signal.SessionDescription{Type: "answer", SDP: "v=0"}})
	require.NoError(t, err)

	event, data, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, "getReceiverAnswer", event)
	assert.JSONEq(t, `{"id":"a","sdp":{"type":"answer","sdp":"v=0"}}`, string(data))

	_, err = EncodeFrame("x", "not an object")
	assert.Error(t, err)

	_, _, err = DecodeFrame(&structpb.Struct{Fields: map[string]*structpb.Value{"event": structpb.NewNumberValue(1)}})
	assert.ErrorIs(t, err, errBadFrame)
}
