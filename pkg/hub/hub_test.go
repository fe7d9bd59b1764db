package hub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/ion-sfu-room/pkg/sfu"
	"github.com/pion/ion-sfu-room/pkg/signal"
)

type note struct {
	event   string
	payload interface{}
}

type fakeConn struct {
	mu     sync.Mutex
	notes  []note
	closed bool
	err    error
}

func (c *fakeConn) Notify(_ context.Context, event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.notes = append(c.notes, note{event: event, payload: payload})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type handled struct {
	from sfu.ParticipantID
	env  signal.Envelope
}

type fakeHandler struct {
	mu   sync.Mutex
	envs []handled
}

func (h *fakeHandler) Handle(_ context.Context, from sfu.ParticipantID, env signal.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envs = append(h.envs, handled{from: from, env: env})
	return nil
}

func TestOpenAssignsIDAndSendsConnected(t *testing.T) {
	h := New()
	c1, c2 := &fakeConn{}, &fakeConn{}
	s1 := h.Open(context.Background(), c1, &fakeHandler{})
	s2 := h.Open(context.Background(), c2, &fakeHandler{})

	require.NotEmpty(t, s1.ID)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, 2, h.Len())
	require.Len(t, c1.notes, 1)
	assert.Equal(t, "connected", c1.notes[0].event)
	assert.Equal(t, signal.Connected{ID: string(s1.ID)}, c1.notes[0].payload)
}

func TestSend(t *testing.T) {
	h := New()
	c := &fakeConn{}
	s := h.Open(context.Background(), c, &fakeHandler{})

	require.NoError(t, h.Send(context.Background(), s.ID, signal.UserEnter{ID: "x"}))
	require.Len(t, c.notes, 2)
	assert.Equal(t, "userEnter", c.notes[1].event)

	assert.NoError(t, h.Send(context.Background(), "gone", signal.UserExit{ID: "x"}), "a missing recipient is dropped")

	c.err = errors.New("broken pipe")
	assert.Error(t, h.Send(context.Background(), s.ID, signal.UserExit{ID: "x"}))
}

func TestSessionDispatchAndClose(t *testing.T) {
	h := New()
	handler := &fakeHandler{}
	s := h.Open(context.Background(), &fakeConn{}, handler)

	err := s.Dispatch(context.Background(), "joinRoom", []byte(`{"id":"`+string(s.ID)+`","roomID":"r1"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Dispatch(context.Background(), "bogus", []byte(`{}`)), signal.ErrUnknownEvent)
	assert.ErrorIs(t, s.Dispatch(context.Background(), "joinRoom", []byte(`{"id":""}`)), signal.ErrMalformed)
	// only Close may depart the participant
	assert.ErrorIs(t, s.Dispatch(context.Background(), "disconnect", nil), signal.ErrUnknownEvent)
	assert.Equal(t, 1, h.Len())

	s.Close(context.Background())
	s.Close(context.Background())
	assert.Equal(t, 0, h.Len())

	require.Len(t, handler.envs, 2)
	assert.Equal(t, signal.JoinRoom{ID: string(s.ID), RoomID: "r1"}, handler.envs[0].env)
	assert.Equal(t, handled{from: s.ID, env: signal.Disconnect{}}, handler.envs[1])
}

func TestCloseClosesConnections(t *testing.T) {
	h := New()
	c1, c2 := &fakeConn{}, &fakeConn{}
	h.Open(context.Background(), c1, &fakeHandler{})
	h.Open(context.Background(), c2, &fakeHandler{})

	h.Close()
	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
}
