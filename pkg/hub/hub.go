// Package hub tracks live signaling connections and delivers SFU messages to them.
package hub

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/lucsky/cuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pion/ion-sfu-room/pkg/logger"
	"github.com/pion/ion-sfu-room/pkg/sfu"
	"github.com/pion/ion-sfu-room/pkg/signal"
)

// Logger is the package logger.
var Logger logr.Logger = logger.New().WithName("hub")

var connections = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "sfu",
	Name:      "signal_connections",
	Help:      "Number of open signaling connections.",
})

func init() {
	prometheus.MustRegister(connections)
}

// Conn is one client connection as seen by a transport.
type Conn interface {
	// Notify sends a named event with a JSON-encodable payload.
	Notify(ctx context.Context, event string, payload interface{}) error
	Close() error
}

// Handler consumes decoded envelopes. *sfu.SFU implements it.
type Handler interface {
	Handle(ctx context.Context, from sfu.ParticipantID, env signal.Envelope) error
}

// Hub maps participant ids to connections. It implements sfu.Messenger.
type Hub struct {
	mu    sync.RWMutex
	conns map[sfu.ParticipantID]Conn
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{conns: make(map[sfu.ParticipantID]Conn)}
}

// Open registers c under a fresh id and tells the client its id.
func (h *Hub) Open(ctx context.Context, c Conn, handler Handler) *Session {
	id := sfu.ParticipantID(cuid.New())
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
	connections.Inc()

	Logger.V(1).Info("connection opened", "participant", id)
	if err := c.Notify(ctx, string(signal.EventConnected), signal.Connected{ID: string(id)}); err != nil {
		Logger.Error(err, "send connected", "participant", id)
	}
	return &Session{ID: id, hub: h, handler: handler}
}

// Send implements sfu.Messenger. A participant that already left is not an error.
func (h *Hub) Send(ctx context.Context, to sfu.ParticipantID, msg signal.Outbound) error {
	h.mu.RLock()
	c, ok := h.conns[to]
	h.mu.RUnlock()
	if !ok {
		Logger.V(1).Info("recipient gone", "to", to, "event", string(msg.Event()))
		return nil
	}
	return c.Notify(ctx, string(msg.Event()), msg)
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every connection. Their sessions end through the transports.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *Hub) remove(id sfu.ParticipantID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; !ok {
		return false
	}
	delete(h.conns, id)
	connections.Dec()
	return true
}

// Session is one open connection bound to a participant id.
type Session struct {
	ID      sfu.ParticipantID
	hub     *Hub
	handler Handler

	closeOnce sync.Once
}

// Dispatch decodes a named event and hands it to the SFU.
func (s *Session) Dispatch(ctx context.Context, event string, data []byte) error {
	env, err := signal.Decode(event, data)
	if err != nil {
		Logger.V(1).Info("undecodable message dropped", "participant", s.ID, "event", event, "err", err)
		return err
	}
	return s.handler.Handle(ctx, s.ID, env)
}

// Close unregisters the connection and runs departure processing once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.hub.remove(s.ID)
		if err := s.handler.Handle(ctx, s.ID, signal.Disconnect{}); err != nil {
			Logger.Error(err, "disconnect", "participant", s.ID)
		}
		Logger.V(1).Info("connection closed", "participant", s.ID)
	})
}
