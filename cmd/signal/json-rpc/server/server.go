// Package server serves SFU signaling as JSON-RPC 2.0 notifications.
package server

import (
	"context"
	"errors"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/pion/ion-sfu-room/pkg/hub"
	"github.com/pion/ion-sfu-room/pkg/signal"
)

// JSONSignal is the jsonrpc2.Handler of one client connection. Each method
// name is a signal event and its params are the event payload.
type JSONSignal struct {
	session *hub.Session
	ready   chan struct{}
}

// NewJSONSignal creates a handler that waits for Open before dispatching.
func NewJSONSignal() *JSONSignal {
	return &JSONSignal{ready: make(chan struct{})}
}

// Open registers the connection with the hub.
func (p *JSONSignal) Open(ctx context.Context, h *hub.Hub, conn *jsonrpc2.Conn, handler hub.Handler) *hub.Session {
	p.session = h.Open(ctx, rpcConn{conn}, handler)
	close(p.ready)
	return p.session
}

// Serve runs one client until its stream closes, then synthesizes a disconnect.
func Serve(ctx context.Context, stream jsonrpc2.ObjectStream, h *hub.Hub, handler hub.Handler) {
	p := NewJSONSignal()
	jc := jsonrpc2.NewConn(ctx, stream, p)
	session := p.Open(ctx, h, jc, handler)
	<-jc.DisconnectNotify()
	session.Close(context.Background())
}

// Handle incoming RPC events like joinRoom, senderOffer and receiverCandidate
func (p *JSONSignal) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	select {
	case <-p.ready:
	case <-ctx.Done():
		return
	}

	var params []byte
	if req.Params != nil {
		params = *req.Params
	}
	err := p.session.Dispatch(ctx, req.Method, params)
	if req.Notif {
		return
	}
	if err != nil {
		_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    errorCode(err),
			Message: err.Error(),
		})
		return
	}
	_ = conn.Reply(ctx, req.ID, nil)
}

func errorCode(err error) int64 {
	switch {
	case errors.Is(err, signal.ErrUnknownEvent):
		return jsonrpc2.CodeMethodNotFound
	case errors.Is(err, signal.ErrMalformed):
		return jsonrpc2.CodeInvalidParams
	}
	return jsonrpc2.CodeInvalidRequest
}

// rpcConn adapts *jsonrpc2.Conn to hub.Conn.
type rpcConn struct {
	conn *jsonrpc2.Conn
}

func (c rpcConn) Notify(ctx context.Context, event string, payload interface{}) error {
	return c.conn.Notify(ctx, event, payload)
}

func (c rpcConn) Close() error {
	return c.conn.Close()
}
