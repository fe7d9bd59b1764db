package sfu

import (
	"context"

	"github.com/pion/ion-sfu-room/pkg/signal"
)

// Role tells the engine which side of the SFU a peer connection serves.
type Role int

const (
	// RoleIngest terminates a publisher's media.
	RoleIngest Role = iota
	// RoleEgress forwards one publisher's media to one subscriber.
	RoleEgress
)

func (r Role) String() string {
	if r == RoleIngest {
		return "ingest"
	}
	return "egress"
}

// ICEState is the ICE connection state reported by the engine.
type ICEState int

const (
	ICENew ICEState = iota
	ICEChecking
	ICEConnected
	ICECompleted
	ICEDisconnected
	ICEFailed
	ICEClosed
)

func (s ICEState) String() string {
	switch s {
	case ICENew:
		return "new"
	case ICEChecking:
		return "checking"
	case ICEConnected:
		return "connected"
	case ICECompleted:
		return "completed"
	case ICEDisconnected:
		return "disconnected"
	case ICEFailed:
		return "failed"
	case ICEClosed:
		return "closed"
	}
	return "unknown"
}

// MediaStream is a publisher's complete set of remote tracks as held by the engine.
type MediaStream interface {
	ID() string
	Kinds() []string
}

// EventSink receives the asynchronous events of one peer connection.
type EventSink interface {
	// OnICECandidate is called for each local candidate, and with nil once gathering is done.
	OnICECandidate(c *signal.ICECandidate)
	// OnTrack is called on ingest connections when the publisher's stream is complete.
	OnTrack(stream MediaStream)
	OnICEConnectionStateChange(state ICEState)
}

// PeerConnection is the media transport capability consumed by the SFU.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (signal.SessionDescription, error)
	CreateAnswer(ctx context.Context) (signal.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc signal.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc signal.SessionDescription) error
	AddICECandidate(c signal.ICECandidate) error
	// AddStream attaches every track of a publisher's stream for forwarding.
	AddStream(stream MediaStream) error
	Close() error
}

// Engine creates peer connections.
type Engine interface {
	NewPeerConnection(role Role, sink EventSink) (PeerConnection, error)
}
