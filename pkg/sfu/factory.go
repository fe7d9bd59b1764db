package sfu

import (
	"context"
	"fmt"

	"github.com/pion/ion-sfu-room/pkg/signal"
)

// Messenger delivers an outbound message to one participant.
type Messenger interface {
	Send(ctx context.Context, to ParticipantID, msg signal.Outbound) error
}

// TrackHandler is called when an ingest link's stream is complete.
type TrackHandler func(l *IngestLink, stream MediaStream)

// Factory builds links whose engine events are routed back to the participants.
type Factory struct {
	engine  Engine
	out     Messenger
	onTrack TrackHandler
}

// NewFactory creates a Factory.
func NewFactory(engine Engine, out Messenger, onTrack TrackHandler) *Factory {
	return &Factory{engine: engine, out: out, onTrack: onTrack}
}

// NewIngest creates the link terminating p's media.
func (f *Factory) NewIngest(p ParticipantID, rm RoomID) (*IngestLink, error) {
	l := &IngestLink{link: link{role: RoleIngest}, Publisher: p, Room: rm}
	pc, err := f.engine.NewPeerConnection(RoleIngest, &ingestSink{f: f, l: l})
	if err != nil {
		return nil, fmt.Errorf("new ingest peer connection: %w", err)
	}
	l.pc = pc
	return l, nil
}

// NewEgress creates the link forwarding publisher to subscriber and attaches
// the publisher's stream before any negotiation happens.
func (f *Factory) NewEgress(publisher, subscriber ParticipantID, rm RoomID, stream MediaStream) (*EgressLink, error) {
	l := &EgressLink{link: link{role: RoleEgress}, Publisher: publisher, Subscriber: subscriber, Room: rm}
	pc, err := f.engine.NewPeerConnection(RoleEgress, &egressSink{f: f, l: l})
	if err != nil {
		return nil, fmt.Errorf("new egress peer connection: %w", err)
	}
	l.pc = pc
	if err := pc.AddStream(stream); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("attach stream %s: %w", stream.ID(), err)
	}
	return l, nil
}

func (f *Factory) send(to ParticipantID, msg signal.Outbound) {
	if err := f.out.Send(context.Background(), to, msg); err != nil {
		Logger.Error(err, "send failed", "to", to, "event", string(msg.Event()))
	}
}

type ingestSink struct {
	f *Factory
	l *IngestLink
}

func (s *ingestSink) OnICECandidate(c *signal.ICECandidate) {
	if c.Empty() || s.l.State() == StateClosed {
		return
	}
	s.f.send(s.l.Publisher, signal.SenderCandidateOut{Candidate: *c})
}

func (s *ingestSink) OnTrack(stream MediaStream) {
	if s.l.State() == StateClosed {
		return
	}
	if s.f.onTrack != nil {
		s.f.onTrack(s.l, stream)
	}
}

func (s *ingestSink) OnICEConnectionStateChange(state ICEState) {
	Logger.V(1).Info("ice connection state changed", "role", "ingest", "publisher", s.l.Publisher, "state", state.String())
	s.l.iceStateChanged(state)
}

type egressSink struct {
	f *Factory
	l *EgressLink
}

func (s *egressSink) OnICECandidate(c *signal.ICECandidate) {
	if c.Empty() || s.l.State() == StateClosed {
		return
	}
	s.f.send(s.l.Subscriber, signal.ReceiverCandidateOut{ID: string(s.l.Publisher), Candidate: *c})
}

func (s *egressSink) OnTrack(MediaStream) {}

func (s *egressSink) OnICEConnectionStateChange(state ICEState) {
	Logger.V(1).Info("ice connection state changed", "role", "egress",
		"publisher", s.l.Publisher, "subscriber", s.l.Subscriber, "state", state.String())
	s.l.iceStateChanged(state)
}
