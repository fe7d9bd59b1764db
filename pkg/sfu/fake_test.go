package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/ion-sfu-room/pkg/signal"
)

var errFake = errors.New("fake engine failure")

type fakeStream struct {
	id    string
	kinds []string
}

func (s fakeStream) ID() string      { return s.id }
func (s fakeStream) Kinds() []string { return s.kinds }

type fakePC struct {
	role Role
	sink EventSink

	mu         sync.Mutex
	remote     []signal.SessionDescription
	local      []signal.SessionDescription
	candidates []signal.ICECandidate
	streams    []MediaStream
	closed     bool

	failRemote error
	// closeErr is returned by Close; closePanic makes Close panic instead.
	closeErr   error
	closePanic bool
	// gate, when set, blocks SetRemoteDescription until closed.
	gate chan struct{}
}

func (p *fakePC) CreateOffer(context.Context) (signal.SessionDescription, error) {
	return signal.SessionDescription{Type: "offer", SDP: "fake-offer"}, nil
}

func (p *fakePC) CreateAnswer(context.Context) (signal.SessionDescription, error) {
	return signal.SessionDescription{Type: "answer", SDP: "fake-answer-" + p.role.String()}, nil
}

func (p *fakePC) SetLocalDescription(_ context.Context, desc signal.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, desc)
	return nil
}

func (p *fakePC) SetRemoteDescription(ctx context.Context, desc signal.SessionDescription) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRemote != nil {
		return p.failRemote
	}
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePC) AddICECandidate(c signal.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) AddStream(stream MediaStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, stream)
	return nil
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closePanic {
		panic("close exploded")
	}
	p.closed = true
	return p.closeErr
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePC) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

type fakeEngine struct {
	mu   sync.Mutex
	pcs  []*fakePC
	fail error
	// prepare adjusts each new connection before it is returned.
	prepare func(*fakePC)
}

func (e *fakeEngine) NewPeerConnection(role Role, sink EventSink) (PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	pc := &fakePC{role: role, sink: sink}
	if e.prepare != nil {
		e.prepare(pc)
	}
	e.pcs = append(e.pcs, pc)
	return pc, nil
}

func (e *fakeEngine) of(role Role) []*fakePC {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*fakePC
	for _, pc := range e.pcs {
		if pc.role == role {
			out = append(out, pc)
		}
	}
	return out
}

type recordingMessenger struct {
	mu   sync.Mutex
	msgs map[ParticipantID][]signal.Outbound
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{msgs: make(map[ParticipantID][]signal.Outbound)}
}

func (m *recordingMessenger) Send(_ context.Context, to ParticipantID, msg signal.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[to] = append(m.msgs[to], msg)
	return nil
}

func (m *recordingMessenger) of(p ParticipantID) []signal.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]signal.Outbound(nil), m.msgs[p]...)
}

// has reports whether p received msg.
func (m *recordingMessenger) has(p ParticipantID, msg signal.Outbound) bool {
	for _, got := range m.of(p) {
		if equalOutbound(got, msg) {
			return true
		}
	}
	return false
}

func (m *recordingMessenger) count(p ParticipantID, ev signal.Event) int {
	n := 0
	for _, got := range m.of(p) {
		if got.Event() == ev {
			n++
		}
	}
	return n
}

func equalOutbound(a, b signal.Outbound) bool {
	switch x := a.(type) {
	case signal.AllUsers:
		y, ok := b.(signal.AllUsers)
		if !ok || len(x.Users) != len(y.Users) {
			return false
		}
		for i := range x.Users {
			if x.Users[i] != y.Users[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

type panicMessenger struct{}

func (panicMessenger) Send(context.Context, ParticipantID, signal.Outbound) error {
	panic("messenger exploded")
}
