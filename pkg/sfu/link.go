package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"github.com/gammazero/workerpool"

	"github.com/pion/ion-sfu-room/pkg/signal"
)

// LinkState is the negotiation state of an ingest or egress link.
// States only move forward.
type LinkState int

const (
	StateCreated LinkState = iota
	// StateOfferPending the remote offer is being applied
	StateOfferPending
	// StateAnswered the local answer is set
	StateAnswered
	StateEstablished
	// StateFailed negotiation was abandoned or ICE failed
	StateFailed
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOfferPending:
		return "offer-pending"
	case StateAnswered:
		return "answered"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// link owns one engine peer connection and its negotiation state.
type link struct {
	role Role
	pc   PeerConnection

	// negMu serializes offers on the same link.
	negMu sync.Mutex

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	pending   deque.Deque

	jobMu   sync.Mutex
	jobs    deque.Deque
	running bool

	closeOnce sync.Once
}

// enqueue runs job on the pool after every job enqueued before it on this link.
func (l *link) enqueue(pool *workerpool.WorkerPool, job func()) {
	l.jobMu.Lock()
	l.jobs.PushBack(job)
	if l.running {
		l.jobMu.Unlock()
		return
	}
	l.running = true
	l.jobMu.Unlock()
	pool.Submit(l.drain)
}

func (l *link) drain() {
	for {
		l.jobMu.Lock()
		if l.jobs.Len() == 0 {
			l.running = false
			l.jobMu.Unlock()
			return
		}
		job := l.jobs.PopFront().(func())
		l.jobMu.Unlock()
		job()
	}
}

// State returns the current negotiation state.
func (l *link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *link) usable() bool {
	return l.State() < StateFailed
}

func (l *link) advance(to LinkState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed || to <= l.state {
		return false
	}
	l.state = to
	return true
}

// begin marks an offer as received. It runs synchronously in the router so
// that a duplicate offer finds the link already in flight.
func (l *link) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state >= StateFailed {
		return ErrLinkClosed
	}
	if l.state < StateOfferPending {
		l.state = StateOfferPending
	}
	return nil
}

// negotiate applies a remote offer and returns the local answer.
func (l *link) negotiate(ctx context.Context, offer signal.SessionDescription) (signal.SessionDescription, error) {
	l.negMu.Lock()
	defer l.negMu.Unlock()

	if l.State() >= StateFailed {
		return signal.SessionDescription{}, ErrLinkClosed
	}
	if err := l.pc.SetRemoteDescription(ctx, offer); err != nil {
		return signal.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	l.flush()

	answer, err := l.pc.CreateAnswer(ctx)
	if err != nil {
		return signal.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(ctx, answer); err != nil {
		return signal.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	l.advance(StateAnswered)
	return answer, nil
}

// flush applies the candidates queued before the remote description was known.
func (l *link) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteSet = true
	for l.pending.Len() > 0 {
		c := l.pending.PopFront().(signal.ICECandidate)
		if err := l.pc.AddICECandidate(c); err != nil {
			Logger.Error(err, "queued candidate rejected", "role", l.role.String())
		}
	}
}

// addCandidate applies a remote candidate or queues it until the offer is in.
func (l *link) addCandidate(c signal.ICECandidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return ErrLinkClosed
	}
	if !l.remoteSet {
		l.pending.PushBack(c)
		return nil
	}
	return l.pc.AddICECandidate(c)
}

func (l *link) iceStateChanged(state ICEState) {
	switch state {
	case ICEConnected, ICECompleted:
		l.advance(StateEstablished)
	case ICEFailed:
		l.advance(StateFailed)
	}
}

func (l *link) fail() {
	l.advance(StateFailed)
}

func (l *link) close() (err error) {
	l.closeOnce.Do(func() {
		l.advance(StateClosed)
		if l.pc != nil {
			err = l.pc.Close()
		}
	})
	return err
}

// IngestLink terminates one publisher's media.
type IngestLink struct {
	link
	Publisher ParticipantID
	Room      RoomID

	// stream is guarded by link.mu and set once the publisher's tracks are in.
	stream MediaStream
}

// Stream returns the stream received on this link, or nil before confirmation.
func (l *IngestLink) Stream() MediaStream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream
}

func (l *IngestLink) setStream(s MediaStream) {
	l.mu.Lock()
	l.stream = s
	l.mu.Unlock()
}

// EgressLink forwards Publisher's media to Subscriber.
type EgressLink struct {
	link
	Publisher  ParticipantID
	Subscriber ParticipantID
	Room       RoomID
}
