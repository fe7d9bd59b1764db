package sfu

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/pion/ion-sfu-room/pkg/signal"
)

// Router turns decoded signal envelopes into registry changes and engine work.
// Registry mutations happen synchronously in Handle; engine calls run on the
// worker pool, one at a time per link.
type Router struct {
	rooms   *RoomRegistry
	links   *LinkRegistry
	factory *Factory
	out     Messenger
	life    *Lifecycle

	mu      sync.RWMutex
	closed  bool
	pool    *workerpool.WorkerPool
	timeout time.Duration
}

// Handle routes one envelope from participant from. Protocol errors are
// returned after the message is dropped; engine errors are logged only.
func (r *Router) Handle(ctx context.Context, from ParticipantID, env signal.Envelope) error {
	signalMessages.WithLabelValues(string(env.Event())).Inc()

	var err error
	switch m := env.(type) {
	case signal.JoinRoom:
		err = r.join(ctx, from, m)
	case signal.SenderOffer:
		err = r.publishOffer(ctx, from, m)
	case signal.SenderCandidate:
		err = r.publishCandidate(from, m)
	case signal.ReceiverOffer:
		err = r.subscribeOffer(from, m)
	case signal.ReceiverCandidate:
		err = r.subscribeCandidate(from, m)
	case signal.Disconnect:
		return r.life.Depart(ctx, from)
	default:
		err = ErrUnsupportedEnvelope
	}
	if err != nil {
		r.drop(from, env, err)
	}
	return err
}

func (r *Router) join(ctx context.Context, from ParticipantID, m signal.JoinRoom) error {
	if ParticipantID(m.ID) != from {
		return ErrIdentityMismatch
	}
	rm := RoomID(m.RoomID)
	r.enter(ctx, from, rm)

	others := r.rooms.Others(from, rm)
	users := make([]signal.User, 0, len(others))
	for _, id := range others {
		users = append(users, signal.User{ID: string(id)})
	}
	Logger.V(0).Info("participant joined", "participant", from, "room", rm, "publishers", len(users))
	r.send(ctx, from, signal.AllUsers{Users: users})
	return nil
}

func (r *Router) publishOffer(ctx context.Context, from ParticipantID, m signal.SenderOffer) error {
	if ParticipantID(m.SenderSocketID) != from {
		return ErrIdentityMismatch
	}
	if r.isClosed() {
		Logger.V(1).Info("sfu closed, sender offer ignored", "publisher", from)
		return nil
	}
	rm := RoomID(m.RoomID)
	r.enter(ctx, from, rm)

	l, created, err := r.links.GetOrCreateIngest(from, func() (*IngestLink, error) {
		return r.factory.NewIngest(from, rm)
	})
	if err != nil {
		r.engineFailure(RoleIngest, err, "publisher", from)
		return nil
	}
	if err := l.begin(); err != nil {
		Logger.V(1).Info("ingest link closed before negotiation", "publisher", from)
		return nil
	}
	Logger.V(1).Info("sender offer", "publisher", from, "room", rm, "new_link", created)

	offer := m.SDP
	submitted := r.submit(&l.link, func(ctx context.Context) {
		answer, err := l.negotiate(ctx, offer)
		if err != nil {
			r.abandon(&l.link, err, "publisher", from)
			return
		}
		r.send(ctx, from, signal.SenderAnswer{SDP: answer})
	})
	if !submitted {
		if err := r.links.CloseIngest(from); err != nil {
			Logger.Error(err, "close ingest link after shutdown", "publisher", from)
		}
	}
	return nil
}

func (r *Router) publishCandidate(from ParticipantID, m signal.SenderCandidate) error {
	if ParticipantID(m.SenderSocketID) != from {
		return ErrIdentityMismatch
	}
	l, ok := r.links.Ingest(from)
	if !ok {
		return ErrNoIngest
	}
	if m.Candidate.Empty() {
		return nil
	}
	if err := l.addCandidate(*m.Candidate); err != nil && !errors.Is(err, ErrLinkClosed) {
		Logger.Error(err, "add ingest candidate", "publisher", from)
	}
	return nil
}

func (r *Router) subscribeOffer(from ParticipantID, m signal.ReceiverOffer) error {
	if ParticipantID(m.ReceiverSocketID) != from {
		return ErrIdentityMismatch
	}
	publisher, rm := ParticipantID(m.SenderSocketID), RoomID(m.RoomID)
	if _, ok := r.rooms.Stream(rm, publisher); !ok {
		return ErrPublisherNotConfirmed
	}
	ingest, ok := r.links.Ingest(publisher)
	if !ok {
		return ErrNoIngest
	}
	// A renegotiating publisher has no stream until its new tracks arrive.
	stream := ingest.Stream()
	if stream == nil {
		return ErrPublisherNotConfirmed
	}
	if r.isClosed() {
		Logger.V(1).Info("sfu closed, receiver offer ignored", "publisher", publisher, "subscriber", from)
		return nil
	}

	l, created, err := r.links.GetOrCreateEgress(ingest, from, func() (*EgressLink, error) {
		return r.factory.NewEgress(publisher, from, rm, stream)
	})
	if errors.Is(err, ErrNoIngest) {
		return err
	}
	if err != nil {
		r.engineFailure(RoleEgress, err, "publisher", publisher, "subscriber", from)
		return nil
	}
	if err := l.begin(); err != nil {
		Logger.V(1).Info("egress link closed before negotiation", "publisher", publisher, "subscriber", from)
		return nil
	}
	Logger.V(1).Info("receiver offer", "publisher", publisher, "subscriber", from, "new_link", created)

	offer := m.SDP
	submitted := r.submit(&l.link, func(ctx context.Context) {
		answer, err := l.negotiate(ctx, offer)
		if err != nil {
			r.abandon(&l.link, err, "publisher", publisher, "subscriber", from)
			return
		}
		r.send(ctx, from, signal.ReceiverAnswer{ID: string(publisher), SDP: answer})
	})
	if !submitted {
		if err := r.links.CloseEgress(publisher, from); err != nil {
			Logger.Error(err, "close egress link after shutdown", "publisher", publisher, "subscriber", from)
		}
	}
	return nil
}

func (r *Router) subscribeCandidate(from ParticipantID, m signal.ReceiverCandidate) error {
	if ParticipantID(m.ReceiverSocketID) != from {
		return ErrIdentityMismatch
	}
	publisher := ParticipantID(m.SenderSocketID)
	l, ok := r.links.Egress(publisher, from)
	if !ok {
		return ErrNoEgress
	}
	if m.Candidate.Empty() {
		return nil
	}
	if err := l.addCandidate(*m.Candidate); err != nil && !errors.Is(err, ErrLinkClosed) {
		Logger.Error(err, "add egress candidate", "publisher", publisher, "subscriber", from)
	}
	return nil
}

// enter indexes p in rm. Moving to another room departs the old one first,
// so no link or membership outlives the move.
func (r *Router) enter(ctx context.Context, p ParticipantID, rm RoomID) {
	cur, ok := r.rooms.RoomOf(p)
	if ok && cur == rm {
		return
	}
	if ok {
		Logger.V(0).Info("participant changing rooms", "participant", p, "from", cur, "to", rm)
		// Depart logs its own failures.
		_ = r.life.Depart(ctx, p)
	}
	r.rooms.Join(p, rm)
}

// confirm is the factory's TrackHandler. Only the publisher's current ingest
// link may confirm it; a renegotiated link swaps the stream and announces the
// publisher again so subscribers can resubscribe.
func (r *Router) confirm(l *IngestLink, stream MediaStream) {
	if cur, ok := r.links.Ingest(l.Publisher); !ok || cur != l {
		Logger.V(1).Info("track on a stale ingest link ignored", "publisher", l.Publisher)
		return
	}
	l.setStream(stream)
	l.advance(StateEstablished)
	switch {
	case r.rooms.Confirm(l.Publisher, l.Room, stream):
		Logger.V(0).Info("publisher confirmed", "publisher", l.Publisher, "room", l.Room, "stream", stream.ID(), "kinds", stream.Kinds())
	case r.rooms.Restream(l.Publisher, l.Room, stream):
		Logger.V(0).Info("publisher stream replaced", "publisher", l.Publisher, "room", l.Room, "stream", stream.ID())
	default:
		return
	}
	if err := broadcast(context.Background(), r.rooms, r.out, l.Room, l.Publisher, signal.UserEnter{ID: string(l.Publisher)}); err != nil {
		Logger.Error(err, "announce publisher", "publisher", l.Publisher, "room", l.Room)
	}
}

// submit queues job on l. It returns false once the router is closed.
func (r *Router) submit(l *link, job func(ctx context.Context)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	l.enqueue(r.pool, func() {
		ctx := context.Background()
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		job(ctx)
	})
	return true
}

func (r *Router) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// abandon gives up on one negotiation. The client has to send a new offer.
func (r *Router) abandon(l *link, err error, keysAndValues ...interface{}) {
	if errors.Is(err, ErrLinkClosed) {
		Logger.V(1).Info("negotiation on closed link skipped", keysAndValues...)
		return
	}
	l.fail()
	r.engineFailure(l.role, err, keysAndValues...)
}

func (r *Router) engineFailure(role Role, err error, keysAndValues ...interface{}) {
	negotiationFailures.WithLabelValues(role.String()).Inc()
	Logger.Error(err, "negotiation abandoned", append([]interface{}{"role", role.String()}, keysAndValues...)...)
}

func (r *Router) send(ctx context.Context, to ParticipantID, msg signal.Outbound) {
	if err := r.out.Send(ctx, to, msg); err != nil {
		Logger.Error(err, "send failed", "to", to, "event", string(msg.Event()))
	}
}

func (r *Router) drop(from ParticipantID, env signal.Envelope, err error) {
	reason := dropReason(err)
	droppedMessages.WithLabelValues(string(env.Event()), reason).Inc()
	Logger.V(1).Info("signal message dropped", "from", from, "event", string(env.Event()), "reason", reason)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrIdentityMismatch):
		return "identity"
	case errors.Is(err, ErrNoIngest):
		return "no_ingest"
	case errors.Is(err, ErrNoEgress):
		return "no_egress"
	case errors.Is(err, ErrPublisherNotConfirmed):
		return "not_confirmed"
	}
	return "unsupported"
}

func (r *Router) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.pool.StopWait()
}
