package sfu

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// LinkRegistry owns every ingest and egress link. It is the only place links are
// closed and removed.
type LinkRegistry struct {
	mu     sync.Mutex
	ingest map[ParticipantID]*IngestLink
	// egress is keyed subscriber then publisher.
	egress map[ParticipantID]map[ParticipantID]*EgressLink
	// from indexes egress links by publisher.
	from map[ParticipantID]map[ParticipantID]struct{}
}

// NewLinkRegistry creates an empty registry.
func NewLinkRegistry() *LinkRegistry {
	return &LinkRegistry{
		ingest: make(map[ParticipantID]*IngestLink),
		egress: make(map[ParticipantID]map[ParticipantID]*EgressLink),
		from:   make(map[ParticipantID]map[ParticipantID]struct{}),
	}
}

// GetOrCreateIngest returns p's ingest link, creating it if absent. A failed or
// closed link is replaced and closed together with every egress link it fed.
// The lookup and the insert happen under a single lock so concurrent offers
// for p see one link.
func (r *LinkRegistry) GetOrCreateIngest(p ParticipantID, create func() (*IngestLink, error)) (*IngestLink, bool, error) {
	r.mu.Lock()
	cur, ok := r.ingest[p]
	if ok && cur.usable() {
		r.mu.Unlock()
		return cur, false, nil
	}
	l, err := create()
	if err != nil {
		r.mu.Unlock()
		return nil, false, err
	}
	r.ingest[p] = l
	var stale []*EgressLink
	if ok {
		stale = r.detachFromLocked(p)
	} else {
		ingestLinks.Inc()
	}
	r.mu.Unlock()

	if ok {
		Logger.V(1).Info("replacing ingest link", "publisher", p, "state", cur.State().String(), "egress", len(stale))
		if err := cur.close(); err != nil {
			Logger.Error(err, "close replaced ingest link", "publisher", p)
		}
		if err := closeEgress(stale); err != nil {
			Logger.Error(err, "close egress of replaced ingest link", "publisher", p)
		}
	}
	return l, true, nil
}

// Ingest looks up p's ingest link.
func (r *LinkRegistry) Ingest(p ParticipantID) (*IngestLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ingest[p]
	return l, ok
}

// GetOrCreateEgress returns the link forwarding src's publisher to subscriber,
// creating it if absent. It fails with ErrNoIngest once src is no longer the
// publisher's ingest link, so a link cannot be created for a publisher that
// departed or renegotiated after src was looked up.
func (r *LinkRegistry) GetOrCreateEgress(src *IngestLink, subscriber ParticipantID, create func() (*EgressLink, error)) (*EgressLink, bool, error) {
	publisher := src.Publisher
	r.mu.Lock()
	if r.ingest[publisher] != src {
		r.mu.Unlock()
		return nil, false, ErrNoIngest
	}
	cur, ok := r.egress[subscriber][publisher]
	if ok && cur.usable() {
		r.mu.Unlock()
		return cur, false, nil
	}
	l, err := create()
	if err != nil {
		r.mu.Unlock()
		return nil, false, err
	}
	bySub, exists := r.egress[subscriber]
	if !exists {
		bySub = make(map[ParticipantID]*EgressLink)
		r.egress[subscriber] = bySub
	}
	bySub[publisher] = l
	byPub, exists := r.from[publisher]
	if !exists {
		byPub = make(map[ParticipantID]struct{})
		r.from[publisher] = byPub
	}
	byPub[subscriber] = struct{}{}
	if !ok {
		egressLinks.Inc()
	}
	r.mu.Unlock()

	if ok {
		Logger.V(1).Info("replacing egress link", "publisher", publisher, "subscriber", subscriber, "state", cur.State().String())
		if err := cur.close(); err != nil {
			Logger.Error(err, "close replaced egress link", "publisher", publisher, "subscriber", subscriber)
		}
	}
	return l, true, nil
}

// Egress looks up the link forwarding publisher to subscriber.
func (r *LinkRegistry) Egress(publisher, subscriber ParticipantID) (*EgressLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.egress[subscriber][publisher]
	return l, ok
}

// CloseIngest closes and removes p's ingest link. A missing link is not an error.
func (r *LinkRegistry) CloseIngest(p ParticipantID) error {
	r.mu.Lock()
	l, ok := r.ingest[p]
	if ok {
		delete(r.ingest, p)
		ingestLinks.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := l.close(); err != nil {
		return fmt.Errorf("close ingest %s: %w", p, err)
	}
	return nil
}

// CloseEgress closes and removes the link forwarding publisher to subscriber.
func (r *LinkRegistry) CloseEgress(publisher, subscriber ParticipantID) error {
	r.mu.Lock()
	l, ok := r.egress[subscriber][publisher]
	if ok {
		delete(r.egress[subscriber], publisher)
		if len(r.egress[subscriber]) == 0 {
			delete(r.egress, subscriber)
		}
		r.unindexLocked(publisher, subscriber)
		egressLinks.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return closeEgress([]*EgressLink{l})
}

// CloseAllEgressFor closes every link subscriber receives media on.
func (r *LinkRegistry) CloseAllEgressFor(subscriber ParticipantID) error {
	r.mu.Lock()
	bySub := r.egress[subscriber]
	delete(r.egress, subscriber)
	links := make([]*EgressLink, 0, len(bySub))
	for publisher, l := range bySub {
		r.unindexLocked(publisher, subscriber)
		links = append(links, l)
	}
	egressLinks.Sub(float64(len(links)))
	r.mu.Unlock()

	return closeEgress(links)
}

// CloseAllEgressFrom closes every link forwarding publisher's media.
func (r *LinkRegistry) CloseAllEgressFrom(publisher ParticipantID) error {
	r.mu.Lock()
	links := r.detachFromLocked(publisher)
	r.mu.Unlock()

	return closeEgress(links)
}

// CloseAll closes every link. Used on shutdown.
func (r *LinkRegistry) CloseAll() error {
	r.mu.Lock()
	publishers := make([]ParticipantID, 0, len(r.ingest))
	for p := range r.ingest {
		publishers = append(publishers, p)
	}
	subscribers := make([]ParticipantID, 0, len(r.egress))
	for s := range r.egress {
		subscribers = append(subscribers, s)
	}
	r.mu.Unlock()

	var result *multierror.Error
	for _, s := range subscribers {
		if err := r.CloseAllEgressFor(s); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, p := range publishers {
		if err := r.CloseIngest(p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Counts returns the number of ingest and egress links.
func (r *LinkRegistry) Counts() (ingest, egress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bySub := range r.egress {
		egress += len(bySub)
	}
	return len(r.ingest), egress
}

// detachFromLocked removes every egress link fed by publisher and returns them
// for closing outside the lock.
func (r *LinkRegistry) detachFromLocked(publisher ParticipantID) []*EgressLink {
	subscribers := r.from[publisher]
	delete(r.from, publisher)
	links := make([]*EgressLink, 0, len(subscribers))
	for subscriber := range subscribers {
		bySub := r.egress[subscriber]
		if l, ok := bySub[publisher]; ok {
			links = append(links, l)
			delete(bySub, publisher)
		}
		if len(bySub) == 0 {
			delete(r.egress, subscriber)
		}
	}
	egressLinks.Sub(float64(len(links)))
	return links
}

func closeEgress(links []*EgressLink) error {
	var result *multierror.Error
	for _, l := range links {
		if err := l.close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close egress %s->%s: %w", l.Publisher, l.Subscriber, err))
		}
	}
	return result.ErrorOrNil()
}

func (r *LinkRegistry) unindexLocked(publisher, subscriber ParticipantID) {
	subs, ok := r.from[publisher]
	if !ok {
		return
	}
	delete(subs, subscriber)
	if len(subs) == 0 {
		delete(r.from, publisher)
	}
}
