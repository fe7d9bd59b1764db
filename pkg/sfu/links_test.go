package sfu

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/ion-sfu-room/pkg/signal"
)

func newIngest(t *testing.T, e *fakeEngine, p ParticipantID) func() (*IngestLink, error) {
	f := NewFactory(e, newRecordingMessenger(), nil)
	return func() (*IngestLink, error) { return f.NewIngest(p, "r1") }
}

func TestGetOrCreateIngestIsIdempotent(t *testing.T) {
	e := &fakeEngine{}
	r := NewLinkRegistry()

	var wg sync.WaitGroup
	links := make([]*IngestLink, 8)
	for i := range links {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, _, err := r.GetOrCreateIngest("a", newIngest(t, e, "a"))
			assert.NoError(t, err)
			links[i] = l
		}(i)
	}
	wg.Wait()

	for _, l := range links {
		assert.Same(t, links[0], l)
	}
	assert.Len(t, e.of(RoleIngest), 1)
	ingest, egress := r.Counts()
	assert.Equal(t, 1, ingest)
	assert.Equal(t, 0, egress)
}

func TestGetOrCreateIngestReplacesFailed(t *testing.T) {
	e := &fakeEngine{}
	r := NewLinkRegistry()

	first, created, err := r.GetOrCreateIngest("a", newIngest(t, e, "a"))
	require.NoError(t, err)
	require.True(t, created)
	first.fail()

	second, created, err := r.GetOrCreateIngest("a", newIngest(t, e, "a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, first, second)
	assert.Equal(t, StateClosed, first.State())
	assert.True(t, e.of(RoleIngest)[0].isClosed())

	got, ok := r.Ingest("a")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestReplacingIngestClosesItsEgress(t *testing.T) {
	e := &fakeEngine{}
	f := NewFactory(e, newRecordingMessenger(), nil)
	r := NewLinkRegistry()

	first, _, err := r.GetOrCreateIngest("a", newIngest(t, e, "a"))
	require.NoError(t, err)
	ab, err := addEgress(t, r, f, first, "b")
	require.NoError(t, err)
	first.fail()

	second, created, err := r.GetOrCreateIngest("a", newIngest(t, e, "a"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, StateClosed, ab.State())
	_, ok := r.Egress("a", "b")
	assert.False(t, ok)
	_, egress := r.Counts()
	assert.Zero(t, egress)

	_, err = addEgress(t, r, f, first, "c")
	assert.ErrorIs(t, err, ErrNoIngest, "a replaced link cannot feed new subscribers")
	_, err = addEgress(t, r, f, second, "c")
	assert.NoError(t, err)
}

func TestEgressRequiresLiveIngest(t *testing.T) {
	e := &fakeEngine{}
	f := NewFactory(e, newRecordingMessenger(), nil)
	r := NewLinkRegistry()

	src, _, err := r.GetOrCreateIngest("a", newIngest(t, e, "a"))
	require.NoError(t, err)
	// The publisher departs between the subscriber's lookup and the insert.
	require.NoError(t, r.CloseIngest("a"))
	require.NoError(t, r.CloseAllEgressFrom("a"))

	_, err = addEgress(t, r, f, src, "b")
	assert.ErrorIs(t, err, ErrNoIngest)
	_, ok := r.Egress("a", "b")
	assert.False(t, ok)
	assert.Empty(t, e.of(RoleEgress), "no connection is created for a departed publisher")
}

func TestCloseEgress(t *testing.T) {
	e := &fakeEngine{}
	f := NewFactory(e, newRecordingMessenger(), nil)
	r := NewLinkRegistry()

	src, _, err := r.GetOrCreateIngest("a", newIngest(t, e, "a"))
	require.NoError(t, err)
	ab, err := addEgress(t, r, f, src, "b")
	require.NoError(t, err)

	require.NoError(t, r.CloseEgress("a", "b"))
	assert.Equal(t, StateClosed, ab.State())
	_, egress := r.Counts()
	assert.Zero(t, egress)
	assert.NoError(t, r.CloseEgress("a", "b"))
	assert.NoError(t, r.CloseAllEgressFrom("a"), "the publisher index was cleaned up")
}

func TestGetOrCreateIngestEngineError(t *testing.T) {
	e := &fakeEngine{fail: errFake}
	r := NewLinkRegistry()

	_, _, err := r.GetOrCreateIngest("a", newIngest(t, e, "a"))
	assert.ErrorIs(t, err, errFake)
	_, ok := r.Ingest("a")
	assert.False(t, ok)
}

// addEgress registers an egress link fed by src.
func addEgress(t *testing.T, r *LinkRegistry, f *Factory, src *IngestLink, sub ParticipantID) (*EgressLink, error) {
	t.Helper()
	l, _, err := r.GetOrCreateEgress(src, sub, func() (*EgressLink, error) {
		return f.NewEgress(src.Publisher, sub, "r1", fakeStream{id: "s"})
	})
	return l, err
}

func TestEgressIndexes(t *testing.T) {
	e := &fakeEngine{}
	f := NewFactory(e, newRecordingMessenger(), nil)
	r := NewLinkRegistry()
	stream := fakeStream{id: "s"}

	ingest := map[ParticipantID]*IngestLink{}
	for _, p := range []ParticipantID{"a", "b"} {
		l, _, err := r.GetOrCreateIngest(p, newIngest(t, e, p))
		require.NoError(t, err)
		ingest[p] = l
	}

	pairs := [][2]ParticipantID{{"a", "b"}, {"a", "c"}, {"b", "c"}}
	for _, p := range pairs {
		pub, sub := p[0], p[1]
		_, created, err := r.GetOrCreateEgress(ingest[pub], sub, func() (*EgressLink, error) {
			return f.NewEgress(pub, sub, "r1", stream)
		})
		require.NoError(t, err)
		require.True(t, created)
	}
	_, egress := r.Counts()
	assert.Equal(t, 3, egress)

	for _, pc := range e.of(RoleEgress) {
		assert.Equal(t, []MediaStream{stream}, pc.streams)
	}

	require.NoError(t, r.CloseAllEgressFrom("a"))
	_, ok := r.Egress("a", "b")
	assert.False(t, ok)
	_, ok = r.Egress("a", "c")
	assert.False(t, ok)
	bc, ok := r.Egress("b", "c")
	require.True(t, ok)

	require.NoError(t, r.CloseAllEgressFor("c"))
	assert.Equal(t, StateClosed, bc.State())
	_, egress = r.Counts()
	assert.Equal(t, 0, egress)

	for _, pc := range e.of(RoleEgress) {
		assert.True(t, pc.isClosed())
	}
}

func TestCloseAll(t *testing.T) {
	e := &fakeEngine{}
	f := NewFactory(e, newRecordingMessenger(), nil)
	r := NewLinkRegistry()

	src, _, err := r.GetOrCreateIngest("a", func() (*IngestLink, error) { return f.NewIngest("a", "r1") })
	require.NoError(t, err)
	_, err = addEgress(t, r, f, src, "b")
	require.NoError(t, err)

	require.NoError(t, r.CloseAll())
	ingest, egress := r.Counts()
	assert.Zero(t, ingest)
	assert.Zero(t, egress)
	assert.NoError(t, r.CloseIngest("a"), "closing a missing link is not an error")
}

func TestLinkQueuesCandidatesUntilOffer(t *testing.T) {
	pc := &fakePC{role: RoleIngest}
	l := &link{role: RoleIngest, pc: pc}
	mid := "0"

	require.NoError(t, l.addCandidate(signal.ICECandidate{Candidate: "c1", SDPMid: &mid}))
	require.NoError(t, l.addCandidate(signal.ICECandidate{Candidate: "c2", SDPMid: &mid}))
	assert.Zero(t, pc.candidateCount())

	require.NoError(t, l.begin())
	answer, err := l.negotiate(context.Background(), signal.SessionDescription{Type: "offer", SDP: "x"})
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	assert.Equal(t, StateAnswered, l.State())
	require.Equal(t, 2, pc.candidateCount())
	assert.Equal(t, "c1", pc.candidates[0].Candidate)
	assert.Equal(t, "c2", pc.candidates[1].Candidate)

	require.NoError(t, l.addCandidate(signal.ICECandidate{Candidate: "c3"}))
	assert.Equal(t, 3, pc.candidateCount())

	require.NoError(t, l.close())
	assert.ErrorIs(t, l.addCandidate(signal.ICECandidate{Candidate: "c4"}), ErrLinkClosed)
}

func TestLinkStatesOnlyMoveForward(t *testing.T) {
	l := &link{pc: &fakePC{}}
	require.NoError(t, l.begin())
	assert.True(t, l.advance(StateEstablished))
	assert.False(t, l.advance(StateAnswered))
	assert.Equal(t, StateEstablished, l.State())

	l.iceStateChanged(ICEFailed)
	assert.Equal(t, StateFailed, l.State())
	assert.ErrorIs(t, l.begin(), ErrLinkClosed)
	_, err := l.negotiate(context.Background(), signal.SessionDescription{Type: "offer"})
	assert.ErrorIs(t, err, ErrLinkClosed)

	require.NoError(t, l.close())
	require.NoError(t, l.close())
	assert.False(t, l.advance(StateFailed))
	assert.Equal(t, StateClosed, l.State())
}
