package rtc

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Stream is the set of tracks one publisher sends on its ingest connection.
// It implements sfu.MediaStream.
type Stream struct {
	mu        sync.RWMutex
	id        string
	relays    []*relay
	expected  int
	announced bool
}

// ID returns the publisher's media stream id.
func (s *Stream) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Kinds lists the kinds of the tracks received so far.
func (s *Stream) Kinds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kinds := make([]string, 0, len(s.relays))
	for _, r := range s.relays {
		kinds = append(kinds, r.kind)
	}
	return kinds
}

func (s *Stream) expect(n int) {
	s.mu.Lock()
	s.expected = n
	s.mu.Unlock()
}

// add registers a relay and reports whether the stream just became complete.
func (s *Stream) add(r *relay) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = r.streamID
	}
	s.relays = append(s.relays, r)
	if s.announced || len(s.relays) < s.expected {
		return false
	}
	s.announced = true
	return true
}

func (s *Stream) snapshot() []*relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*relay, len(s.relays))
	copy(out, s.relays)
	return out
}

// relay copies RTP from one remote track to every attached local track.
type relay struct {
	remote   *webrtc.TrackRemote
	kind     string
	streamID string
	// upstream is the ingest connection, used for keyframe requests.
	upstream *webrtc.PeerConnection

	mu     sync.RWMutex
	locals map[*webrtc.TrackLocalStaticRTP]struct{}
}

func newRelay(remote *webrtc.TrackRemote, upstream *webrtc.PeerConnection) *relay {
	return &relay{
		remote:   remote,
		kind:     remote.Kind().String(),
		streamID: remote.StreamID(),
		upstream: upstream,
		locals:   make(map[*webrtc.TrackLocalStaticRTP]struct{}),
	}
}

func (r *relay) run() {
	for {
		pkt, _, err := r.remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				Logger.V(1).Info("relay stopped", "track", r.remote.ID(), "err", err)
			}
			return
		}
		r.forward(pkt)
	}
}

func (r *relay) forward(pkt *rtp.Packet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for local := range r.locals {
		if err := local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			Logger.V(1).Info("relay write failed", "track", local.ID(), "err", err)
		}
	}
}

func (r *relay) newLocal() (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(r.remote.Codec().RTPCodecCapability, r.remote.ID(), r.remote.StreamID())
}

func (r *relay) attach(local *webrtc.TrackLocalStaticRTP) {
	r.mu.Lock()
	r.locals[local] = struct{}{}
	r.mu.Unlock()
	if r.kind == webrtc.RTPCodecTypeVideo.String() {
		r.requestKeyframe()
	}
}

func (r *relay) detach(local *webrtc.TrackLocalStaticRTP) {
	r.mu.Lock()
	delete(r.locals, local)
	r.mu.Unlock()
}

func (r *relay) requestKeyframe() {
	err := r.upstream.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(r.remote.SSRC())},
	})
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		Logger.V(1).Info("keyframe request failed", "track", r.remote.ID(), "err", err)
	}
}

// forwardFeedback reads subscriber RTCP and turns keyframe requests into
// upstream PLIs. It returns when the sender is closed.
func (r *relay) forwardFeedback(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				r.requestKeyframe()
			}
		}
	}
}
