// Package rtc implements the sfu.Engine capability with pion/webrtc.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/pion/ion-sfu-room/pkg/logger"
	"github.com/pion/ion-sfu-room/pkg/sfu"
	"github.com/pion/ion-sfu-room/pkg/signal"
)

// Logger is the package logger.
var Logger logr.Logger = logger.New().WithName("rtc")

// Engine creates pion peer connections for the SFU.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewEngine builds a webrtc.API with the default codecs and interceptors.
func NewEngine(c TransportConfig) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(c.Setting),
	)
	return &Engine{api: api, config: c.Configuration}, nil
}

// NewPeerConnection implements sfu.Engine.
func (e *Engine) NewPeerConnection(role sfu.Role, sink sfu.EventSink) (sfu.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}
	p := &peerConnection{role: role, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			sink.OnICECandidate(nil)
			return
		}
		cand := fromPionCandidate(c.ToJSON())
		sink.OnICECandidate(&cand)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		sink.OnICEConnectionStateChange(iceState(state))
	})
	if role == sfu.RoleIngest {
		p.stream = &Stream{}
		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			Logger.V(1).Info("remote track", "track", remote.ID(), "kind", remote.Kind().String(), "codec", remote.Codec().MimeType)
			r := newRelay(remote, pc)
			go r.run()
			if p.stream.add(r) {
				sink.OnTrack(p.stream)
			}
		})
	}
	return p, nil
}

type attachment struct {
	relay *relay
	local *webrtc.TrackLocalStaticRTP
}

// peerConnection adapts *webrtc.PeerConnection to sfu.PeerConnection.
type peerConnection struct {
	role   sfu.Role
	pc     *webrtc.PeerConnection
	stream *Stream

	mu       sync.Mutex
	attached []attachment
}

func (p *peerConnection) CreateOffer(ctx context.Context) (signal.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return signal.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return signal.SessionDescription{}, err
	}
	return fromPionDescription(offer), nil
}

func (p *peerConnection) CreateAnswer(ctx context.Context) (signal.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return signal.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return signal.SessionDescription{}, err
	}
	return fromPionDescription(answer), nil
}

func (p *peerConnection) SetLocalDescription(ctx context.Context, desc signal.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetLocalDescription(toPionDescription(desc))
}

func (p *peerConnection) SetRemoteDescription(ctx context.Context, desc signal.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(toPionDescription(desc)); err != nil {
		return err
	}
	if p.stream != nil {
		p.stream.expect(expectedTracks(desc.SDP))
	}
	return nil
}

func (p *peerConnection) AddICECandidate(c signal.ICECandidate) error {
	return p.pc.AddICECandidate(toPionCandidate(c))
}

// AddStream attaches a local copy of every track of stream.
func (p *peerConnection) AddStream(stream sfu.MediaStream) error {
	if p.role != sfu.RoleEgress {
		return ErrNotEgress
	}
	s, ok := stream.(*Stream)
	if !ok {
		return ErrForeignStream
	}
	for _, r := range s.snapshot() {
		local, err := r.newLocal()
		if err != nil {
			return fmt.Errorf("local track for %s: %w", r.remote.ID(), err)
		}
		sender, err := p.pc.AddTrack(local)
		if err != nil {
			return fmt.Errorf("add track %s: %w", r.remote.ID(), err)
		}
		go r.forwardFeedback(sender)
		r.attach(local)

		p.mu.Lock()
		p.attached = append(p.attached, attachment{relay: r, local: local})
		p.mu.Unlock()
	}
	return nil
}

func (p *peerConnection) Close() error {
	p.mu.Lock()
	attached := p.attached
	p.attached = nil
	p.mu.Unlock()
	for _, a := range attached {
		a.relay.detach(a.local)
	}
	return p.pc.Close()
}

func iceState(s webrtc.ICEConnectionState) sfu.ICEState {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return sfu.ICEChecking
	case webrtc.ICEConnectionStateConnected:
		return sfu.ICEConnected
	case webrtc.ICEConnectionStateCompleted:
		return sfu.ICECompleted
	case webrtc.ICEConnectionStateDisconnected:
		return sfu.ICEDisconnected
	case webrtc.ICEConnectionStateFailed:
		return sfu.ICEFailed
	case webrtc.ICEConnectionStateClosed:
		return sfu.ICEClosed
	}
	return sfu.ICENew
}

func toPionDescription(d signal.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromPionDescription(d webrtc.SessionDescription) signal.SessionDescription {
	return signal.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toPionCandidate(c signal.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromPionCandidate(c webrtc.ICECandidateInit) signal.ICECandidate {
	return signal.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
