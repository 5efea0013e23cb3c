package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/call"
)

// Sample is one encoded media frame fed into a local track.
type Sample struct {
	Data     []byte
	Duration time.Duration
}

func (s Sample) toMedia() media.Sample {
	return media.Sample{Data: s.Data, Duration: s.Duration}
}

// Peer wraps a pion peer connection behind the call negotiation
// surface.
type Peer struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger
}

var _ call.Peer = (*Peer)(nil)

// NewPeerFactory returns a factory building peer connections with the
// given STUN servers and the source's local tracks attached.
func NewPeerFactory(stunServers []string, logger *zap.Logger) call.PeerFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(src call.MediaSource) (call.Peer, error) {
		cfg := webrtc.Configuration{}
		if len(stunServers) > 0 {
			cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
		}
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating peer connection: %w", err)
		}

		if s, ok := src.(*Source); ok {
			for _, track := range s.tracks() {
				if _, err := pc.AddTrack(track); err != nil {
					_ = pc.Close()
					return nil, fmt.Errorf("attaching local track: %w", err)
				}
			}
		}

		p := &Peer{pc: pc, logger: logger}
		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			logger.Debug("peer connection state", zap.String("state", state.String()))
		})
		return p, nil
	}
}

// CreateOffer produces and installs the local offer.
func (p *Peer) CreateOffer(ctx context.Context) (call.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("creating offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return call.SessionDescription{}, fmt.Errorf("setting local offer: %w", err)
	}
	return call.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer produces and installs the local answer.
func (p *Peer) CreateAnswer(ctx context.Context) (call.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("creating answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return call.SessionDescription{}, fmt.Errorf("setting local answer: %w", err)
	}
	return call.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription applies the remote offer or answer.
func (p *Peer) SetRemoteDescription(desc call.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

// AddICECandidate applies one remote candidate.
func (p *Peer) AddICECandidate(cand call.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

// OnICECandidate registers the trickle callback. The gathering-done
// nil candidate is filtered out.
func (p *Peer) OnICECandidate(fn func(call.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(call.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

// OnTrack registers a handler for inbound remote media.
func (p *Peer) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

// Close shuts the peer connection down.
func (p *Peer) Close() error {
	return p.pc.Close()
}
