// Package call drives one-to-one audio/video call signaling: a strict
// state machine, media acquisition, and SDP/ICE exchange over the
// signaling channel.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/event"
)

// Signaler delivers call signals to the remote peer. Implemented by
// the outbound dispatcher.
type Signaler interface {
	SendCallSignal(sig event.CallSignal) error
}

// offerPayload is the wire shape of an offer signal's data field.
type offerPayload struct {
	SessionDescription
	Video bool `json:"video"`
}

// Controller owns at most one call at a time. A second inbound offer
// while any call is in progress is answered with call-reject and
// otherwise ignored.
type Controller struct {
	mu      sync.Mutex
	machine *Machine
	media   MediaSource
	newPeer PeerFactory
	sig     Signaler
	selfID  string
	logger  *zap.Logger
	now     func() time.Time

	peer       Peer
	remoteID   string
	video      bool
	cached     *offerPayload  // inbound offer held until accept/reject
	pendingICE []ICECandidate // candidates arrived before the remote description
	haveRemote bool
}

// NewController wires a call controller. The machine may be shared so
// the UI can observe state changes through the bus.
func NewController(selfID string, machine *Machine, media MediaSource, newPeer PeerFactory, sig Signaler, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		machine: machine,
		media:   media,
		newPeer: newPeer,
		sig:     sig,
		selfID:  selfID,
		logger:  logger,
		now:     time.Now,
	}
}

// State returns the current call state.
func (c *Controller) State() State {
	return c.machine.Current()
}

// RemoteID returns the other party of the current call, or empty.
func (c *Controller) RemoteID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

// Start places an outbound call: acquire media, create the offer, and
// signal the callee. A media failure aborts back to Idle and returns
// the categorized error.
func (c *Controller) Start(ctx context.Context, remoteID string, video bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.machine.Transition(Requesting); err != nil {
		return err
	}
	c.remoteID = remoteID
	c.video = video

	if err := c.media.Acquire(ctx, video); err != nil {
		c.resetLocked(false)
		return err
	}

	peer, err := c.newPeer(c.media)
	if err != nil {
		c.resetLocked(true)
		return fmt.Errorf("creating peer connection: %w", err)
	}
	c.peer = peer
	peer.OnICECandidate(c.sendCandidate)

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		c.resetLocked(true)
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := c.send(event.SignalOffer, offerPayload{SessionDescription: offer, Video: video}, remoteID); err != nil {
		c.resetLocked(true)
		return err
	}
	return c.machine.Transition(Ringing)
}

// Accept answers the cached inbound offer: acquire media, apply the
// remote description, flush buffered candidates, send the answer.
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.machine.Current() != IncomingOffered || c.cached == nil {
		return fmt.Errorf("no incoming call to accept (state %s)", c.machine.Current())
	}
	offer := *c.cached

	if err := c.media.Acquire(ctx, offer.Video); err != nil {
		c.sendQuiet(event.SignalCallReject, nil, c.remoteID)
		c.resetLocked(false)
		return err
	}

	peer, err := c.newPeer(c.media)
	if err != nil {
		c.sendQuiet(event.SignalCallReject, nil, c.remoteID)
		c.resetLocked(true)
		return fmt.Errorf("creating peer connection: %w", err)
	}
	c.peer = peer
	peer.OnICECandidate(c.sendCandidate)

	if err := peer.SetRemoteDescription(offer.SessionDescription); err != nil {
		c.sendQuiet(event.SignalCallEnd, nil, c.remoteID)
		c.resetLocked(true)
		return fmt.Errorf("applying remote offer: %w", err)
	}
	c.haveRemote = true
	c.flushCandidatesLocked()

	answer, err := peer.CreateAnswer(ctx)
	if err != nil {
		c.sendQuiet(event.SignalCallEnd, nil, c.remoteID)
		c.resetLocked(true)
		return fmt.Errorf("creating answer: %w", err)
	}
	if err := c.send(event.SignalAnswer, answer, c.remoteID); err != nil {
		c.resetLocked(true)
		return err
	}
	c.cached = nil
	return c.machine.Transition(Connected)
}

// Reject declines the cached inbound offer. No media is acquired and
// no peer connection is created on this path.
func (c *Controller) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.machine.Current() != IncomingOffered {
		return fmt.Errorf("no incoming call to reject (state %s)", c.machine.Current())
	}
	c.sendQuiet(event.SignalCallReject, nil, c.remoteID)
	c.resetLocked(false)
	return nil
}

// End hangs up the current call from either role.
func (c *Controller) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.machine.Current() == Idle {
		return nil
	}
	c.sendQuiet(event.SignalCallEnd, nil, c.remoteID)
	c.resetLocked(true)
	return nil
}

// SetAudioEnabled flips the local audio track without renegotiating.
func (c *Controller) SetAudioEnabled(enabled bool) { c.media.SetAudioEnabled(enabled) }

// SetVideoEnabled flips the local video track without renegotiating.
func (c *Controller) SetVideoEnabled(enabled bool) { c.media.SetVideoEnabled(enabled) }

// HandleSignal processes one inbound signaling event from the
// transport. Unparseable data is logged and dropped; signals that do
// not fit the current state never crash the call in progress.
func (c *Controller) HandleSignal(sig event.CallSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch sig.Type {
	case event.SignalOffer:
		return c.handleOfferLocked(sig)
	case event.SignalAnswer:
		return c.handleAnswerLocked(sig)
	case event.SignalICECandidate:
		return c.handleCandidateLocked(sig)
	case event.SignalCallEnd, event.SignalCallReject:
		if c.machine.Current() == Idle {
			return nil
		}
		c.resetLocked(c.peer != nil || c.machine.Current() == Ringing || c.machine.Current() == Connected || c.machine.Current() == Requesting)
		return nil
	default:
		c.logger.Warn("unrecognized call signal", zap.String("type", sig.Type))
		return nil
	}
}

func (c *Controller) handleOfferLocked(sig event.CallSignal) error {
	if c.machine.Current() != Idle {
		// Busy: decline the new caller, keep the current call untouched.
		c.sendQuiet(event.SignalCallReject, nil, sig.SenderID)
		return nil
	}
	var offer offerPayload
	if err := json.Unmarshal(sig.Data, &offer); err != nil {
		c.logger.Warn("dropping malformed offer", zap.Error(err))
		return nil
	}
	if err := c.machine.Transition(IncomingOffered); err != nil {
		return err
	}
	c.remoteID = sig.SenderID
	c.video = offer.Video
	c.cached = &offer
	return nil
}

func (c *Controller) handleAnswerLocked(sig event.CallSignal) error {
	if c.machine.Current() != Ringing || c.peer == nil {
		c.logger.Warn("answer outside of ringing state", zap.String("state", string(c.machine.Current())))
		return nil
	}
	var answer SessionDescription
	if err := json.Unmarshal(sig.Data, &answer); err != nil {
		c.logger.Warn("dropping malformed answer", zap.Error(err))
		return nil
	}
	if err := c.peer.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("applying remote answer: %w", err)
	}
	c.haveRemote = true
	c.flushCandidatesLocked()
	return c.machine.Transition(Connected)
}

func (c *Controller) handleCandidateLocked(sig event.CallSignal) error {
	if c.machine.Current() == Idle {
		return nil
	}
	var cand ICECandidate
	if err := json.Unmarshal(sig.Data, &cand); err != nil {
		c.logger.Warn("dropping malformed candidate", zap.Error(err))
		return nil
	}
	if !c.haveRemote || c.peer == nil {
		// Trickled candidates may outrun the offer/answer exchange.
		c.pendingICE = append(c.pendingICE, cand)
		return nil
	}
	return c.peer.AddICECandidate(cand)
}

func (c *Controller) flushCandidatesLocked() {
	for _, cand := range c.pendingICE {
		if err := c.peer.AddICECandidate(cand); err != nil {
			c.logger.Warn("buffered candidate rejected", zap.Error(err))
		}
	}
	c.pendingICE = nil
}

func (c *Controller) sendCandidate(cand ICECandidate) {
	c.mu.Lock()
	remote := c.remoteID
	c.mu.Unlock()
	if remote == "" {
		return
	}
	if err := c.send(event.SignalICECandidate, cand, remote); err != nil {
		c.logger.Warn("candidate signal failed", zap.Error(err))
	}
}

func (c *Controller) send(sigType string, payload any, to string) error {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s signal: %w", sigType, err)
		}
		data = raw
	}
	return c.sig.SendCallSignal(event.CallSignal{
		Type:       sigType,
		Data:       data,
		SenderID:   c.selfID,
		ReceiverID: to,
		Timestamp:  c.now(),
	})
}

func (c *Controller) sendQuiet(sigType string, payload any, to string) {
	if to == "" {
		return
	}
	if err := c.send(sigType, payload, to); err != nil {
		c.logger.Warn("signal failed during teardown", zap.String("type", sigType), zap.Error(err))
	}
}

// resetLocked tears the call down to Idle. stopMedia is false on
// paths where media was never acquired.
func (c *Controller) resetLocked(stopMedia bool) {
	if c.peer != nil {
		if err := c.peer.Close(); err != nil {
			c.logger.Warn("peer close failed", zap.Error(err))
		}
		c.peer = nil
	}
	if stopMedia {
		c.media.Stop()
	}
	c.remoteID = ""
	c.video = false
	c.cached = nil
	c.pendingICE = nil
	c.haveRemote = false

	switch c.machine.Current() {
	case Idle:
	case Connected, Ringing:
		if err := c.machine.Transition(Ended); err == nil {
			_ = c.machine.Transition(Idle)
			return
		}
		_ = c.machine.Transition(Idle)
	default:
		_ = c.machine.Transition(Idle)
	}
}
