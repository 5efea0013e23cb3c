package call

import (
	"context"
	"errors"
	"fmt"
)

// MediaErrorKind categorizes media acquisition failures so the UI can
// show an actionable message instead of a generic one.
type MediaErrorKind int

const (
	// MediaFailure is any acquisition error without a more specific cause.
	MediaFailure MediaErrorKind = iota
	// MediaPermissionDenied means capture was refused by the platform.
	MediaPermissionDenied
	// MediaDeviceNotFound means no matching capture device exists.
	MediaDeviceNotFound
	// MediaDeviceBusy means the device is held by another process.
	MediaDeviceBusy
)

// MediaError wraps a media acquisition failure with its category.
type MediaError struct {
	Kind MediaErrorKind
	Err  error
}

func (e *MediaError) Error() string {
	switch e.Kind {
	case MediaPermissionDenied:
		return fmt.Sprintf("media permission denied: %v", e.Err)
	case MediaDeviceNotFound:
		return fmt.Sprintf("media device not found: %v", e.Err)
	case MediaDeviceBusy:
		return fmt.Sprintf("media device busy: %v", e.Err)
	default:
		return fmt.Sprintf("media acquisition failed: %v", e.Err)
	}
}

func (e *MediaError) Unwrap() error { return e.Err }

// AsMediaError extracts the media error category from an error chain.
func AsMediaError(err error) (*MediaError, bool) {
	var me *MediaError
	ok := errors.As(err, &me)
	return me, ok
}

// MediaSource acquires and controls local capture tracks. Acquire is
// called at most once per call; Stop releases whatever was acquired.
type MediaSource interface {
	Acquire(ctx context.Context, video bool) error
	Stop()
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is one trickled ICE candidate.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Peer is the negotiation surface of a peer connection. Implemented
// by internal/rtc on top of pion; tests substitute fakes.
type Peer interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(cand ICECandidate) error
	OnICECandidate(fn func(ICECandidate))
	Close() error
}

// PeerFactory builds a peer connection carrying the local media tracks.
type PeerFactory func(src MediaSource) (Peer, error)
