// Package rtc implements the call package's media and peer interfaces
// on top of pion/webrtc.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/ntbao/zylo/internal/call"
)

// Source provides local capture tracks as pion sample tracks. Samples
// are fed by the embedding application; an audio track always exists
// for a call, the video track only when requested.
type Source struct {
	mu           sync.Mutex
	audio        *webrtc.TrackLocalStaticSample
	video        *webrtc.TrackLocalStaticSample
	audioEnabled bool
	videoEnabled bool
}

var _ call.MediaSource = (*Source)(nil)

// NewSource creates an idle media source.
func NewSource() *Source {
	return &Source{}
}

// Acquire creates the local tracks for a call.
func (s *Source) Acquire(_ context.Context, video bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "zylo")
	if err != nil {
		return &call.MediaError{Kind: call.MediaFailure, Err: fmt.Errorf("audio track: %w", err)}
	}
	s.audio = audio
	s.audioEnabled = true

	if video {
		vt, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "zylo")
		if err != nil {
			s.audio = nil
			return &call.MediaError{Kind: call.MediaFailure, Err: fmt.Errorf("video track: %w", err)}
		}
		s.video = vt
		s.videoEnabled = true
	}
	return nil
}

// Stop releases the tracks.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = nil
	s.video = nil
	s.audioEnabled = false
	s.videoEnabled = false
}

// SetAudioEnabled mutes or unmutes the microphone track.
func (s *Source) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEnabled = enabled
}

// SetVideoEnabled enables or disables the camera track.
func (s *Source) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoEnabled = enabled
}

// AudioEnabled reports the microphone toggle.
func (s *Source) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioEnabled
}

// VideoEnabled reports the camera toggle.
func (s *Source) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoEnabled
}

// WriteAudio feeds one encoded audio sample. Samples are dropped
// while muted or when no call is active.
func (s *Source) WriteAudio(sample Sample) error {
	s.mu.Lock()
	track, enabled := s.audio, s.audioEnabled
	s.mu.Unlock()
	if track == nil || !enabled {
		return nil
	}
	return track.WriteSample(sample.toMedia())
}

// WriteVideo feeds one encoded video sample.
func (s *Source) WriteVideo(sample Sample) error {
	s.mu.Lock()
	track, enabled := s.video, s.videoEnabled
	s.mu.Unlock()
	if track == nil || !enabled {
		return nil
	}
	return track.WriteSample(sample.toMedia())
}

// tracks returns the live local tracks for attachment to a peer
// connection.
func (s *Source) tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []webrtc.TrackLocal
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}
