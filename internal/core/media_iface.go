package core

import (
	"context"

	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/pion/webrtc/v4"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is a local capture track.
type Track interface {
	ID() string
	Kind() TrackKind
	// SetEnabled silences (audio) or blanks (video) the track without stopping it.
	SetEnabled(bool)
	Enabled() bool
	// Stop ends capture. It does not fire OnEnded.
	Stop()
	// OnEnded fires when capture is ended outside the application's control,
	// e.g. the user stopped a screen share from the system UI.
	OnEnded(func())
	// Local exposes the track to a pion PeerConnection.
	Local() webrtc.TrackLocal
}

// LocalStream is the audio and video pair a participant publishes.
type LocalStream struct {
	Audio Track
	Video Track
}

// Stop stops every track of the stream.
func (s *LocalStream) Stop() {
	if s == nil {
		return
	}
	if s.Audio != nil {
		s.Audio.Stop()
	}
	if s.Video != nil {
		s.Video.Stop()
	}
}

// Sender feeds one outgoing track of a media link.
type Sender interface {
	Kind() TrackKind
	Track() Track
	// ReplaceTrack swaps the outgoing track in place without renegotiation.
	ReplaceTrack(Track) error
}

// Senders holds the typed outgoing handles of a media link, fixed at call setup.
type Senders struct {
	Audio Sender
	Video Sender
}

type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
}

// RemoteStream is what the other side of a call publishes.
type RemoteStream struct {
	ID     string
	Peer   domain.PeerID
	Tracks []RemoteTrack
}

// MediaLink is one audio/video call with a remote peer.
type MediaLink interface {
	RemotePeer() domain.PeerID
	// Answer accepts an inbound call publishing stream.
	Answer(stream *LocalStream) error
	// OnStream fires when the remote stream is available, immediately if it already is.
	OnStream(func(RemoteStream))
	OnClose(func())
	// Senders is valid once the call has been placed or answered.
	Senders() Senders
	Close() error
}

// MediaDevices acquires capture tracks. Every method may block on user consent.
type MediaDevices interface {
	Microphone(ctx context.Context) (Track, error)
	Camera(ctx context.Context) (Track, error)
	Display(ctx context.Context) (Track, error)
}
