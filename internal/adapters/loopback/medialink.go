package loopback

import (
	"fmt"
	"sync"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type sender struct {
	kind core.TrackKind

	mu    sync.Mutex
	track core.Track
}

func (s *sender) Kind() core.TrackKind { return s.kind }

func (s *sender) Track() core.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *sender) ReplaceTrack(t core.Track) error {
	if t != nil && t.Kind() != s.kind {
		return fmt.Errorf("%w: %s track on %s sender", domain.ErrMedia, t.Kind(), s.kind)
	}
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

type remoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t remoteTrack) ID() string                { return t.id }
func (t remoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

type mediaEnd struct {
	remote domain.PeerID
	other  *mediaEnd

	mu        sync.Mutex
	streamID  string
	senders   core.Senders
	published bool
	closed    bool
	onStream  func(core.RemoteStream)
	onClose   func()
}

func newMediaEnd(remote domain.PeerID) *mediaEnd {
	return &mediaEnd{remote: remote, streamID: uuid.NewString()}
}

func (e *mediaEnd) RemotePeer() domain.PeerID { return e.remote }

func (e *mediaEnd) Senders() core.Senders {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.senders
}

func (e *mediaEnd) publish(stream *core.LocalStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := &sender{kind: core.KindAudio}
	v := &sender{kind: core.KindVideo}
	if stream != nil {
		a.track, v.track = stream.Audio, stream.Video
	}
	e.senders = core.Senders{Audio: a, Video: v}
	e.published = true
}

// remoteView is what the far side sees of this end's stream.
func (e *mediaEnd) remoteView() (core.RemoteStream, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.published {
		return core.RemoteStream{}, false
	}
	rs := core.RemoteStream{ID: e.streamID, Peer: e.other.remote}
	for _, s := range []core.Sender{e.senders.Audio, e.senders.Video} {
		if t := s.Track(); t != nil {
			kind := webrtc.RTPCodecTypeVideo
			if t.Kind() == core.KindAudio {
				kind = webrtc.RTPCodecTypeAudio
			}
			rs.Tracks = append(rs.Tracks, remoteTrack{id: t.ID(), kind: kind})
		}
	}
	return rs, true
}

func (e *mediaEnd) Answer(stream *core.LocalStream) error {
	e.mu.Lock()
	closed, answered := e.closed, e.published
	e.mu.Unlock()
	if closed {
		return domain.ErrClosed
	}
	if answered {
		return nil
	}
	e.publish(stream)
	e.other.streamReady()
	e.streamReady()
	return nil
}

func (e *mediaEnd) streamReady() {
	rs, ok := e.other.remoteView()
	if !ok {
		return
	}
	e.mu.Lock()
	fn := e.onStream
	e.mu.Unlock()
	if fn != nil {
		fn(rs)
	}
}

// OnStream fires once both sides have published.
func (e *mediaEnd) OnStream(fn func(core.RemoteStream)) {
	e.mu.Lock()
	e.onStream = fn
	e.mu.Unlock()
	if e.established() {
		if rs, ok := e.other.remoteView(); ok {
			fn(rs)
		}
	}
}

func (e *mediaEnd) established() bool {
	e.mu.Lock()
	mine := e.published
	e.mu.Unlock()
	e.other.mu.Lock()
	theirs := e.other.published
	e.other.mu.Unlock()
	return mine && theirs
}

func (e *mediaEnd) OnClose(fn func()) {
	e.mu.Lock()
	closed := e.closed
	if !closed {
		e.onClose = fn
	}
	e.mu.Unlock()
	if closed {
		go fn()
	}
}

func (e *mediaEnd) Close() error {
	e.shut()
	e.other.shut()
	return nil
}

func (e *mediaEnd) shut() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	fn := e.onClose
	e.onClose = nil
	e.mu.Unlock()
	if fn != nil {
		go fn()
	}
}
