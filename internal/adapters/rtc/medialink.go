package rtc

import (
	"fmt"
	"sync"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type sender struct {
	kind core.TrackKind
	rs   *webrtc.RTPSender

	mu    sync.Mutex
	track core.Track
}

func (s *sender) Kind() core.TrackKind { return s.kind }

func (s *sender) Track() core.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// ReplaceTrack swaps the outgoing track without renegotiation.
func (s *sender) ReplaceTrack(t core.Track) error {
	var local webrtc.TrackLocal
	if t != nil {
		if t.Kind() != s.kind {
			return fmt.Errorf("%w: %s track on %s sender", domain.ErrMedia, t.Kind(), s.kind)
		}
		local = t.Local()
	}
	if err := s.rs.ReplaceTrack(local); err != nil {
		return fmt.Errorf("%w: replace track: %w", domain.ErrMedia, err)
	}
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

type remoteTrack struct {
	tr  *webrtc.TrackRemote
	rcv *webrtc.RTPReceiver
}

func (t remoteTrack) ID() string                { return t.tr.ID() }
func (t remoteTrack) Kind() webrtc.RTPCodecType { return t.tr.Kind() }

func (t remoteTrack) ReadRTP() (*rtp.Packet, error) {
	p, _, err := t.tr.ReadRTP()
	return p, err
}

// Stop releases the receiver, unblocking a pending ReadRTP.
func (t remoteTrack) Stop() error { return t.rcv.Stop() }

type mediaLink struct {
	conn *peerConn

	mu       sync.Mutex
	senders  core.Senders
	answered bool
	ended    bool
	stream   core.RemoteStream
	onStream func(core.RemoteStream)
	onClose  func()
}

func newMediaLink(conn *peerConn) *mediaLink {
	l := &mediaLink{conn: conn, stream: core.RemoteStream{Peer: conn.remote}}
	conn.pc.OnTrack(l.onTrack)
	conn.whenClosed(l.shut)
	return l
}

func (l *mediaLink) RemotePeer() domain.PeerID { return l.conn.remote }

func (l *mediaLink) Senders() core.Senders {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.senders
}

func (l *mediaLink) publish(stream *core.LocalStream) error {
	var audio, video core.Track
	if stream != nil {
		audio, video = stream.Audio, stream.Video
	}
	a, err := l.addSender(core.KindAudio, webrtc.RTPCodecTypeAudio, audio)
	if err != nil {
		return err
	}
	v, err := l.addSender(core.KindVideo, webrtc.RTPCodecTypeVideo, video)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.senders = core.Senders{Audio: a, Video: v}
	l.mu.Unlock()
	return nil
}

// addSender returns nil when there is no track to send; the transceiver then only receives.
func (l *mediaLink) addSender(kind core.TrackKind, codec webrtc.RTPCodecType, t core.Track) (core.Sender, error) {
	pc := l.conn.pc
	if t == nil {
		_, err := pc.AddTransceiverFromKind(codec, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
		if err != nil {
			return nil, fmt.Errorf("%w: %s transceiver: %w", domain.ErrMedia, kind, err)
		}
		return nil, nil
	}
	rs, err := pc.AddTrack(t.Local())
	if err != nil {
		return nil, fmt.Errorf("%w: add %s track: %w", domain.ErrMedia, kind, err)
	}
	go drainRTCP(rs)
	return &sender{kind: kind, rs: rs, track: t}, nil
}

// drainRTCP keeps interceptors running until the sender stops.
func drainRTCP(rs *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := rs.Read(buf); err != nil {
			return
		}
	}
}

func (l *mediaLink) Answer(stream *core.LocalStream) error {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return domain.ErrClosed
	}
	if l.answered {
		l.mu.Unlock()
		return nil
	}
	l.answered = true
	l.mu.Unlock()

	if err := l.publish(stream); err != nil {
		return err
	}
	return l.conn.t.answer(l.conn)
}

func (l *mediaLink) onTrack(tr *webrtc.TrackRemote, rcv *webrtc.RTPReceiver) {
	log.Info().
		Str("module", "webrtc").
		Str("peer", string(l.conn.remote)).
		Str("kind", tr.Kind().String()).
		Str("track_id", tr.ID()).
		Str("stream_id", tr.StreamID()).
		Msg("OnTrack received")
	l.mu.Lock()
	l.stream.ID = tr.StreamID()
	l.stream.Tracks = append(l.stream.Tracks, remoteTrack{tr: tr, rcv: rcv})
	rs := l.snapshotLocked()
	fn := l.onStream
	l.mu.Unlock()
	if fn != nil {
		fn(rs)
	}
}

func (l *mediaLink) snapshotLocked() core.RemoteStream {
	rs := l.stream
	rs.Tracks = append([]core.RemoteTrack(nil), l.stream.Tracks...)
	return rs
}

func (l *mediaLink) OnStream(fn func(core.RemoteStream)) {
	l.mu.Lock()
	l.onStream = fn
	ready := len(l.stream.Tracks) > 0
	rs := l.snapshotLocked()
	l.mu.Unlock()
	if ready {
		fn(rs)
	}
}

func (l *mediaLink) OnClose(fn func()) {
	l.mu.Lock()
	if !l.ended {
		l.onClose = fn
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	go fn()
}

func (l *mediaLink) shut() {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return
	}
	l.ended = true
	fn := l.onClose
	l.onClose = nil
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *mediaLink) Close() error {
	l.conn.close(true)
	return nil
}
