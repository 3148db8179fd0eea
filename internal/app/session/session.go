// Package session drives one participant's side of a live classroom: it decides the
// role, binds the peer identifier, performs the join handshake and dispatches
// data-link messages to the relay hub (host) or the directory cache (student).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/LiveClass/internal/app"
	"github.com/dkeye/LiveClass/internal/app/directory"
	"github.com/dkeye/LiveClass/internal/app/media"
	"github.com/dkeye/LiveClass/internal/app/relay"
	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/rs/zerolog/log"
)

type Config struct {
	SessionID domain.SessionID
	Identity  domain.Identity

	Catalog    *domain.Catalog
	Limits     relay.Limits
	Policy     app.Policy
	MaxChatLen int
	Clock      func() time.Time
}

// Hooks receive state changes. They run on transport goroutines and must not block.
type Hooks struct {
	OnState              func(State, error)
	OnDirectory          func([]domain.PeerRecord)
	OnChat               func(domain.ChatMessage)
	OnLesson             func(domain.LessonID)
	OnRemoteStream       func(domain.PeerID, core.RemoteStream)
	OnRemoteStreamClosed func(domain.PeerID)
}

type Session struct {
	cfg       Config
	hostID    domain.PeerID
	host      bool
	transport core.Transport
	devices   core.MediaDevices
	hooks     Hooks

	ctx    context.Context
	cancel context.CancelFunc

	hub    *relay.Hub
	cache  *directory.Cache
	roster atomic.Pointer[[]domain.PeerRecord]

	mu       sync.Mutex
	state    State
	err      error
	started  bool
	ended    bool
	self     domain.PeerID
	local    *core.LocalStream
	media    *media.Manager
	hostLink core.DataLink
	chat     []domain.ChatMessage
	lesson   domain.LessonID
	muted    bool
	videoOff bool
	strikes  map[domain.PeerID]int
}

func New(cfg Config, transport core.Transport, devices core.MediaDevices, hooks Hooks) *Session {
	if cfg.Catalog == nil {
		cfg.Catalog = domain.DefaultCatalog()
	}
	if cfg.Policy == nil {
		cfg.Policy = app.SimplePolicy{}
	}
	if cfg.MaxChatLen == 0 {
		cfg.MaxChatLen = domain.DefaultMaxChatLen
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		hostID:    domain.HostPeerID(cfg.SessionID),
		host:      cfg.Identity.Role.IsHost(),
		transport: transport,
		devices:   devices,
		hooks:     hooks,
		ctx:       ctx,
		cancel:    cancel,
		cache:     directory.NewCache(),
		strikes:   make(map[domain.PeerID]int),
	}
	if s.host {
		s.hub = relay.NewHub(cfg.Limits, func(snap []domain.PeerRecord) {
			s.roster.Store(&snap)
		})
	}
	return s
}

// Start acquires local capture, binds the transport and, for students, joins the
// host. It returns once the session is Connected or has entered Error; the join
// itself completes asynchronously. Start on a started or ended session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.ended {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()
	s.setState(StateConnecting, nil)

	local, err := s.acquire(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		local.Stop()
		return nil
	}
	s.local = local
	s.media = media.NewManager(s.transport, s.devices, local, media.Hooks{
		OnStream: s.hooks.OnRemoteStream,
		OnClose:  s.hooks.OnRemoteStreamClosed,
	})
	s.mu.Unlock()

	s.transport.OnError(s.onTransportError)
	s.transport.OnCall(s.onCall)
	if s.host {
		s.transport.OnConnection(s.onConnection)
	}

	want := domain.PeerID("")
	if s.host {
		want = s.hostID
	}
	id, err := s.transport.Open(ctx, want)
	if err != nil {
		if !errors.Is(err, domain.ErrIdentityConflict) && !errors.Is(err, domain.ErrConnection) {
			err = fmt.Errorf("%w: open: %w", domain.ErrConnection, err)
		}
		return s.fail(err)
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.self = id
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("session", string(s.cfg.SessionID)).Str("peer", string(id)).Bool("host", s.host).Msg("transport open")
	s.setState(StateConnected, nil)
	if s.host {
		return nil
	}
	return s.joinHost(ctx)
}

func (s *Session) acquire(ctx context.Context) (*core.LocalStream, error) {
	mic, err := s.devices.Microphone(ctx)
	if err != nil {
		return nil, mediaErr("microphone", err)
	}
	cam, err := s.devices.Camera(ctx)
	if err != nil {
		mic.Stop()
		return nil, mediaErr("camera", err)
	}
	return &core.LocalStream{Audio: mic, Video: cam}, nil
}

func mediaErr(what string, err error) error {
	if errors.Is(err, domain.ErrMedia) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrMedia, what, err)
}

// fail enters StateError and tears down. A failure racing an explicit End is dropped.
func (s *Session) fail(err error) error {
	if s.isEnded() {
		return nil
	}
	log.Error().Err(err).Str("module", "session").Str("session", string(s.cfg.SessionID)).Msg("session failed")
	s.setState(StateError, err)
	s.End()
	return err
}

func (s *Session) onTransportError(err error) {
	if s.isEnded() {
		return
	}
	if !errors.Is(err, domain.ErrConnection) {
		err = fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	_ = s.fail(err)
}

func (s *Session) onCall(link core.MediaLink) {
	s.mu.Lock()
	m := s.media
	s.mu.Unlock()
	if m == nil {
		_ = link.Close()
		return
	}
	if err := m.Answer(link); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("peer", string(link.RemotePeer())).Msg("answer call")
	}
}

// End closes every link and call, stops local tracks and releases the identifier.
// Safe to call more than once.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	m, local, hostLink := s.media, s.local, s.hostLink
	s.hostLink = nil
	s.mu.Unlock()

	s.cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if hostLink != nil {
		_ = hostLink.Close()
	}
	if m != nil {
		m.Close()
	}
	local.Stop()
	if err := s.transport.Close(); err != nil {
		log.Debug().Err(err).Str("module", "session").Msg("close transport")
	}
	s.cache.Clear()
	s.setState(StateDisconnected, nil)
	log.Info().Str("module", "session").Str("session", string(s.cfg.SessionID)).Msg("session ended")
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	if s.state == st || s.state == StateError || (s.state == StateDisconnected && st != StateError) {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state, s.err = st, err
	fn := s.hooks.OnState
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("from", prev.String()).Str("to", st.String()).Msg("state")
	if fn != nil {
		fn(st, err)
	}
}

func (s *Session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the failure that put the session into StateError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Self is the identifier the transport bound.
func (s *Session) Self() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) IsHost() bool { return s.host }

func (s *Session) HostPeerID() domain.PeerID { return s.hostID }

// Catalog is the set of lessons this session may share.
func (s *Session) Catalog() *domain.Catalog { return s.cfg.Catalog }

// Directory is the authoritative roster on the host and the last received snapshot elsewhere.
func (s *Session) Directory() []domain.PeerRecord {
	if s.host {
		return s.hub.Snapshot()
	}
	return s.cache.Snapshot()
}

func (s *Session) ChatLog() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

func (s *Session) ActiveLesson() (domain.LessonID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lesson, s.lesson != ""
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) VideoOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOff
}

func (s *Session) Sharing() bool {
	if m := s.manager(); m != nil {
		return m.Sharing()
	}
	return false
}

func (s *Session) manager() *media.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

func (s *Session) notifyDirectory(snap []domain.PeerRecord) {
	if s.hooks.OnDirectory != nil {
		s.hooks.OnDirectory(snap)
	}
}

func (s *Session) appendChat(m domain.ChatMessage) {
	s.mu.Lock()
	s.chat = append(s.chat, m)
	s.mu.Unlock()
	if s.hooks.OnChat != nil {
		s.hooks.OnChat(m)
	}
}

func (s *Session) protocolError(peer domain.PeerID, err error) {
	if !errors.Is(err, domain.ErrProtocol) {
		err = fmt.Errorf("%w: %w", domain.ErrProtocol, err)
	}
	log.Warn().Err(err).Str("module", "session").Str("peer", string(peer)).Msg("message dropped")
}
