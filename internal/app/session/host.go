package session

import (
	"errors"
	"fmt"

	"github.com/dkeye/LiveClass/internal/app"
	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/dkeye/LiveClass/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	errRateLimited  = errors.New("inbound rate exceeded")
	errNotJoined    = errors.New("message before join")
	errHostOnly     = errors.New("message reserved to the host")
	errUnexpected   = errors.New("unexpected message")
	errChatRejected = errors.New("chat rejected")
)

func (s *Session) onConnection(link core.DataLink) {
	if s.isEnded() {
		_ = link.Close()
		return
	}
	peer := link.RemotePeer()
	log.Info().Str("module", "session").Str("peer", string(peer)).Str("user", link.Metadata()["userId"]).Msg("inbound link")
	link.OnData(func(f core.Frame) { s.hostDispatch(link, f) })
	link.OnClose(func() { s.onLinkClosed(link) })
	link.OnOpen(func() { s.hub.Attach(link) })
}

func (s *Session) onLinkClosed(link core.DataLink) {
	peer := link.RemotePeer()
	s.mu.Lock()
	delete(s.strikes, peer)
	s.mu.Unlock()

	removed, res := s.hub.Detach(link)
	if !removed {
		return
	}
	log.Info().Str("module", "session").Str("peer", string(peer)).Int("sent_to", res.SendTo).Msg("peer removed")
	s.publishRoster()
	if m := s.manager(); m != nil {
		m.Hangup(peer)
	}
}

func (s *Session) hostDispatch(link core.DataLink, f core.Frame) {
	peer := link.RemotePeer()
	if !s.hub.Allow(peer) {
		s.flood(link)
		return
	}
	msg, err := protocol.Decode(f)
	if err != nil {
		s.protocolError(peer, err)
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		res := s.hub.Join(link, m)
		log.Debug().Str("module", "session").Str("peer", string(peer)).Int("sent_to", res.SendTo).Msg("join published")
		s.publishRoster()
		go s.callPeer(peer)
	case protocol.Chat:
		if !s.hub.Joined(peer) {
			s.protocolError(peer, errNotJoined)
			return
		}
		cm, err := m.Message()
		if err == nil {
			cm, err = domain.NewChatMessage(cm.SenderName, cm.Text, cm.Timestamp, s.cfg.MaxChatLen)
		}
		if err != nil {
			s.protocolError(peer, errors.Join(errChatRejected, err))
			return
		}
		s.appendChat(cm)
		s.hub.Broadcast(m, peer)
	case protocol.PresenceUpdate:
		ok, _ := s.hub.Presence(peer, m)
		if !ok {
			s.protocolError(peer, errNotJoined)
			return
		}
		s.publishRoster()
	case protocol.LessonUpdate:
		s.protocolError(peer, errHostOnly)
	default:
		s.protocolError(peer, fmt.Errorf("%w: %s", errUnexpected, msg.Kind()))
	}
}

func (s *Session) flood(link core.DataLink) {
	peer := link.RemotePeer()
	s.mu.Lock()
	s.strikes[peer]++
	strikes := s.strikes[peer]
	s.mu.Unlock()

	s.protocolError(peer, errRateLimited)
	if s.cfg.Policy.OnFlood(peer, strikes) == app.CloseLink {
		log.Warn().Str("module", "session").Str("peer", string(peer)).Int("strikes", strikes).Msg("closing flooding link")
		_ = link.Close()
	}
}

func (s *Session) callPeer(peer domain.PeerID) {
	m := s.manager()
	if m == nil {
		return
	}
	if err := m.Call(s.ctx, peer); err != nil && !errors.Is(err, domain.ErrClosed) {
		log.Warn().Err(err).Str("module", "session").Str("peer", string(peer)).Msg("call peer")
	}
}

// publishRoster hands the last broadcast snapshot to the UI.
func (s *Session) publishRoster() {
	if snap := s.roster.Load(); snap != nil {
		s.notifyDirectory(*snap)
	}
}
