package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/dkeye/LiveClass/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (s *Session) joinHost(ctx context.Context) error {
	id := s.cfg.Identity
	link, err := s.transport.Connect(ctx, s.hostID, core.Metadata{
		"userId": string(id.UserID),
		"name":   id.DisplayName,
		"role":   string(id.Role),
	})
	if err != nil {
		if !errors.Is(err, domain.ErrConnection) {
			err = fmt.Errorf("%w: connect %s: %w", domain.ErrConnection, s.hostID, err)
		}
		return s.fail(err)
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		_ = link.Close()
		return nil
	}
	s.hostLink = link
	s.mu.Unlock()

	link.OnData(s.participantDispatch)
	link.OnClose(func() { s.onHostClosed(link) })
	link.OnOpen(func() { s.sendJoin(link) })
	return nil
}

func (s *Session) sendJoin(link core.DataLink) {
	frame, err := protocol.Encode(protocol.JoinFrom(s.cfg.Identity))
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("encode join")
		return
	}
	if err := link.Send(frame); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("host", string(s.hostID)).Msg("send join")
		return
	}
	log.Info().Str("module", "session").Str("host", string(s.hostID)).Str("user", string(s.cfg.Identity.UserID)).Msg("join sent")
}

func (s *Session) onHostClosed(link core.DataLink) {
	s.mu.Lock()
	if s.hostLink != link {
		s.mu.Unlock()
		return
	}
	s.hostLink = nil
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("host", string(s.hostID)).Msg("host link closed")
	s.cache.Clear()
	s.notifyDirectory(nil)
	s.setState(StateDisconnected, nil)
}

func (s *Session) participantDispatch(f core.Frame) {
	msg, err := protocol.Decode(f)
	if err != nil {
		s.protocolError(s.hostID, err)
		return
	}

	switch m := msg.(type) {
	case protocol.PeersUpdate:
		s.cache.Replace(m.Records())
		s.notifyDirectory(s.cache.Snapshot())
	case protocol.Chat:
		cm, err := m.Message()
		if err != nil {
			s.protocolError(s.hostID, err)
			return
		}
		s.appendChat(cm)
	case protocol.LessonUpdate:
		s.mu.Lock()
		s.lesson = m.LessonID
		s.mu.Unlock()
		log.Info().Str("module", "session").Str("lesson", string(m.LessonID)).Msg("lesson changed")
		if s.hooks.OnLesson != nil {
			s.hooks.OnLesson(m.LessonID)
		}
	default:
		s.protocolError(s.hostID, fmt.Errorf("%w: %s", errUnexpected, msg.Kind()))
	}
}
