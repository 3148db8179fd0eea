package session

import (
	"context"
	"fmt"

	"github.com/dkeye/LiveClass/internal/app/media"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/dkeye/LiveClass/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (s *Session) connected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.state != StateConnected {
		return fmt.Errorf("%w: session %s", domain.ErrConnection, s.state)
	}
	return nil
}

// SendChat originates a chat message. The host fans it out directly; a student
// sends it to the host. Both append it to their own log.
func (s *Session) SendChat(text string) error {
	if err := s.connected(); err != nil {
		return err
	}
	cm, err := domain.NewChatMessage(s.cfg.Identity.DisplayName, text, s.cfg.Clock(), s.cfg.MaxChatLen)
	if err != nil {
		return err
	}
	msg := protocol.NewChat(cm)

	if s.host {
		res := s.hub.Broadcast(msg, "")
		log.Debug().Str("module", "session").Int("sent_to", res.SendTo).Msg("chat sent")
	} else if err := s.sendToHost(msg); err != nil {
		return err
	}
	s.appendChat(cm)
	return nil
}

// ShareLesson makes id the active lesson of every connected participant.
func (s *Session) ShareLesson(id domain.LessonID) error {
	if !s.host {
		return domain.ErrNotHost
	}
	if err := s.connected(); err != nil {
		return err
	}
	if _, ok := s.cfg.Catalog.Lookup(id); !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownLesson, id)
	}
	s.mu.Lock()
	s.lesson = id
	s.mu.Unlock()

	res := s.hub.Broadcast(protocol.LessonUpdate{LessonID: id}, "")
	log.Info().Str("module", "session").Str("lesson", string(id)).Int("sent_to", res.SendTo).Msg("lesson shared")
	if s.hooks.OnLesson != nil {
		s.hooks.OnLesson(id)
	}
	return nil
}

// ToggleMute enables or disables the microphone track and reports the new state.
func (s *Session) ToggleMute() (bool, error) {
	m, err := s.activeManager()
	if err != nil {
		return false, err
	}
	muted, err := m.ToggleMute()
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
	s.sendPresence()
	return muted, nil
}

// ToggleVideo enables or disables the camera track and reports whether video is off.
func (s *Session) ToggleVideo() (bool, error) {
	m, err := s.activeManager()
	if err != nil {
		return false, err
	}
	off, err := m.ToggleVideo()
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.videoOff = off
	s.mu.Unlock()
	s.sendPresence()
	return off, nil
}

// ToggleScreenShare enters or leaves screen share and reports whether it is sharing.
// A failed capture leaves the previous video on air.
func (s *Session) ToggleScreenShare(ctx context.Context) (bool, error) {
	m, err := s.activeManager()
	if err != nil {
		return false, err
	}
	return m.ToggleScreenShare(ctx)
}

func (s *Session) activeManager() (*media.Manager, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}
	m := s.manager()
	if m == nil {
		return nil, fmt.Errorf("%w: no local media", domain.ErrMedia)
	}
	return m, nil
}

// sendPresence reports the local flags to the host. The host is not listed in its
// own directory and keeps them local.
func (s *Session) sendPresence() {
	if s.host {
		return
	}
	s.mu.Lock()
	p := protocol.PresenceUpdate{IsMuted: s.muted, IsVideoOff: s.videoOff}
	s.mu.Unlock()
	if err := s.sendToHost(p); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("send presence")
	}
}

func (s *Session) sendToHost(msg protocol.Message) error {
	s.mu.Lock()
	link := s.hostLink
	s.mu.Unlock()
	if link == nil {
		return fmt.Errorf("%w: no link to host", domain.ErrConnection)
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := link.Send(frame); err != nil {
		return fmt.Errorf("%w: send to host: %w", domain.ErrConnection, err)
	}
	return nil
}
