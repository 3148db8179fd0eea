package media

import (
	"context"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/rs/zerolog/log"
)

func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// StartScreenShare acquires a screen track and puts it on the video sender of
// every call. On failure the camera stays on air.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	m.shareMu.Lock()
	defer m.shareMu.Unlock()

	m.mu.Lock()
	closed, sharing := m.closed, m.screen != nil
	m.mu.Unlock()
	if closed {
		return domain.ErrClosed
	}
	if sharing {
		return nil
	}

	screen, err := m.devices.Display(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("screen capture")
		return mediaErr("screen", err)
	}
	screen.OnEnded(func() { m.screenEnded(screen) })

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		screen.Stop()
		return domain.ErrClosed
	}
	m.screen = screen
	n := m.replaceVideoLocked(screen)
	m.mu.Unlock()

	log.Info().Str("module", "media").Str("track", screen.ID()).Int("calls", n).Msg("screen share started")
	return nil
}

// StopScreenShare returns every call to a freshly acquired camera track. When the
// camera cannot be acquired the previous camera track goes back on air and the
// failure is reported.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	m.shareMu.Lock()
	defer m.shareMu.Unlock()
	return m.stopShareLocked(ctx, nil)
}

// ToggleScreenShare enters or leaves screen share and reports whether it is sharing now.
func (m *Manager) ToggleScreenShare(ctx context.Context) (bool, error) {
	if m.Sharing() {
		err := m.StopScreenShare(ctx)
		return m.Sharing(), err
	}
	err := m.StartScreenShare(ctx)
	return m.Sharing(), err
}

func (m *Manager) screenEnded(track core.Track) {
	m.shareMu.Lock()
	defer m.shareMu.Unlock()
	if err := m.stopShareLocked(context.Background(), track); err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("screen share ended")
	}
}

// stopShareLocked requires shareMu. A non-nil ended only stops the share it belongs to.
func (m *Manager) stopShareLocked(ctx context.Context, ended core.Track) error {
	m.mu.Lock()
	screen, closed := m.screen, m.closed
	m.mu.Unlock()
	if closed || screen == nil || (ended != nil && ended != screen) {
		return nil
	}

	fresh, err := m.devices.Camera(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if fresh != nil {
			fresh.Stop()
		}
		return nil
	}
	var stale core.Track
	switch {
	case err != nil:
	case m.local == nil:
		stale = fresh
	default:
		old := m.local.Video
		if old != nil {
			fresh.SetEnabled(old.Enabled())
		}
		m.local.Video = fresh
		stale = old
	}
	m.screen = nil
	n := m.replaceVideoLocked(m.videoLocked())
	m.mu.Unlock()

	screen.Stop()
	if stale != nil {
		stale.Stop()
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("camera reacquire, keeping previous track")
		return mediaErr("camera", err)
	}
	log.Info().Str("module", "media").Int("calls", n).Msg("screen share stopped")
	return nil
}

func (m *Manager) replaceVideoLocked(track core.Track) int {
	n := 0
	for peer, l := range m.calls {
		v := l.Senders().Video
		if v == nil {
			continue
		}
		if err := v.ReplaceTrack(track); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("peer", string(peer)).Msg("replace video track")
			continue
		}
		n++
	}
	return n
}
