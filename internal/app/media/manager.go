// Package media runs the audio/video call of every (host, participant) pair and
// swaps outgoing video between camera and screen without renegotiation.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/rs/zerolog/log"
)

// Caller places outbound calls. Satisfied by core.Transport.
type Caller interface {
	Call(ctx context.Context, id domain.PeerID, stream *core.LocalStream) (core.MediaLink, error)
}

type Hooks struct {
	OnStream func(domain.PeerID, core.RemoteStream)
	OnClose  func(domain.PeerID)
}

type Manager struct {
	caller  Caller
	devices core.MediaDevices
	hooks   Hooks

	// serializes screen-share transitions
	shareMu sync.Mutex

	mu     sync.Mutex
	local  *core.LocalStream
	screen  core.Track
	calls   map[domain.PeerID]core.MediaLink
	pending map[domain.PeerID]*dial
	closed  bool
}

// dial is an outbound call still being placed. Hangup during that time cancels it.
type dial struct {
	canceled bool
}

// NewManager takes the local stream by reference: the camera track a screen share
// exit acquires replaces local.Video in place.
func NewManager(caller Caller, devices core.MediaDevices, local *core.LocalStream, hooks Hooks) *Manager {
	return &Manager{
		caller:  caller,
		devices: devices,
		hooks:   hooks,
		local:   local,
		calls:   make(map[domain.PeerID]core.MediaLink),
		pending: make(map[domain.PeerID]*dial),
	}
}

// Call places the call to a newly joined peer. A peer already in a call, or
// being dialed, is left alone.
func (m *Manager) Call(ctx context.Context, peer domain.PeerID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrClosed
	}
	if _, ok := m.calls[peer]; ok {
		m.mu.Unlock()
		return nil
	}
	if d, ok := m.pending[peer]; ok {
		// the peer joined again before the first dial returned
		d.canceled = false
		m.mu.Unlock()
		return nil
	}
	d := &dial{}
	m.pending[peer] = d
	stream := m.outgoingLocked()
	m.mu.Unlock()

	link, err := m.caller.Call(ctx, peer, stream)

	m.mu.Lock()
	if m.pending[peer] == d {
		delete(m.pending, peer)
	}
	canceled := d.canceled
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: call %s: %w", domain.ErrConnection, peer, err)
	}
	if canceled {
		log.Info().Str("module", "media").Str("peer", string(peer)).Msg("peer left while dialing")
		_ = link.Close()
		return nil
	}
	return m.register(link)
}

// Answer accepts an inbound call with the current outgoing stream.
func (m *Manager) Answer(link core.MediaLink) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = link.Close()
		return domain.ErrClosed
	}
	stream := m.outgoingLocked()
	m.mu.Unlock()

	if err := link.Answer(stream); err != nil {
		_ = link.Close()
		return fmt.Errorf("%w: answer %s: %w", domain.ErrConnection, link.RemotePeer(), err)
	}
	return m.register(link)
}

func (m *Manager) register(link core.MediaLink) error {
	peer := link.RemotePeer()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = link.Close()
		return domain.ErrClosed
	}
	prev := m.calls[peer]
	m.calls[peer] = link
	// the outgoing video may have changed while the call was being set up
	if v := link.Senders().Video; v != nil && m.local != nil {
		if cur := m.videoLocked(); v.Track() != cur {
			if err := v.ReplaceTrack(cur); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("peer", string(peer)).Msg("sync video track")
			}
		}
	}
	m.mu.Unlock()

	if prev != nil && prev != link {
		_ = prev.Close()
	}
	link.OnStream(func(s core.RemoteStream) {
		if m.hooks.OnStream != nil {
			m.hooks.OnStream(peer, s)
		}
	})
	link.OnClose(func() { m.forget(peer, link) })
	log.Info().Str("module", "media").Str("peer", string(peer)).Msg("call established")
	return nil
}

func (m *Manager) forget(peer domain.PeerID, link core.MediaLink) {
	m.mu.Lock()
	cur, ok := m.calls[peer]
	if !ok || cur != link {
		m.mu.Unlock()
		return
	}
	delete(m.calls, peer)
	m.mu.Unlock()
	log.Info().Str("module", "media").Str("peer", string(peer)).Msg("call closed")
	if m.hooks.OnClose != nil {
		m.hooks.OnClose(peer)
	}
}

// Hangup ends the call with peer, if any. A call still being dialed is closed as
// soon as it is placed.
func (m *Manager) Hangup(peer domain.PeerID) {
	m.mu.Lock()
	if d, ok := m.pending[peer]; ok {
		d.canceled = true
	}
	link, ok := m.calls[peer]
	m.mu.Unlock()
	if ok {
		_ = link.Close()
	}
}

func (m *Manager) Link(peer domain.PeerID) (core.MediaLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.calls[peer]
	return l, ok
}

func (m *Manager) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Dialing reports how many outbound calls are still being placed.
func (m *Manager) Dialing() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ToggleMute flips the enabled state of the microphone track and reports whether
// it is now muted.
func (m *Manager) ToggleMute() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil || m.local.Audio == nil {
		return false, fmt.Errorf("%w: microphone: %w", domain.ErrMedia, domain.ErrNoDevice)
	}
	a := m.local.Audio
	a.SetEnabled(!a.Enabled())
	return !a.Enabled(), nil
}

// ToggleVideo flips the camera track and reports whether video is now off.
// A running screen share is not affected.
func (m *Manager) ToggleVideo() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil || m.local.Video == nil {
		return false, fmt.Errorf("%w: camera: %w", domain.ErrMedia, domain.ErrNoDevice)
	}
	v := m.local.Video
	v.SetEnabled(!v.Enabled())
	return !v.Enabled(), nil
}

// Close hangs up every call and stops the screen track. The local stream
// belongs to the caller.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	links := make([]core.MediaLink, 0, len(m.calls))
	for _, l := range m.calls {
		links = append(links, l)
	}
	m.calls = make(map[domain.PeerID]core.MediaLink)
	screen := m.screen
	m.screen = nil
	m.mu.Unlock()

	for _, l := range links {
		if err := l.Close(); err != nil {
			log.Debug().Err(err).Str("module", "media").Str("peer", string(l.RemotePeer())).Msg("close call")
		}
	}
	if screen != nil {
		screen.Stop()
	}
}

func (m *Manager) videoLocked() core.Track {
	if m.screen != nil {
		return m.screen
	}
	if m.local == nil {
		return nil
	}
	return m.local.Video
}

func (m *Manager) outgoingLocked() *core.LocalStream {
	if m.local == nil {
		return &core.LocalStream{}
	}
	return &core.LocalStream{Audio: m.local.Audio, Video: m.videoLocked()}
}

func mediaErr(what string, err error) error {
	if errors.Is(err, domain.ErrMedia) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrMedia, what, err)
}
