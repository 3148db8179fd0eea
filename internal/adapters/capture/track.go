package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Track is a local capture track backed by a pion sample track.
// Disabled tracks stay bound to their senders and drop written samples.
type Track struct {
	id    string
	kind  core.TrackKind
	local *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded func()
}

func newTrack(kind core.TrackKind, label, streamID string) (*Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if kind == core.KindAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	id := label + "-" + uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMedia, err)
	}
	t := &Track{id: id, kind: kind, local: local}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) ID() string               { return t.id }
func (t *Track) Kind() core.TrackKind     { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return t.local }
func (t *Track) Enabled() bool            { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool)       { t.enabled.Store(on) }
func (t *Track) Stopped() bool            { return t.stopped.Load() }

func (t *Track) Stop() {
	t.stopped.Store(true)
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// EndCapture ends the track as if the user revoked it from outside the
// application, firing OnEnded asynchronously.
func (t *Track) EndCapture() {
	if t.stopped.Swap(true) {
		return
	}
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		go fn()
	}
}

// WriteSample feeds one encoded sample to every sender bound to the track.
func (t *Track) WriteSample(s media.Sample) error {
	if t.stopped.Load() {
		return domain.ErrClosed
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}
