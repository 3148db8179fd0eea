// Package capture provides local audio, video and screen tracks for a session.
// Frames are pushed by whatever encoder the embedding application runs.
package capture

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Devices struct {
	streamID string

	microphone atomic.Bool
	camera     atomic.Bool
	display    atomic.Bool
	denied     atomic.Bool
}

type Option func(*Devices)

func WithoutMicrophone() Option { return func(d *Devices) { d.microphone.Store(false) } }
func WithoutCamera() Option     { return func(d *Devices) { d.camera.Store(false) } }
func WithoutDisplay() Option    { return func(d *Devices) { d.display.Store(false) } }

// DenyPermission makes every acquisition fail as if the user refused consent.
func DenyPermission() Option { return func(d *Devices) { d.denied.Store(true) } }

func NewDevices(opts ...Option) *Devices {
	d := &Devices{streamID: "liveclass-" + uuid.NewString()}
	d.microphone.Store(true)
	d.camera.Store(true)
	d.display.Store(true)
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetDisplayAvailable toggles the screen source at runtime.
func (d *Devices) SetDisplayAvailable(ok bool) { d.display.Store(ok) }

// SetCameraAvailable toggles the camera at runtime.
func (d *Devices) SetCameraAvailable(ok bool) { d.camera.Store(ok) }

func (d *Devices) Microphone(ctx context.Context) (core.Track, error) {
	return d.acquire(ctx, core.KindAudio, "microphone", d.streamID, &d.microphone)
}

func (d *Devices) Camera(ctx context.Context) (core.Track, error) {
	return d.acquire(ctx, core.KindVideo, "camera", d.streamID, &d.camera)
}

func (d *Devices) Display(ctx context.Context) (core.Track, error) {
	return d.acquire(ctx, core.KindVideo, "screen", "screen-"+d.streamID, &d.display)
}

func (d *Devices) acquire(ctx context.Context, kind core.TrackKind, label, streamID string, present *atomic.Bool) (core.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrMedia, label, err)
	}
	if d.denied.Load() {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrMedia, label, domain.ErrPermissionDenied)
	}
	if !present.Load() {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrMedia, label, domain.ErrNoDevice)
	}
	t, err := newTrack(kind, label, streamID)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("module", "capture").Str("track", t.ID()).Str("kind", string(kind)).Msg("track acquired")
	return t, nil
}
