package capture

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireKinds(t *testing.T) {
	d := NewDevices()
	ctx := context.Background()

	mic, err := d.Microphone(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.KindAudio, mic.Kind())
	assert.Equal(t, "audio", mic.Local().Kind().String())

	cam, err := d.Camera(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.KindVideo, cam.Kind())

	screen, err := d.Display(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, cam.Local().StreamID(), screen.Local().StreamID())
	assert.True(t, screen.Enabled())
}

func TestAcquireFailures(t *testing.T) {
	ctx := context.Background()

	_, err := NewDevices(DenyPermission()).Camera(ctx)
	assert.ErrorIs(t, err, domain.ErrMedia)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = NewDevices(WithoutMicrophone()).Microphone(ctx)
	assert.ErrorIs(t, err, domain.ErrNoDevice)

	d := NewDevices()
	d.SetDisplayAvailable(false)
	_, err = d.Display(ctx)
	assert.ErrorIs(t, err, domain.ErrMedia)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.Camera(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndCaptureFiresOnce(t *testing.T) {
	tr, err := NewDevices().Display(context.Background())
	require.NoError(t, err)
	screen := tr.(*Track)

	fired := make(chan struct{}, 2)
	screen.OnEnded(func() { fired <- struct{}{} })
	screen.EndCapture()
	screen.EndCapture()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnEnded not fired")
	}
	assert.True(t, screen.Stopped())
	assert.Never(t, func() bool { return len(fired) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestStopDoesNotFireOnEnded(t *testing.T) {
	tr, err := NewDevices().Display(context.Background())
	require.NoError(t, err)
	screen := tr.(*Track)

	fired := make(chan struct{}, 1)
	screen.OnEnded(func() { fired <- struct{}{} })
	screen.Stop()
	screen.EndCapture()
	assert.Never(t, func() bool { return len(fired) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestWriteSampleGating(t *testing.T) {
	tr, err := NewDevices().Microphone(context.Background())
	require.NoError(t, err)
	mic := tr.(*Track)
	sample := media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond}

	require.NoError(t, mic.WriteSample(sample))
	mic.SetEnabled(false)
	assert.False(t, mic.Enabled())
	require.NoError(t, mic.WriteSample(sample))

	mic.Stop()
	assert.ErrorIs(t, mic.WriteSample(sample), domain.ErrClosed)
}
