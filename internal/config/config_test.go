package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	assert.Equal(t, 2000, cfg.MaxChatLen)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 60, cfg.BindLimit)
	assert.Equal(t, time.Minute, cfg.BindWindow)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
log_level: debug
chat_rate: 2.5
ping_period: 10s
ice_servers:
  - stun:a.example:3478
  - stun:b.example:3478
`), 0o600))
	t.Setenv("LIVECLASS_PORT", "9100")
	t.Setenv("LIVECLASS_BROKER_URL", "ws://broker:8080/api/ws/peer")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "ws://broker:8080/api/ws/peer", cfg.BrokerURL)
	assert.InDelta(t, 2.5, cfg.ChatRate, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.PingPeriod)
	assert.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLevelFallback(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, (&Config{LogLevel: "loud"}).Level())
	assert.Equal(t, zerolog.WarnLevel, (&Config{LogLevel: "warn"}).Level())
}
