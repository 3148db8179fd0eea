package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/LiveClass/internal/adapters/signal"
	"github.com/dkeye/LiveClass/internal/app"
	"github.com/dkeye/LiveClass/internal/config"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type broker struct {
	srv *httptest.Server
	reg *app.Registry
}

func newBroker(t *testing.T) *broker {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &config.Config{
		Mode:       "release",
		StaticPath: t.TempDir(),
		Secret:     "test-secret",
		ReadLimit:  32768,
		PingPeriod: time.Second,
	}
	reg := app.NewRegistry()
	srv := httptest.NewServer(SetupRouter(ctx, cfg, reg, domain.DefaultCatalog()))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &broker{srv: srv, reg: reg}
}

func (b *broker) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/api/ws/peer?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) signal.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env signal.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func getJSON(t *testing.T, client *http.Client, url string, v any) int {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealthAndLessons(t *testing.T) {
	b := newBroker(t)
	var health map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, http.DefaultClient, b.srv.URL+"/api/health", &health))
	assert.Equal(t, "ok", health["status"])

	var lessons []domain.Lesson
	assert.Equal(t, http.StatusOK, getJSON(t, http.DefaultClient, b.srv.URL+"/api/lessons", &lessons))
	require.Len(t, lessons, 4)
	assert.Equal(t, domain.LessonID("L2"), lessons[1].ID)
}

func TestSessionHostOnline(t *testing.T) {
	b := newBroker(t)
	var info sessionInfo
	getJSON(t, http.DefaultClient, b.srv.URL+"/api/sessions/abc123", &info)
	assert.Equal(t, domain.PeerID("abc123-host"), info.HostPeerID)
	assert.False(t, info.HostOnline)

	host := b.dial(t, "abc123-host")
	env := read(t, host)
	assert.Equal(t, signal.TypeOpen, env.Type)
	assert.Equal(t, domain.PeerID("abc123-host"), env.ID)

	getJSON(t, http.DefaultClient, b.srv.URL+"/api/sessions/abc123", &info)
	assert.True(t, info.HostOnline)
	var count map[string]int
	getJSON(t, http.DefaultClient, b.srv.URL+"/api/peers/count", &count)
	assert.Equal(t, 1, count["count"])

	require.NoError(t, host.Close())
	require.Eventually(t, func() bool { return !b.reg.Online("abc123-host") }, 2*time.Second, 10*time.Millisecond)
}

func TestIdentifierTaken(t *testing.T) {
	b := newBroker(t)
	first := b.dial(t, "abc123-host")
	assert.Equal(t, signal.TypeOpen, read(t, first).Type)

	second := b.dial(t, "abc123-host")
	env := read(t, second)
	assert.Equal(t, signal.TypeIDTaken, env.Type)
	assert.Equal(t, domain.PeerID("abc123-host"), env.ID)
	assert.Equal(t, 1, b.reg.Count())
}

func TestRelayStampsSource(t *testing.T) {
	b := newBroker(t)
	host := b.dial(t, "abc123-host")
	read(t, host)
	student := b.dial(t, "")
	open := read(t, student)
	require.Equal(t, signal.TypeOpen, open.Type)
	require.NotEmpty(t, open.ID)

	require.NoError(t, student.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"offer","src":"spoofed","dst":"abc123-host","payload":{"sdp":"v=0"}}`)))
	env := read(t, host)
	assert.Equal(t, signal.TypeOffer, env.Type)
	assert.Equal(t, open.ID, env.Src)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(env.Payload))

	require.NoError(t, student.WriteJSON(signal.Envelope{Type: signal.TypeCandidate, Dst: "nobody"}))
	env = read(t, student)
	assert.Equal(t, signal.TypeExpire, env.Type)
	assert.Equal(t, domain.PeerID("nobody"), env.Src)

	require.NoError(t, student.WriteJSON(signal.Envelope{Type: signal.TypePing}))
	assert.Equal(t, signal.TypePong, read(t, student).Type)
}

func TestLastSessionCookie(t *testing.T) {
	b := newBroker(t)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	assert.Equal(t, http.StatusNotFound, getJSON(t, client, b.srv.URL+"/api/me/session", nil))
	getJSON(t, client, b.srv.URL+"/api/sessions/abc123", nil)

	var last map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, client, b.srv.URL+"/api/me/session", &last))
	assert.Equal(t, "abc123", last["sessionId"])
}

func TestBindAttemptsThrottled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := &config.Config{Mode: "release", StaticPath: t.TempDir(), Secret: "s", PingPeriod: time.Second, BindLimit: 1, BindWindow: time.Minute}
	srv := httptest.NewServer(SetupRouter(ctx, cfg, app.NewRegistry(), domain.DefaultCatalog()))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/peer"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
