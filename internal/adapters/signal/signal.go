// Package signal is the rendezvous broker: it binds peer identifiers to WebSocket
// connections and relays offer/answer/candidate frames between them.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/LiveClass/internal/app"
	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Registry   *app.Registry
	Binds      *BindLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(reg *app.Registry, binds *BindLimiter, readLimit int64, pingPeriod time.Duration) *SignalWSController {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &SignalWSController{Registry: reg, Binds: binds, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

func (ctl *SignalWSController) pongWait() time.Duration {
	return ctl.PingPeriod * 10 / 9
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandlePeer upgrades the request and binds the identifier in the id query
// parameter, or a fresh one when it is empty.
func (ctl *SignalWSController) HandlePeer(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	id := domain.PeerID(c.Query("id"))
	if id == "" {
		id = domain.PeerID(uuid.NewString())
	}
	if !ctl.Binds.Allow(c.ClientIP()) {
		log.Warn().Str("module", "signal").Str("ip", c.ClientIP()).Msg("bind attempts throttled")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Registry.Bind(id, conn, cancel); err != nil {
		cancel()
		log.Warn().Str("module", "signal").Str("sid", sid).Str("peer", string(id)).Msg("identifier taken")
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = ws.WriteJSON(Envelope{Type: TypeIDTaken, ID: id})
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "id taken"))
		_ = ws.Close()
		return
	}
	log.Info().Str("module", "signal").Str("sid", sid).Str("peer", string(id)).Msg("new WS connection")

	ctl.sendJSON(conn, Envelope{Type: TypeOpen, ID: id})
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
