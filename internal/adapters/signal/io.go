package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.PeerID, c *WsSignalConn) {
	defer func() {
		ctl.Registry.Unbind(id, c)
		cancel()
		c.Close()
		log.Info().Str("module", "signal").Str("peer", string(id)).Msg("readPump closing")
	}()

	wait := ctl.pongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		ctl.handleSignal(id, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(id domain.PeerID, c *WsSignalConn, data []byte) {
	if !gjson.ValidBytes(data) {
		log.Warn().Str("module", "signal").Str("peer", string(id)).Msg("bad json")
		return
	}
	switch t := gjson.GetBytes(data, "type").String(); {
	case t == TypePing:
		ctl.sendJSON(c, Envelope{Type: TypePong})
	case relayed(t):
		ctl.relay(id, c, t, data)
	default:
		log.Warn().Str("module", "signal").Str("peer", string(id)).Str("type", t).Msg("unknown signal")
	}
}

// relay forwards a frame to its dst with src set to the sender's bound identifier.
func (ctl *SignalWSController) relay(src domain.PeerID, c *WsSignalConn, t string, data []byte) {
	dst := domain.PeerID(gjson.GetBytes(data, "dst").String())
	if dst == "" {
		log.Warn().Str("module", "signal").Str("peer", string(src)).Str("type", t).Msg("relay without dst")
		return
	}
	env := Envelope{Type: t, Src: src, Dst: dst}
	if raw := gjson.GetBytes(data, "payload").Raw; raw != "" {
		env.Payload = json.RawMessage(raw)
	}

	ep, ok := ctl.Registry.Lookup(dst)
	if !ok {
		log.Debug().Str("module", "signal").Str("peer", string(src)).Str("dst", string(dst)).Msg("relay to unknown peer")
		ctl.sendJSON(c, Envelope{Type: TypeExpire, Src: dst})
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	if err := ep.TrySend(b); err != nil {
		lvl := log.Warn()
		if errors.Is(err, ErrBackpressure) {
			lvl = log.Error()
		}
		lvl.Err(err).Str("module", "signal").Str("peer", string(src)).Str("dst", string(dst)).Msg("relay send")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
