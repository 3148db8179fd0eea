// Package rtc implements core.Transport on pion/webrtc, using the signaling
// broker for identifier binding and offer/answer/candidate exchange.
package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/LiveClass/internal/adapters/signal"
	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	BrokerURL  string
	ICEServers []string
	// KeepAlive is the interval of application pings to the broker; zero disables them.
	KeepAlive time.Duration
	// Net replaces the host network for ICE, e.g. a pion vnet in tests.
	Net transport.Net
}

type Transport struct {
	opts   Options
	api    *webrtc.API
	config webrtc.Configuration

	writeMu sync.Mutex

	mu     sync.Mutex
	ws     *websocket.Conn
	id     domain.PeerID
	closed bool
	done   chan struct{}
	conns  map[string]*peerConn
	onConn func(core.DataLink)
	onCall func(core.MediaLink)
	onErr  func(error)
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func NewTransport(opts Options) (*Transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{}}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	return &Transport{
		opts:   opts,
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config: DefaultWebRTCConfig(opts.ICEServers),
		done:   make(chan struct{}),
		conns:  make(map[string]*peerConn),
	}, nil
}

func (t *Transport) Open(ctx context.Context, id domain.PeerID) (domain.PeerID, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", domain.ErrClosed
	}
	if t.ws != nil {
		defer t.mu.Unlock()
		return t.id, nil
	}
	t.mu.Unlock()

	u, err := url.Parse(t.opts.BrokerURL)
	if err != nil {
		return "", fmt.Errorf("%w: broker url: %w", domain.ErrConnection, err)
	}
	q := u.Query()
	if id != "" {
		q.Set("id", string(id))
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: dial broker: %w", domain.ErrConnection, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(dl)
	}
	var env signal.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		_ = ws.Close()
		return "", fmt.Errorf("%w: broker handshake: %w", domain.ErrConnection, err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	switch env.Type {
	case signal.TypeOpen:
	case signal.TypeIDTaken:
		_ = ws.Close()
		return "", fmt.Errorf("%w: %s", domain.ErrIdentityConflict, env.ID)
	default:
		_ = ws.Close()
		return "", fmt.Errorf("%w: unexpected broker frame %q", domain.ErrConnection, env.Type)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = ws.Close()
		return "", domain.ErrClosed
	}
	t.ws, t.id = ws, env.ID
	t.mu.Unlock()

	log.Info().Str("module", "webrtc").Str("peer", string(env.ID)).Str("broker", u.Host).Msg("bound at broker")
	go t.readLoop(ws)
	if t.opts.KeepAlive > 0 {
		go t.keepAlive()
	}
	return env.ID, nil
}

func (t *Transport) OnConnection(fn func(core.DataLink)) {
	t.mu.Lock()
	t.onConn = fn
	t.mu.Unlock()
}

func (t *Transport) OnCall(fn func(core.MediaLink)) {
	t.mu.Lock()
	t.onCall = fn
	t.mu.Unlock()
}

func (t *Transport) OnError(fn func(error)) {
	t.mu.Lock()
	t.onErr = fn
	t.mu.Unlock()
}

func (t *Transport) Connect(ctx context.Context, id domain.PeerID, meta core.Metadata) (core.DataLink, error) {
	if err := t.ready(ctx); err != nil {
		return nil, err
	}
	p, err := t.newPeerConn(uuid.NewString(), id, kindData, true)
	if err != nil {
		return nil, err
	}
	ordered := true
	dc, err := p.pc.CreateDataChannel("data", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		p.close(false)
		return nil, fmt.Errorf("%w: data channel: %w", domain.ErrConnection, err)
	}
	link := newDataLink(p, meta)
	link.attach(dc)
	if err := t.offer(p, meta); err != nil {
		p.close(false)
		return nil, err
	}
	return link, nil
}

func (t *Transport) Call(ctx context.Context, id domain.PeerID, stream *core.LocalStream) (core.MediaLink, error) {
	if err := t.ready(ctx); err != nil {
		return nil, err
	}
	p, err := t.newPeerConn(uuid.NewString(), id, kindMedia, true)
	if err != nil {
		return nil, err
	}
	link := newMediaLink(p)
	if err := link.publish(stream); err != nil {
		p.close(false)
		return nil, err
	}
	if err := t.offer(p, nil); err != nil {
		p.close(false)
		return nil, err
	}
	return link, nil
}

// Close sends leave on every link, closes the PeerConnections and releases the
// identifier at the broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conns := make([]*peerConn, 0, len(t.conns))
	for _, p := range t.conns {
		conns = append(conns, p)
	}
	ws := t.ws
	t.mu.Unlock()

	for _, p := range conns {
		p.close(true)
	}
	if ws == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return ws.Close()
}

func (t *Transport) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrClosed
	}
	if t.ws == nil {
		return fmt.Errorf("%w: transport not open", domain.ErrConnection)
	}
	return nil
}

func (t *Transport) offer(p *peerConn, meta core.Metadata) error {
	sd, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: create offer: %w", domain.ErrConnection, err)
	}
	if err := p.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("%w: set local description: %w", domain.ErrConnection, err)
	}
	return t.sendPayload(signal.TypeOffer, p.remote, offerPayload{
		ConnectionID: p.id,
		Kind:         p.kind,
		SDP:          sd,
		Metadata:     meta,
	})
}

func (t *Transport) answer(p *peerConn) error {
	sd, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("%w: create answer: %w", domain.ErrConnection, err)
	}
	if err := p.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("%w: set local description: %w", domain.ErrConnection, err)
	}
	return t.sendPayload(signal.TypeAnswer, p.remote, answerPayload{ConnectionID: p.id, SDP: sd})
}

func (t *Transport) sendPayload(typ string, dst domain.PeerID, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return t.send(signal.Envelope{Type: typ, Dst: dst, Payload: b})
}

func (t *Transport) send(env signal.Envelope) error {
	t.mu.Lock()
	ws := t.ws
	t.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("%w: transport not open", domain.ErrConnection)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	if err := ws.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: broker write: %w", domain.ErrConnection, err)
	}
	return nil
}

func (t *Transport) keepAlive() {
	ticker := time.NewTicker(t.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.send(signal.Envelope{Type: signal.TypePing}); err != nil {
				log.Warn().Err(err).Str("module", "webrtc").Msg("broker ping")
			}
		}
	}
}

func (t *Transport) readLoop(ws *websocket.Conn) {
	for {
		var env signal.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.lost(err)
			return
		}
		t.handle(env)
	}
}

func (t *Transport) lost(err error) {
	t.mu.Lock()
	closed, fn := t.closed, t.onErr
	t.mu.Unlock()
	if closed {
		return
	}
	log.Error().Err(err).Str("module", "webrtc").Msg("broker connection lost")
	if fn != nil {
		fn(fmt.Errorf("%w: broker: %w", domain.ErrConnection, err))
	}
}

func (t *Transport) report(err error) {
	t.mu.Lock()
	fn := t.onErr
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
