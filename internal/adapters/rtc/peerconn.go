package rtc

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/LiveClass/internal/adapters/signal"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// peerConn is the PeerConnection behind exactly one data or media link.
type peerConn struct {
	t         *Transport
	id        string
	remote    domain.PeerID
	kind      linkKind
	initiator bool
	pc        *webrtc.PeerConnection

	established atomic.Bool

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool
	onClosed  []func()
}

func (t *Transport) newPeerConn(id string, remote domain.PeerID, kind linkKind, initiator bool) (*peerConn, error) {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, err
	}
	p := &peerConn{t: t, id: id, remote: remote, kind: kind, initiator: initiator, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := t.sendPayload(signal.TypeCandidate, remote, candidatePayload{ConnectionID: id, Candidate: c.ToJSON()}); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Str("peer", string(remote)).Msg("send candidate")
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(remote)).Str("conn", id).Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			p.established.Store(true)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.close(s == webrtc.PeerConnectionStateFailed)
		}
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = pc.Close()
		return nil, domain.ErrClosed
	}
	t.conns[id] = p
	t.mu.Unlock()
	return p, nil
}

func (t *Transport) lookup(id string) (*peerConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.conns[id]
	return p, ok
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

// setRemote applies the remote description and flushes candidates that arrived before it.
func (p *peerConn) setRemote(sd webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, c := range pending {
		p.apply(c)
	}
	return nil
}

func (p *peerConn) addCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.apply(c)
}

func (p *peerConn) apply(c webrtc.ICECandidateInit) {
	if err := p.pc.AddICECandidate(c); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(p.remote)).Msg("add ice candidate")
	}
}

func (p *peerConn) whenClosed(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.onClosed = append(p.onClosed, fn)
	p.mu.Unlock()
}

// close tears the PeerConnection down once; notify tells the remote side.
func (p *peerConn) close(notify bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fns := p.onClosed
	p.onClosed = nil
	p.mu.Unlock()

	p.t.forget(p.id)
	if notify {
		if err := p.t.sendPayload(signal.TypeLeave, p.remote, leavePayload{ConnectionID: p.id}); err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Str("peer", string(p.remote)).Msg("send leave")
		}
	}
	if err := p.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(p.remote)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("peer", string(p.remote)).Str("conn", p.id).Msg("closed")
	}
	for _, fn := range fns {
		fn()
	}
}
