// Package loopback is an in-process core.Transport. Every Peer of one Network can
// reach the others by identifier; links deliver asynchronously and in order.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Network struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*Peer
}

func NewNetwork() *Network {
	return &Network{peers: make(map[domain.PeerID]*Peer)}
}

func (n *Network) bind(id domain.PeerID, p *Peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.peers[id]; taken {
		return fmt.Errorf("%w: %s", domain.ErrIdentityConflict, id)
	}
	n.peers[id] = p
	return nil
}

func (n *Network) release(id domain.PeerID, p *Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[id] == p {
		delete(n.peers, id)
	}
}

func (n *Network) lookup(id domain.PeerID) (*Peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[id]
	return p, ok
}

// Bound lists the identifiers currently bound.
func (n *Network) Bound() []domain.PeerID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(n.peers))
	for id := range n.peers {
		out = append(out, id)
	}
	return out
}

// Peer is one endpoint on the network.
type Peer struct {
	net *Network

	mu     sync.Mutex
	id     domain.PeerID
	closed bool
	onConn func(core.DataLink)
	onCall func(core.MediaLink)
	onErr  func(error)
	links  []*dataEnd
	calls  []*mediaEnd
}

func (n *Network) NewPeer() *Peer {
	return &Peer{net: n}
}

func (p *Peer) ID() domain.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *Peer) Open(ctx context.Context, id domain.PeerID) (domain.PeerID, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", domain.ErrClosed
	}
	if p.id != "" {
		return p.id, nil
	}
	if id == "" {
		id = domain.PeerID(uuid.NewString())
	}
	if err := p.net.bind(id, p); err != nil {
		return "", err
	}
	p.id = id
	log.Debug().Str("module", "loopback").Str("peer", string(id)).Msg("bound")
	return id, nil
}

func (p *Peer) OnConnection(fn func(core.DataLink)) {
	p.mu.Lock()
	p.onConn = fn
	p.mu.Unlock()
}

func (p *Peer) OnCall(fn func(core.MediaLink)) {
	p.mu.Lock()
	p.onCall = fn
	p.mu.Unlock()
}

func (p *Peer) OnError(fn func(error)) {
	p.mu.Lock()
	p.onErr = fn
	p.mu.Unlock()
}

// Fail reports err through OnError and closes the peer, as a broken transport would.
func (p *Peer) Fail(err error) {
	p.mu.Lock()
	fn := p.onErr
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
	_ = p.Close()
}

func (p *Peer) remote(ctx context.Context, id domain.PeerID) (*Peer, domain.PeerID, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	p.mu.Lock()
	self, closed := p.id, p.closed
	p.mu.Unlock()
	if closed {
		return nil, "", domain.ErrClosed
	}
	if self == "" {
		return nil, "", fmt.Errorf("%w: transport not open", domain.ErrConnection)
	}
	target, ok := p.net.lookup(id)
	if !ok {
		return nil, "", fmt.Errorf("%w: peer %s unavailable", domain.ErrConnection, id)
	}
	return target, self, nil
}

func (p *Peer) Connect(ctx context.Context, id domain.PeerID, meta core.Metadata) (core.DataLink, error) {
	target, self, err := p.remote(ctx, id)
	if err != nil {
		return nil, err
	}
	local := newDataEnd(id, meta)
	far := newDataEnd(self, meta)
	local.other, far.other = far, local
	if !p.track(local) || !target.track(far) {
		local.Close()
		return nil, fmt.Errorf("%w: peer %s closed", domain.ErrConnection, id)
	}

	go func() {
		target.mu.Lock()
		fn := target.onConn
		target.mu.Unlock()
		if fn != nil {
			fn(far)
		}
		far.markOpen()
		local.markOpen()
	}()
	return local, nil
}

func (p *Peer) Call(ctx context.Context, id domain.PeerID, stream *core.LocalStream) (core.MediaLink, error) {
	target, self, err := p.remote(ctx, id)
	if err != nil {
		return nil, err
	}
	local := newMediaEnd(id)
	far := newMediaEnd(self)
	local.other, far.other = far, local
	local.publish(stream)
	if !p.trackCall(local) || !target.trackCall(far) {
		local.Close()
		return nil, fmt.Errorf("%w: peer %s closed", domain.ErrConnection, id)
	}

	go func() {
		target.mu.Lock()
		fn := target.onCall
		target.mu.Unlock()
		if fn != nil {
			fn(far)
		}
	}()
	return local, nil
}

func (p *Peer) track(e *dataEnd) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.links = append(p.links, e)
	return true
}

func (p *Peer) trackCall(e *mediaEnd) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.calls = append(p.calls, e)
	return true
}

// Close closes every link and call of the peer and releases its identifier.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	id, links, calls := p.id, p.links, p.calls
	p.links, p.calls = nil, nil
	p.mu.Unlock()

	if id != "" {
		p.net.release(id, p)
	}
	for _, l := range links {
		_ = l.Close()
	}
	for _, c := range calls {
		_ = c.Close()
	}
	log.Debug().Str("module", "loopback").Str("peer", string(id)).Msg("closed")
	return nil
}
