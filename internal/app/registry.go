package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/rs/zerolog/log"
)

// Endpoint is a broker-side socket a bound identifier is reachable through.
type Endpoint interface {
	TrySend(core.Frame) error
	Close()
}

type entry struct {
	Endpoint Endpoint
	Cancel   context.CancelFunc
	Since    time.Time
}

// Registry binds peer identifiers to broker sockets. An identifier is bound to at
// most one socket at a time.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*entry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.PeerID]*entry)}
}

func (r *Registry) Bind(id domain.PeerID, ep Endpoint, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.peers[id]; taken {
		log.Warn().Str("module", "app.registry").Str("peer", string(id)).Msg("identifier taken")
		return fmt.Errorf("%w: %s", domain.ErrIdentityConflict, id)
	}
	r.peers[id] = &entry{Endpoint: ep, Cancel: cancel, Since: time.Now()}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Int("bound", len(r.peers)).Msg("bound identifier")
	return nil
}

func (r *Registry) Lookup(id domain.PeerID) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.peers[id]; ok {
		return e.Endpoint, true
	}
	return nil, false
}

// Unbind releases id if it is still bound to ep.
func (r *Registry) Unbind(id domain.PeerID, ep Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok || e.Endpoint != ep {
		return false
	}
	delete(r.peers, id)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Dur("bound_for", time.Since(e.Since)).Msg("released identifier")
	return true
}

func (r *Registry) Online(id domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry) Cancel(id domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.peers[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("canceled peer")
	return true
}

// CancelAll cancels every bound socket; their owners unbind on exit.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.peers))
	for _, e := range r.peers {
		if e.Cancel != nil {
			cancels = append(cancels, e.Cancel)
		}
	}
	r.mu.RUnlock()
	for _, c := range cancels {
		c()
	}
}
