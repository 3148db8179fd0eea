// Package relay is the host's fan-out engine. It owns every open data link and the
// authoritative directory, and applies each directory mutation together with the
// snapshot broadcast that follows it as one atomic step.
package relay

import (
	"sync"

	"github.com/dkeye/LiveClass/internal/app/directory"
	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/dkeye/LiveClass/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// PublishResult reports delivery stats of one broadcast.
type PublishResult struct {
	SendTo int
	Failed []domain.PeerID
}

// RosterFunc observes every snapshot the hub publishes. It runs under the hub
// lock and must not call back into the hub.
type RosterFunc func([]domain.PeerRecord)

type member struct {
	link    core.DataLink
	limiter *rate.Limiter
	joined  bool
}

type Hub struct {
	mu       sync.Mutex
	links    map[domain.PeerID]*member
	dir      *directory.Directory
	limits   Limits
	onRoster RosterFunc
}

func NewHub(limits Limits, onRoster RosterFunc) *Hub {
	return &Hub{
		links:    make(map[domain.PeerID]*member),
		dir:      directory.New(),
		limits:   limits,
		onRoster: onRoster,
	}
}

// Attach registers an open link so it receives broadcasts. A newer link from the
// same peer replaces the older one.
func (h *Hub) Attach(link core.DataLink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attachLocked(link)
}

func (h *Hub) attachLocked(link core.DataLink) *member {
	peer := link.RemotePeer()
	if m, ok := h.links[peer]; ok && m.link == link {
		return m
	}
	m := &member{link: link, limiter: h.limits.newLimiter()}
	h.links[peer] = m
	log.Info().Str("module", "relay").Str("peer", string(peer)).Int("links", len(h.links)).Msg("link attached")
	return m
}

// Join records the sender of a Join under the link's own peer id and publishes a
// snapshot to every open link.
func (h *Hub) Join(link core.DataLink, j protocol.Join) PublishResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.attachLocked(link)
	m.joined = true
	rec := domain.NewPeerRecord(link.RemotePeer(), j.Identity())
	h.dir.Upsert(rec)
	log.Info().Str("module", "relay").Str("peer", string(rec.PeerID)).Str("user", string(rec.UserID)).Msg("peer joined")
	return h.publishSnapshotLocked()
}

// Detach forgets a closed link. When the peer had a directory record the removal
// is published; a link replaced by a newer one is ignored.
func (h *Hub) Detach(link core.DataLink) (bool, PublishResult) {
	peer := link.RemotePeer()
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.links[peer]
	if !ok || m.link != link {
		return false, PublishResult{}
	}
	delete(h.links, peer)
	if !h.dir.Remove(peer) {
		return false, PublishResult{}
	}
	log.Info().Str("module", "relay").Str("peer", string(peer)).Msg("peer left")
	return true, h.publishSnapshotLocked()
}

// Presence applies a participant's own mute and camera flags.
func (h *Hub) Presence(peer domain.PeerID, p protocol.PresenceUpdate) (bool, PublishResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dir.SetPresence(peer, p.IsMuted, p.IsVideoOff) {
		return false, PublishResult{}
	}
	return true, h.publishSnapshotLocked()
}

// Broadcast sends msg to every open link except exclude. Send errors are skipped:
// the link's close event performs the cleanup.
func (h *Hub) Broadcast(msg protocol.Message, exclude domain.PeerID) PublishResult {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("broadcast encode")
		return PublishResult{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcastLocked(frame, exclude)
}

func (h *Hub) publishSnapshotLocked() PublishResult {
	snap := h.dir.Snapshot()
	frame, err := protocol.Encode(protocol.Snapshot(snap))
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("snapshot encode")
		return PublishResult{}
	}
	res := h.broadcastLocked(frame, "")
	if h.onRoster != nil {
		h.onRoster(snap)
	}
	return res
}

func (h *Hub) broadcastLocked(frame core.Frame, exclude domain.PeerID) PublishResult {
	res := PublishResult{}
	for peer, m := range h.links {
		if peer == exclude {
			continue
		}
		if err := m.link.Send(frame); err != nil {
			res.Failed = append(res.Failed, peer)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "relay").Str("exclude", string(exclude)).Int("sent_to", res.SendTo).Int("failed", len(res.Failed)).Msg("broadcast result")
	return res
}

// Allow consumes one inbound message token for peer.
func (h *Hub) Allow(peer domain.PeerID) bool {
	h.mu.Lock()
	m, ok := h.links[peer]
	h.mu.Unlock()
	if !ok || m.limiter == nil {
		return true
	}
	return m.limiter.Allow()
}

// Joined reports whether peer has an open link that completed the join handshake.
func (h *Hub) Joined(peer domain.PeerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.links[peer]
	return ok && m.joined
}

func (h *Hub) Snapshot() []domain.PeerRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dir.Snapshot()
}

func (h *Hub) LinkCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.links)
}

// Close closes every link and empties the hub without publishing.
func (h *Hub) Close() {
	h.mu.Lock()
	links := make([]core.DataLink, 0, len(h.links))
	for _, m := range h.links {
		links = append(links, m.link)
	}
	h.links = make(map[domain.PeerID]*member)
	h.dir = directory.New()
	h.mu.Unlock()

	for _, l := range links {
		if err := l.Close(); err != nil {
			log.Debug().Err(err).Str("module", "relay").Str("peer", string(l.RemotePeer())).Msg("close link")
		}
	}
}
