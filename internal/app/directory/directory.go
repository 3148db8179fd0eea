// Package directory holds the session roster: the host's authoritative copy and
// the participant-side cache that mirrors it.
package directory

import (
	"maps"
	"sync"

	"github.com/dkeye/LiveClass/internal/domain"
)

// Directory is the host's source of truth for who is in the session.
// It is not safe for concurrent use; relay.Hub serializes every access together
// with the snapshot broadcast that follows a mutation.
type Directory struct {
	records map[domain.PeerID]domain.PeerRecord
}

func New() *Directory {
	return &Directory{records: make(map[domain.PeerID]domain.PeerRecord)}
}

// Upsert stores rec under its own peer id, replacing any previous record.
func (d *Directory) Upsert(rec domain.PeerRecord) {
	d.records[rec.PeerID] = rec
}

// Remove reports whether a record was present.
func (d *Directory) Remove(peer domain.PeerID) bool {
	if _, ok := d.records[peer]; !ok {
		return false
	}
	delete(d.records, peer)
	return true
}

// SetPresence updates the display flags of an existing record.
func (d *Directory) SetPresence(peer domain.PeerID, muted, videoOff bool) bool {
	rec, ok := d.records[peer]
	if !ok {
		return false
	}
	rec.IsMuted = muted
	rec.IsVideoOff = videoOff
	d.records[peer] = rec
	return true
}

func (d *Directory) Get(peer domain.PeerID) (domain.PeerRecord, bool) {
	rec, ok := d.records[peer]
	return rec, ok
}

func (d *Directory) Len() int { return len(d.records) }

// Snapshot returns every record ordered by peer id.
func (d *Directory) Snapshot() []domain.PeerRecord {
	out := make([]domain.PeerRecord, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, r)
	}
	domain.SortRecords(out)
	return out
}

// Cache is a participant's view of the host directory. It is only ever replaced
// wholesale from a snapshot, never patched locally.
type Cache struct {
	mu      sync.RWMutex
	records map[domain.PeerID]domain.PeerRecord
}

func NewCache() *Cache {
	return &Cache{records: make(map[domain.PeerID]domain.PeerRecord)}
}

func (c *Cache) Replace(snapshot map[domain.PeerID]domain.PeerRecord) {
	next := make(map[domain.PeerID]domain.PeerRecord, len(snapshot))
	maps.Copy(next, snapshot)
	c.mu.Lock()
	c.records = next
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.Replace(nil)
}

func (c *Cache) Get(peer domain.PeerID) (domain.PeerRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[peer]
	return rec, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Cache) Snapshot() []domain.PeerRecord {
	c.mu.RLock()
	out := make([]domain.PeerRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	c.mu.RUnlock()
	domain.SortRecords(out)
	return out
}
