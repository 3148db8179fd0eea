// Package protocol defines the closed set of messages exchanged over data links.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/LiveClass/internal/domain"
)

type Type string

const (
	TypeJoin           Type = "join"
	TypePeersUpdate    Type = "peers-update"
	TypeChat           Type = "chat"
	TypeLessonUpdate   Type = "lesson-update"
	TypePresenceUpdate Type = "presence-update"
)

// Message is implemented only by the variants of this package.
type Message interface {
	Kind() Type
	sealed()
}

// Join is sent once by a participant right after its link to the host opens.
type Join struct {
	UserID domain.UserID `json:"userId"`
	Name   string        `json:"name"`
	Role   domain.Role   `json:"role"`
}

// PeersUpdate is a full directory snapshot, never a delta.
type PeersUpdate struct {
	Peers []PeerEntry `json:"peers"`
}

// PeerEntry encodes as a [peerId, record] pair.
type PeerEntry struct {
	PeerID domain.PeerID
	Record domain.PeerRecord
}

type Chat struct {
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

type LessonUpdate struct {
	LessonID domain.LessonID `json:"lessonId"`
}

// PresenceUpdate carries a participant's own mute and camera flags to the host.
type PresenceUpdate struct {
	IsMuted    bool `json:"isMuted"`
	IsVideoOff bool `json:"isVideoOff"`
}

// Unknown is a well-formed message whose type this build does not know.
type Unknown struct {
	Name string
}

func (Join) Kind() Type           { return TypeJoin }
func (PeersUpdate) Kind() Type    { return TypePeersUpdate }
func (Chat) Kind() Type           { return TypeChat }
func (LessonUpdate) Kind() Type   { return TypeLessonUpdate }
func (PresenceUpdate) Kind() Type { return TypePresenceUpdate }
func (u Unknown) Kind() Type      { return Type(u.Name) }

func (Join) sealed()           {}
func (PeersUpdate) sealed()    {}
func (Chat) sealed()           {}
func (LessonUpdate) sealed()   {}
func (PresenceUpdate) sealed() {}
func (Unknown) sealed()        {}

func JoinFrom(id domain.Identity) Join {
	return Join{UserID: id.UserID, Name: id.DisplayName, Role: id.Role}
}

func (j Join) Identity() domain.Identity {
	return domain.Identity{UserID: j.UserID, DisplayName: j.Name, Role: j.Role}
}

// Snapshot builds a PeersUpdate from directory records.
func Snapshot(recs []domain.PeerRecord) PeersUpdate {
	out := PeersUpdate{Peers: make([]PeerEntry, 0, len(recs))}
	for _, r := range recs {
		out.Peers = append(out.Peers, PeerEntry{PeerID: r.PeerID, Record: r})
	}
	return out
}

// Records returns the snapshot as a peer-id keyed map, the shape participants cache.
func (p PeersUpdate) Records() map[domain.PeerID]domain.PeerRecord {
	out := make(map[domain.PeerID]domain.PeerRecord, len(p.Peers))
	for _, e := range p.Peers {
		rec := e.Record
		rec.PeerID = e.PeerID
		out[e.PeerID] = rec
	}
	return out
}

func (e PeerEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.PeerID, e.Record})
}

func (e *PeerEntry) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("peer entry: want 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.PeerID); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[1], &e.Record); err != nil {
		return err
	}
	if e.Record.PeerID == "" {
		e.Record.PeerID = e.PeerID
	}
	return nil
}

func NewChat(m domain.ChatMessage) Chat {
	return Chat{
		SenderName: m.SenderName,
		Text:       m.Text,
		Timestamp:  m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Message converts the wire form back into a chat log entry.
func (c Chat) Message() (domain.ChatMessage, error) {
	at, err := time.Parse(time.RFC3339Nano, c.Timestamp)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return domain.ChatMessage{SenderName: c.SenderName, Text: c.Text, Timestamp: at.UTC()}, nil
}
