package signal

import (
	"encoding/json"

	"github.com/dkeye/LiveClass/internal/domain"
)

// Broker frame types.
const (
	TypeOpen      = "open"
	TypeIDTaken   = "id-taken"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeLeave     = "leave"
	TypeExpire    = "expire"
	TypePing      = "ping"
	TypePong      = "pong"
)

// Envelope is every frame exchanged with the broker. Src is stamped by the broker
// on relayed frames; Payload is opaque to it.
type Envelope struct {
	Type    string          `json:"type"`
	ID      domain.PeerID   `json:"id,omitempty"`
	Src     domain.PeerID   `json:"src,omitempty"`
	Dst     domain.PeerID   `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func relayed(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeLeave:
		return true
	}
	return false
}
