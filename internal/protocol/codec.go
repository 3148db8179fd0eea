package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/tidwall/gjson"
)

var (
	ErrMalformed   = fmt.Errorf("%w: malformed message", domain.ErrProtocol)
	ErrUnsupported = fmt.Errorf("%w: unsupported message", domain.ErrProtocol)
)

// Encode renders m as {"type": ..., fields...}.
func Encode(m Message) (core.Frame, error) {
	var v any
	switch msg := m.(type) {
	case Join:
		v = struct {
			Type Type `json:"type"`
			Join
		}{TypeJoin, msg}
	case PeersUpdate:
		if msg.Peers == nil {
			msg.Peers = []PeerEntry{}
		}
		v = struct {
			Type Type `json:"type"`
			PeersUpdate
		}{TypePeersUpdate, msg}
	case Chat:
		v = struct {
			Type Type `json:"type"`
			Chat
		}{TypeChat, msg}
	case LessonUpdate:
		v = struct {
			Type Type `json:"type"`
			LessonUpdate
		}{TypeLessonUpdate, msg}
	case PresenceUpdate:
		v = struct {
			Type Type `json:"type"`
			PresenceUpdate
		}{TypePresenceUpdate, msg}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, m)
	}
	return json.Marshal(v)
}

// Decode parses one frame. Well-formed frames of an unknown type decode to Unknown
// with a nil error; anything else that cannot be trusted returns ErrMalformed.
func Decode(data core.Frame) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	t := gjson.GetBytes(data, "type")
	if t.Type != gjson.String || t.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch Type(t.Str) {
	case TypeJoin:
		var m Join
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := validateJoin(m); err != nil {
			return nil, err
		}
		return m, nil
	case TypePeersUpdate:
		var m PeersUpdate
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		for _, e := range m.Peers {
			if e.PeerID == "" {
				return nil, fmt.Errorf("%w: peer entry without id", ErrMalformed)
			}
		}
		return m, nil
	case TypeChat:
		var m Chat
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.Text) == "" {
			return nil, fmt.Errorf("%w: empty chat", ErrMalformed)
		}
		if _, err := m.Message(); err != nil {
			return nil, fmt.Errorf("%w: chat timestamp: %w", ErrMalformed, err)
		}
		return m, nil
	case TypeLessonUpdate:
		var m LessonUpdate
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.LessonID == "" {
			return nil, fmt.Errorf("%w: empty lesson id", ErrMalformed)
		}
		return m, nil
	case TypePresenceUpdate:
		var m PresenceUpdate
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return Unknown{Name: t.Str}, nil
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

func validateJoin(j Join) error {
	if err := domain.ValidateUserID(j.UserID); err != nil {
		return fmt.Errorf("%w: join: %w", ErrMalformed, err)
	}
	if err := domain.ValidateUsername(j.Name); err != nil {
		return fmt.Errorf("%w: join: %w", ErrMalformed, err)
	}
	if !j.Role.Valid() {
		return fmt.Errorf("%w: join: %w", ErrMalformed, domain.ErrInvalidRole)
	}
	return nil
}
