package domain

import (
	"errors"
	"strings"
	"time"
)

const DefaultMaxChatLen = 2000

var (
	ErrChatEmpty   = errors.New("chat text empty")
	ErrChatTooLong = errors.New("chat text too long")
)

// ChatMessage is immutable once created.
type ChatMessage struct {
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewChatMessage(sender, text string, at time.Time, maxLen int) (ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return ChatMessage{}, ErrChatEmpty
	}
	if maxLen > 0 && len(text) > maxLen {
		return ChatMessage{}, ErrChatTooLong
	}
	return ChatMessage{SenderName: sender, Text: text, Timestamp: at.UTC()}, nil
}
