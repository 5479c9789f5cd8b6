package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// TitleMaxRunes is the length a conversation title is cut to.
const TitleMaxRunes = 50

const imageOnlyTitle = "Image"

var ErrInvalidRole = errors.New("invalid message role")

// Role is the author of a message. Only RoleUser and RoleAssistant are valid.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	}
	return "", ErrInvalidRole
}

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrInvalidRole
	}
	return []byte(r), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type MessageImage struct {
	ID        string    `json:"id"`
	MessageID string    `json:"-"`
	Data      string    `json:"data"` // base64
	MimeType  string    `json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"-"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Images         []MessageImage `json:"images,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// ConversationSummary is a history list entry.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// DeriveTitle builds a conversation title from the first user message. The
// content is kept as typed; only a blank message falls back to "Image".
func DeriveTitle(content string) string {
	if strings.TrimSpace(content) == "" {
		return imageOnlyTitle
	}
	if utf8.RuneCountInString(content) <= TitleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:TitleMaxRunes]) + "..."
}
