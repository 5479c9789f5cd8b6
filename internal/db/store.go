// Package db persists conversations, their messages and message images.
//
// Store is the only shared mutable resource of the server. Each operation is
// atomic on its own: a conversation and its first message are created in one
// unit, and deleting a conversation removes its messages and images with it.
// No transaction spans more than one operation.
//
// Implementations:
//
//   - SQLiteStore: database/sql on github.com/mattn/go-sqlite3 (default)
//   - PostgresStore: gorm on PostgreSQL
//   - MemoryStore: in-process maps, for tests and throwaway servers
//   - CachedStore: a Redis read-through cache in front of any of the above
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RichardoC/padi-code/internal/models"
)

var (
	// ErrNotFound is returned when a referenced conversation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when the backing database cannot be reached.
	ErrUnavailable = errors.New("store unavailable")
)

type Store interface {
	// CreateConversation creates a conversation titled after content together
	// with its first user message and that message's images.
	CreateConversation(ctx context.Context, content string, images []models.ImageInput) (*models.Conversation, error)
	// GetConversation returns the conversation with messages in creation order.
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// ListConversations returns summaries, most recently updated first.
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	// AppendMessage adds a message and bumps the conversation's updated time.
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, images []models.ImageInput) (*models.Message, error)
	DeleteConversation(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// clock hands out strictly increasing UTC timestamps at microsecond
// resolution, so messages created in the same instant keep insertion order.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

func newID() string {
	return uuid.NewString()
}

func newMessage(conversationID string, role models.Role, content string, images []models.ImageInput, at time.Time) models.Message {
	msg := models.Message{
		ID:             newID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      at,
	}
	for _, img := range images {
		msg.Images = append(msg.Images, models.MessageImage{
			ID:        newID(),
			MessageID: msg.ID,
			Data:      img.Data,
			MimeType:  img.MimeType,
			CreatedAt: at,
		})
	}
	return msg
}

// wrapErr annotates err with op, marking connectivity failures as ErrUnavailable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if isConnectivity(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
