package db

import (
	"context"
	"slices"
	"sync"

	"github.com/RichardoC/padi-code/internal/models"
)

// MemoryStore keeps everything in process memory. Data is lost on Close.
type MemoryStore struct {
	mu            sync.RWMutex
	clock         *clock
	seq           int
	conversations map[string]*memConversation
}

type memConversation struct {
	conv     models.Conversation
	seq      int
	messages []models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:         newClock(),
		conversations: make(map[string]*memConversation),
	}
}

func (s *MemoryStore) CreateConversation(ctx context.Context, content string, images []models.ImageInput) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	conv := models.Conversation{
		ID:        newID(),
		Title:     models.DeriveTitle(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	msg := newMessage(conv.ID, models.RoleUser, content, images, now)

	s.seq++
	s.conversations[conv.ID] = &memConversation{conv: conv, seq: s.seq, messages: []models.Message{msg}}

	conv.Messages = []models.Message{cloneMessage(msg)}
	return &conv, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	conv := c.conv
	conv.Messages = make([]models.Message, 0, len(c.messages))
	for _, msg := range c.messages {
		conv.Messages = append(conv.Messages, cloneMessage(msg))
	}
	return &conv, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*memConversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		entries = append(entries, c)
	}
	slices.SortFunc(entries, func(a, b *memConversation) int {
		if c := b.conv.UpdatedAt.Compare(a.conv.UpdatedAt); c != 0 {
			return c
		}
		return b.seq - a.seq
	})

	out := make([]models.ConversationSummary, 0, len(entries))
	for _, c := range entries {
		out = append(out, models.ConversationSummary{
			ID:           c.conv.ID,
			Title:        c.conv.Title,
			CreatedAt:    c.conv.CreatedAt,
			UpdatedAt:    c.conv.UpdatedAt,
			MessageCount: len(c.messages),
		})
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, images []models.ImageInput) (*models.Message, error) {
	if !role.Valid() {
		return nil, models.ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	msg := newMessage(conversationID, role, content, images, s.clock.Now())
	c.messages = append(c.messages, msg)
	c.conv.UpdatedAt = msg.CreatedAt

	out := cloneMessage(msg)
	return &out, nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]*memConversation)
	return nil
}

func cloneMessage(msg models.Message) models.Message {
	msg.Images = slices.Clone(msg.Images)
	return msg
}
