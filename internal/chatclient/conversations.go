package chatclient

import (
	"context"
	"slices"
	"sync"

	"github.com/RichardoC/padi-code/internal/models"
)

// ConversationsAPI is the part of the API the conversation list needs.
type ConversationsAPI interface {
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
}

type ConversationsSnapshot struct {
	Conversations []models.ConversationSummary
	Loading       bool
	Error         string
}

// ConversationsState is the list of past conversations, newest first.
type ConversationsState struct {
	api ConversationsAPI

	mu            sync.Mutex
	conversations []models.ConversationSummary
	loading       bool
	errText       string
}

// NewConversationsState fetches the list once before returning. A failed
// fetch is recorded in the state, not returned.
func NewConversationsState(ctx context.Context, api ConversationsAPI) *ConversationsState {
	s := &ConversationsState{api: api}
	_ = s.Fetch(ctx)
	return s
}

func (s *ConversationsState) Snapshot() ConversationsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ConversationsSnapshot{
		Conversations: slices.Clone(s.conversations),
		Loading:       s.loading,
		Error:         s.errText,
	}
}

// Fetch replaces the list with the server's.
func (s *ConversationsState) Fetch(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	list, err := s.api.ListConversations(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.errText = ErrTextFetchHistory
		return err
	}
	s.conversations = list
	s.errText = ""
	return nil
}

// Delete removes the conversation on the server, then from the local list.
// On failure the local list is unchanged.
func (s *ConversationsState) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.errText = ""
	s.mu.Unlock()

	if err := s.api.DeleteConversation(ctx, id); err != nil {
		s.mu.Lock()
		s.errText = ErrTextDeleteConversation
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = slices.DeleteFunc(s.conversations, func(c models.ConversationSummary) bool {
		return c.ID == id
	})
	return nil
}
