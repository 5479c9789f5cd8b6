package chatclient

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RichardoC/padi-code/internal/models"
	"github.com/RichardoC/padi-code/internal/stream"
)

// User-facing error strings, one per operation.
const (
	ErrTextLoadConversation   = "Failed to load conversation"
	ErrTextSendMessage        = "Failed to send message"
	ErrTextFetchHistory       = "Failed to fetch conversation history"
	ErrTextDeleteConversation = "Failed to delete conversation"
)

var (
	// ErrSendInProgress is returned by SendMessage while an earlier send
	// has not finished.
	ErrSendInProgress = errors.New("a message is already being sent")
	// ErrGenerationFailed is returned when the stream ends with the error marker.
	ErrGenerationFailed = errors.New("server failed to generate a response")
)

type Status int

const (
	// StatusPending marks a message created locally and not yet confirmed.
	StatusPending Status = iota
	StatusPersisted
)

type Message struct {
	ID        string
	Role      models.Role
	Content   string
	Images    []models.ImageInput
	CreatedAt time.Time
	Status    Status
}

func fromModel(m models.Message) Message {
	var images []models.ImageInput
	for _, img := range m.Images {
		images = append(images, models.ImageInput{Data: img.Data, MimeType: img.MimeType})
	}
	return Message{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Images:    images,
		CreatedAt: m.CreatedAt,
		Status:    StatusPersisted,
	}
}

// ChatAPI is the part of the API a chat session needs. *Client implements it.
type ChatAPI interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	StreamChat(ctx context.Context, req models.ChatRequest, onChunk func(chunk string)) error
}

// ChatSnapshot is a copy of a ChatState at one point in time.
type ChatSnapshot struct {
	Messages       []Message
	Loading        bool
	Error          string
	ConversationID string // empty until the server assigns one
}

// ChatState holds the messages of the open conversation. Every change is
// reported to the OnChange callback, including each streamed fragment.
type ChatState struct {
	api ChatAPI

	mu             sync.Mutex
	messages       []Message
	loading        bool
	errText        string
	conversationID string
	sending        bool

	onChange  func(ChatSnapshot)
	onCreated func(id string)
}

type ChatOption func(*ChatState)

// OnChange registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change, without locks held.
func OnChange(fn func(ChatSnapshot)) ChatOption {
	return func(s *ChatState) { s.onChange = fn }
}

// OnConversationCreated registers fn to be called once with the id the
// server assigned to a new conversation.
func OnConversationCreated(fn func(id string)) ChatOption {
	return func(s *ChatState) { s.onCreated = fn }
}

func NewChatState(api ChatAPI, opts ...ChatOption) *ChatState {
	s := &ChatState{api: api}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChatState) Snapshot() ChatSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ChatState) snapshotLocked() ChatSnapshot {
	return ChatSnapshot{
		Messages:       slices.Clone(s.messages),
		Loading:        s.loading,
		Error:          s.errText,
		ConversationID: s.conversationID,
	}
}

// update applies fn under the lock and then notifies OnChange.
func (s *ChatState) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(snap)
	}
}

// LoadConversation replaces the message list with the stored conversation.
// On failure the list is left as it was.
func (s *ChatState) LoadConversation(ctx context.Context, id string) error {
	s.update(func() { s.loading = true })

	conv, err := s.api.GetConversation(ctx, id)

	s.update(func() {
		s.loading = false
		if err != nil {
			s.errText = ErrTextLoadConversation
			return
		}
		s.messages = s.messages[:0:0]
		for _, m := range conv.Messages {
			s.messages = append(s.messages, fromModel(m))
		}
		s.errText = ""
		s.conversationID = id
	})
	return err
}

// SendMessage appends the user's message and an empty assistant message,
// then fills the assistant message as the reply streams in. If the send
// fails the assistant placeholder is removed; the user message stays.
func (s *ChatState) SendMessage(ctx context.Context, content string, images []models.ImageInput) error {
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return ErrSendInProgress
	}
	s.sending = true
	s.mu.Unlock()

	now := time.Now()
	userID := "pending-user-" + uuid.NewString()
	assistantID := "pending-assistant-" + uuid.NewString()
	req := models.ChatRequest{Message: content, Images: images}

	s.update(func() {
		s.loading = true
		s.errText = ""
		s.messages = append(s.messages,
			Message{
				ID:        userID,
				Role:      models.RoleUser,
				Content:   content,
				Images:    images,
				CreatedAt: now,
				Status:    StatusPending,
			},
			Message{
				ID:        assistantID,
				Role:      models.RoleAssistant,
				CreatedAt: now,
				Status:    StatusPending,
			},
		)
		if s.conversationID != "" {
			id := s.conversationID
			req.ConversationID = &id
		}
	})

	var buf strings.Builder
	err := s.api.StreamChat(ctx, req, func(chunk string) {
		buf.WriteString(chunk)
		text := buf.String()

		var created string
		s.update(func() {
			if id, ok := stream.ConversationID(text); ok && s.conversationID == "" {
				s.conversationID = id
				created = id
			}
			s.setContent(assistantID, stream.StripError(stream.Display(text)))
		})
		if created != "" && s.onCreated != nil {
			s.onCreated(created)
		}
	})
	if err == nil && stream.Failed(buf.String()) {
		err = ErrGenerationFailed
	}

	s.update(func() {
		s.loading = false
		s.sending = false
		if err != nil {
			s.errText = ErrTextSendMessage
			s.messages = slices.DeleteFunc(s.messages, func(m Message) bool {
				return m.Role == models.RoleAssistant && m.Status == StatusPending
			})
			return
		}
		for i := range s.messages {
			if id := s.messages[i].ID; id == userID || id == assistantID {
				s.messages[i].Status = StatusPersisted
			}
		}
	})
	return err
}

func (s *ChatState) setContent(id, content string) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			return
		}
	}
}

// ClearMessages starts a new chat.
func (s *ChatState) ClearMessages() {
	s.update(func() {
		s.messages = nil
		s.conversationID = ""
		s.errText = ""
	})
}
