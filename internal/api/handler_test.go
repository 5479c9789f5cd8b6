package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/config"
	"github.com/RichardoC/padi-code/internal/db"
	"github.com/RichardoC/padi-code/internal/llm"
	"github.com/RichardoC/padi-code/internal/models"
	"github.com/RichardoC/padi-code/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scripted replays parts and then returns err, recording every prompt.
type scripted struct {
	mu      sync.Mutex
	parts   []string
	err     error
	prompts []string
}

func (s *scripted) Stream(ctx context.Context, prompt string, onChunk func(string) error) error {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	for _, p := range s.parts {
		if err := onChunk(p); err != nil {
			return err
		}
	}
	return s.err
}

func (s *scripted) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[len(s.prompts)-1]
}

type testServer struct {
	router *gin.Engine
	store  db.Store
}

func newTestServer(t *testing.T, store db.Store, gateway llm.Gateway) *testServer {
	t.Helper()
	if store == nil {
		store = db.NewMemoryStore()
	}
	cfg := config.Default().Server
	cfg.StaticDir = ""
	h := NewHandler(store, gateway, time.Second, zap.NewNop())
	return &testServer{router: NewRouter(cfg, h, zap.NewNop()), store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) chat(t *testing.T, req models.ChatRequest) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, "/api/chat", req)
}

func (s *testServer) history(t *testing.T) []models.ConversationSummary {
	t.Helper()
	w := s.do(t, http.MethodGet, "/api/chat/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Conversations
}

func (s *testServer) detail(t *testing.T, id string) models.Conversation {
	t.Helper()
	w := s.do(t, http.MethodGet, "/api/chat/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	return conv
}

func ptr(s string) *string { return &s }

func TestChat_NewConversation(t *testing.T) {
	gw := &scripted{parts: []string{"Hi", " there"}}
	srv := newTestServer(t, nil, gw)

	w := srv.chat(t, models.ChatRequest{Message: "Hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	list := srv.history(t)
	require.Len(t, list, 1)
	assert.Equal(t, "Hello", list[0].Title)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Equal(t, "Hi there"+stream.ConversationIDMarker(list[0].ID), w.Body.String())
	assert.Equal(t, "Hello", gw.lastPrompt())

	conv := srv.detail(t, list[0].ID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Hi there", conv.Messages[1].Content)
}

func TestChat_TitleTruncated(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{parts: []string{"ok"}})
	long := strings.Repeat("x", 51)

	w := srv.chat(t, models.ChatRequest{Message: long})
	require.Equal(t, http.StatusOK, w.Code)

	list := srv.history(t)
	require.Len(t, list, 1)
	assert.Equal(t, strings.Repeat("x", 50)+"...", list[0].Title)
}

func TestChat_ExistingConversation(t *testing.T) {
	gw := &scripted{parts: []string{"Hi there"}}
	srv := newTestServer(t, nil, gw)

	require.Equal(t, http.StatusOK, srv.chat(t, models.ChatRequest{Message: "Hello"}).Code)
	id := srv.history(t)[0].ID

	gw.parts = []string{"Sure", "!"}
	w := srv.chat(t, models.ChatRequest{Message: "Again", ConversationID: ptr(id)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Sure!"+stream.ConversationIDMarker(id), w.Body.String())
	assert.Equal(t, "user: Hello\n\nassistant: Hi there\n\nuser: Again", gw.lastPrompt())

	list := srv.history(t)
	require.Len(t, list, 1)
	assert.Equal(t, "Hello", list[0].Title)

	conv := srv.detail(t, id)
	var got []string
	for _, m := range conv.Messages {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	assert.Equal(t, []string{"user:Hello", "assistant:Hi there", "user:Again", "assistant:Sure!"}, got)
}

func TestChat_EmptyMessage(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{})

	for _, msg := range []string{"", "  ", "\n\t"} {
		w := srv.chat(t, models.ChatRequest{Message: msg})
		assert.Equal(t, http.StatusBadRequest, w.Code, "message %q", msg)
	}
	assert.Empty(t, srv.history(t))
}

func TestChat_InvalidBody(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{})

	w := srv.do(t, http.MethodPost, "/api/chat", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_BodyTooLarge(t *testing.T) {
	cfg := config.Default().Server
	cfg.StaticDir = ""
	cfg.MaxBodyBytes = 64
	h := NewHandler(db.NewMemoryStore(), &scripted{}, time.Second, zap.NewNop())
	srv := &testServer{router: NewRouter(cfg, h, zap.NewNop())}

	w := srv.chat(t, models.ChatRequest{Message: strings.Repeat("a", 200)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestChat_UnknownConversation(t *testing.T) {
	gw := &scripted{parts: []string{"never"}}
	srv := newTestServer(t, nil, gw)

	w := srv.chat(t, models.ChatRequest{Message: "Hello", ConversationID: ptr("missing")})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, srv.history(t))
	assert.Empty(t, gw.prompts)
}

func TestChat_EmptyConversationIDCreates(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{parts: []string{"ok"}})

	w := srv.chat(t, models.ChatRequest{Message: "Hello", ConversationID: ptr("")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, srv.history(t), 1)
}

func TestChat_ImagesOnly(t *testing.T) {
	gw := &scripted{parts: []string{"A cat"}}
	srv := newTestServer(t, nil, gw)

	w := srv.chat(t, models.ChatRequest{Images: []models.ImageInput{{Data: "iVBORw0KGgo=", MimeType: "image/png"}}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "\n\n[The user attached 1 image(s).]", gw.lastPrompt())

	list := srv.history(t)
	require.Len(t, list, 1)
	assert.Equal(t, "Image", list[0].Title)

	conv := srv.detail(t, list[0].ID)
	require.Len(t, conv.Messages[0].Images, 1)
	assert.Equal(t, "image/png", conv.Messages[0].Images[0].MimeType)
}

func TestChat_InvalidImage(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{})

	w := srv.chat(t, models.ChatRequest{Message: "look", Images: []models.ImageInput{{Data: "AAAA", MimeType: "image/bmp"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.chat(t, models.ChatRequest{Message: "look", Images: []models.ImageInput{{Data: "%%%", MimeType: "image/png"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, srv.history(t))
}

func TestChat_GenerationFailsImmediately(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{err: errors.New("model offline")})

	w := srv.chat(t, models.ChatRequest{Message: "Hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, stream.ErrorMarker, w.Body.String())

	list := srv.history(t)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].MessageCount)
	conv := srv.detail(t, list[0].ID)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
}

func TestChat_GenerationFailsMidStream(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{parts: []string{"par", "tial"}, err: errors.New("reset")})

	w := srv.chat(t, models.ChatRequest{Message: "Hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial"+stream.ErrorMarker, w.Body.String())
	assert.NotContains(t, w.Body.String(), "CONVERSATION_ID")
	assert.Equal(t, 1, srv.history(t)[0].MessageCount)
}

func TestChat_GenerationTimeout(t *testing.T) {
	slow := llm.GatewayFunc(func(ctx context.Context, prompt string, onChunk func(string) error) error {
		if err := onChunk("thinking"); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})
	store := db.NewMemoryStore()
	cfg := config.Default().Server
	cfg.StaticDir = ""
	h := NewHandler(store, slow, 20*time.Millisecond, zap.NewNop())
	srv := &testServer{router: NewRouter(cfg, h, zap.NewNop()), store: store}

	w := srv.chat(t, models.ChatRequest{Message: "Hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "thinking"+stream.ErrorMarker, w.Body.String())
}

// failingReplies rejects assistant messages.
type failingReplies struct {
	db.Store
}

func (f failingReplies) AppendMessage(ctx context.Context, id string, role models.Role, content string, images []models.ImageInput) (*models.Message, error) {
	if role == models.RoleAssistant {
		return nil, errors.New("disk full")
	}
	return f.Store.AppendMessage(ctx, id, role, content, images)
}

func TestChat_SaveReplyFails(t *testing.T) {
	srv := newTestServer(t, failingReplies{db.NewMemoryStore()}, &scripted{parts: []string{"Hi"}})

	w := srv.chat(t, models.ChatRequest{Message: "Hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hi"+stream.ErrorMarker, w.Body.String())
	assert.Equal(t, 1, srv.history(t)[0].MessageCount)
}

func TestHistory(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{parts: []string{"ok"}})

	w := srv.do(t, http.MethodGet, "/api/chat/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conversations":[]}`, w.Body.String())

	for _, msg := range []string{"first", "second", "third"} {
		require.Equal(t, http.StatusOK, srv.chat(t, models.ChatRequest{Message: msg}).Code)
	}

	first := srv.do(t, http.MethodGet, "/api/chat/history", nil).Body.String()
	second := srv.do(t, http.MethodGet, "/api/chat/history", nil).Body.String()
	assert.Equal(t, first, second)

	list := srv.history(t)
	require.Len(t, list, 3)
	assert.Equal(t, "third", list[0].Title)
	assert.Equal(t, "first", list[2].Title)
}

func TestDetail_NotFound(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{})

	w := srv.do(t, http.MethodGet, "/api/chat/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Conversation not found"}`, w.Body.String())
}

func TestDelete(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{parts: []string{"ok"}})
	require.Equal(t, http.StatusOK, srv.chat(t, models.ChatRequest{Message: "keep"}).Code)
	require.Equal(t, http.StatusOK, srv.chat(t, models.ChatRequest{Message: "drop"}).Code)

	list := srv.history(t)
	require.Len(t, list, 2)
	drop := list[0].ID
	require.Equal(t, "drop", list[0].Title)

	w := srv.do(t, http.MethodDelete, "/api/chat/"+drop, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.DeleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.DeleteResponse{Deleted: true, ID: drop}, resp)

	list = srv.history(t)
	require.Len(t, list, 1)
	assert.Equal(t, "keep", list[0].Title)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/chat/"+drop, nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodDelete, "/api/chat/"+drop, nil).Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, &scripted{})
	w := srv.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	closed, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "health.db"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, closed.Close())

	srv = newTestServer(t, closed, &scripted{})
	w = srv.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, w.Body.String())
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(dir, "index.html"), "<h1>chat</h1>"))

	cfg := config.Default().Server
	cfg.StaticDir = dir
	h := NewHandler(db.NewMemoryStore(), &scripted{}, time.Second, zap.NewNop())
	srv := &testServer{router: NewRouter(cfg, h, zap.NewNop())}

	w := srv.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>chat</h1>")

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/api/health", nil).Code)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
