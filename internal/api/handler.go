package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/db"
	"github.com/RichardoC/padi-code/internal/llm"
	"github.com/RichardoC/padi-code/internal/models"
	"github.com/RichardoC/padi-code/internal/stream"
)

const healthTimeout = 2 * time.Second

type Handler struct {
	store   db.Store
	gateway llm.Gateway
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler wires the chat endpoints to store and gateway. timeout bounds
// each generation, including persisting the reply.
func NewHandler(store db.Store, gateway llm.Gateway, timeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		store:   store,
		gateway: gateway,
		timeout: timeout,
		logger:  logger,
	}
}

// Chat handles POST /chat. Validation and conversation lookup failures are
// answered with a status code; once streaming starts the outcome is only
// reported in-band, by the conversation-id marker or the error marker.
func (h *Handler) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if strings.TrimSpace(req.Message) == "" && len(req.Images) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Message or images required"})
		return
	}
	for _, img := range req.Images {
		if err := img.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	var conv *models.Conversation
	if req.ConversationID != nil && *req.ConversationID != "" {
		var err error
		conv, err = h.store.GetConversation(ctx, *req.ConversationID)
		if err != nil {
			h.storeError(c, "Failed to load conversation", err)
			return
		}
		msg, err := h.store.AppendMessage(ctx, conv.ID, models.RoleUser, req.Message, req.Images)
		if err != nil {
			h.storeError(c, "Failed to save message", err)
			return
		}
		conv.Messages = append(conv.Messages, *msg)
	} else {
		var err error
		conv, err = h.store.CreateConversation(ctx, req.Message, req.Images)
		if err != nil {
			h.storeError(c, "Failed to create conversation", err)
			return
		}
		h.logger.Info("Created conversation",
			zap.String("conversation_id", conv.ID),
			zap.String("title", conv.Title))
	}

	h.streamReply(c, conv.ID, BuildPrompt(conv.Messages))
}

func setupStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

func (h *Handler) streamReply(c *gin.Context, conversationID, prompt string) {
	logger := h.logger.With(zap.String("conversation_id", conversationID))

	setupStreamHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	// The reply is generated and saved even if the client goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.timeout)
	defer cancel()

	out := &chunkWriter{w: c.Writer, logger: logger}
	var reply strings.Builder
	chunks := 0
	err := h.gateway.Stream(ctx, prompt, func(chunk string) error {
		chunks++
		reply.WriteString(chunk)
		out.write(chunk)
		return nil
	})
	if err != nil {
		logger.Error("Failed to generate response", zap.Error(err), zap.Int("chunks", chunks))
		out.write(stream.ErrorMarker)
		return
	}

	if _, err := h.store.AppendMessage(ctx, conversationID, models.RoleAssistant, reply.String(), nil); err != nil {
		logger.Error("Failed to save assistant message", zap.Error(err))
		out.write(stream.ErrorMarker)
		return
	}

	logger.Debug("Streamed response", zap.Int("chunks", chunks), zap.Int("bytes", reply.Len()))
	out.write(stream.ConversationIDMarker(conversationID))
}

// chunkWriter flushes every write. After the first failed write it drops
// the rest.
type chunkWriter struct {
	w      gin.ResponseWriter
	logger *zap.Logger
	failed bool
}

func (cw *chunkWriter) write(s string) {
	if cw.failed {
		return
	}
	if _, err := cw.w.WriteString(s); err != nil {
		cw.failed = true
		cw.logger.Warn("Client disconnected, finishing response without it", zap.Error(err))
		return
	}
	cw.w.Flush()
}

// History handles GET /chat/history.
func (h *Handler) History(c *gin.Context) {
	conversations, err := h.store.ListConversations(c.Request.Context())
	if err != nil {
		h.storeError(c, "Failed to fetch conversation history", err)
		return
	}
	if conversations == nil {
		conversations = []models.ConversationSummary{}
	}

	h.logger.Debug("Retrieved conversations", zap.Int("count", len(conversations)))
	c.JSON(http.StatusOK, models.HistoryResponse{Conversations: conversations})
}

// Detail handles GET /chat/:conversationId.
func (h *Handler) Detail(c *gin.Context) {
	conv, err := h.store.GetConversation(c.Request.Context(), c.Param("conversationId"))
	if err != nil {
		h.storeError(c, "Failed to load conversation", err)
		return
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	c.JSON(http.StatusOK, conv)
}

// Delete handles DELETE /chat/:conversationId.
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("conversationId")
	if err := h.store.DeleteConversation(c.Request.Context(), id); err != nil {
		h.storeError(c, "Failed to delete conversation", err)
		return
	}

	h.logger.Info("Deleted conversation", zap.String("conversation_id", id))
	c.JSON(http.StatusOK, models.DeleteResponse{Deleted: true, ID: id})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, models.HealthResponse{Status: "unavailable"})
		return
	}
	c.JSON(http.StatusOK, models.HealthResponse{Status: "ok"})
}

// storeError answers a failed store call: 404 for a missing conversation,
// 503 when the database is unreachable, 500 otherwise.
func (h *Handler) storeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Conversation not found"})
	case errors.Is(err, db.ErrUnavailable):
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.Request.URL.Path))
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: msg})
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.Request.URL.Path))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: msg})
	}
}
