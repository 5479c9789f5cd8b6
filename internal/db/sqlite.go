package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/models"
)

// Fixed width keeps lexical order equal to chronological order.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS message_images (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL,
    data TEXT NOT NULL,
    mime_type TEXT NOT NULL CHECK (mime_type IN ('image/jpeg', 'image/png', 'image/gif', 'image/webp')),
    created_at TEXT NOT NULL,
    FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_message_images_message ON message_images(message_id);`

type SQLiteStore struct {
	db     *sql.DB
	clock  *clock
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies the schema. ":memory:" gives a private in-memory database.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// every new connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", zap.String("path", dbPath))
	return &SQLiteStore{db: db, clock: newClock(), logger: logger}, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, content string, images []models.ImageInput) (*models.Conversation, error) {
	now := s.clock.Now()
	conv := &models.Conversation{
		ID:        newID(),
		Title:     models.DeriveTitle(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	msg := newMessage(conv.ID, models.RoleUser, content, images, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO conversations (id, title, created_at, updated_at)
        VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Title, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
	if err != nil {
		return nil, wrapErr("inserting conversation", err)
	}
	if err := insertMessage(ctx, tx, &msg); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("committing conversation", err)
	}

	conv.Messages = []models.Message{msg}
	s.logger.Debug("created conversation",
		zap.String("conversation_id", conv.ID),
		zap.Int("images", len(images)))
	return conv, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *models.Message) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO messages (id, conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		return wrapErr("inserting message", err)
	}
	for _, img := range msg.Images {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO message_images (id, message_id, data, mime_type, created_at)
            VALUES (?, ?, ?, ?, ?)`,
			img.ID, img.MessageID, img.Data, img.MimeType, formatTime(img.CreatedAt))
		if err != nil {
			return wrapErr("inserting message image", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
        SELECT id, title, created_at, updated_at
        FROM conversations
        WHERE id = ?`, id).Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying conversation", err)
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	conv.Messages, err = s.conversationMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *SQLiteStore) conversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, wrapErr("querying messages", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	index := make(map[string]int)
	for rows.Next() {
		var msg models.Message
		var role, createdAt string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &createdAt); err != nil {
			return nil, wrapErr("scanning message", err)
		}
		if msg.Role, err = models.ParseRole(role); err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		index[msg.ID] = len(messages)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating messages", err)
	}

	imgRows, err := s.db.QueryContext(ctx, `
        SELECT i.id, i.message_id, i.data, i.mime_type, i.created_at
        FROM message_images i
        JOIN messages m ON m.id = i.message_id
        WHERE m.conversation_id = ?
        ORDER BY i.created_at ASC, i.rowid ASC`, conversationID)
	if err != nil {
		return nil, wrapErr("querying message images", err)
	}
	defer imgRows.Close()

	for imgRows.Next() {
		var img models.MessageImage
		var createdAt string
		if err := imgRows.Scan(&img.ID, &img.MessageID, &img.Data, &img.MimeType, &createdAt); err != nil {
			return nil, wrapErr("scanning message image", err)
		}
		if img.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if i, ok := index[img.MessageID]; ok {
			messages[i].Images = append(messages[i].Images, img)
		}
	}
	return messages, wrapErr("iterating message images", imgRows.Err())
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT c.id, c.title, c.created_at, c.updated_at,
            (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
        FROM conversations c
        ORDER BY c.updated_at DESC, c.rowid DESC`)
	if err != nil {
		return nil, wrapErr("querying conversations", err)
	}
	defer rows.Close()

	conversations := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var conv models.ConversationSummary
		var createdAt, updatedAt string
		if err := rows.Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt, &conv.MessageCount); err != nil {
			return nil, wrapErr("scanning conversation", err)
		}
		if conv.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, wrapErr("iterating conversations", rows.Err())
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, images []models.ImageInput) (*models.Message, error) {
	if !role.Valid() {
		return nil, models.ErrInvalidRole
	}
	msg := newMessage(conversationID, role, content, images, s.clock.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		formatTime(msg.CreatedAt), conversationID)
	if err != nil {
		return nil, wrapErr("touching conversation", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, wrapErr("touching conversation", err)
	} else if n == 0 {
		return nil, ErrNotFound
	}

	if err := insertMessage(ctx, tx, &msg); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("committing message", err)
	}

	s.logger.Debug("appended message",
		zap.String("conversation_id", conversationID),
		zap.String("role", string(role)))
	return &msg, nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	// Delete images and messages explicitly so a database opened without
	// foreign key enforcement is cleaned up as well.
	if _, err := tx.ExecContext(ctx, `
        DELETE FROM message_images
        WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`, id); err != nil {
		return wrapErr("deleting message images", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return wrapErr("deleting messages", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return wrapErr("deleting conversation", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrapErr("deleting conversation", err)
	} else if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("committing delete", err)
	}
	s.logger.Debug("deleted conversation", zap.String("conversation_id", id))
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return wrapErr("pinging database", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
