package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/RichardoC/padi-code/internal/models"
)

type conversationRow struct {
	ID        string       `gorm:"primaryKey;type:text"`
	Title     string       `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null;index;autoUpdateTime:false"`
	Messages  []messageRow `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ID             string     `gorm:"primaryKey;type:text"`
	ConversationID string     `gorm:"type:text;not null;index:idx_messages_conversation_created,priority:1"`
	Role           string     `gorm:"not null"`
	Content        string     `gorm:"type:text;not null"`
	CreatedAt      time.Time  `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
	Images         []imageRow `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (messageRow) TableName() string { return "messages" }

type imageRow struct {
	ID        string    `gorm:"primaryKey;type:text"`
	MessageID string    `gorm:"type:text;not null;index"`
	Data      string    `gorm:"type:text;not null"`
	MimeType  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (imageRow) TableName() string { return "message_images" }

type summaryRow struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// PostgresStore implements Store with gorm on PostgreSQL.
type PostgresStore struct {
	db     *gorm.DB
	clock  *clock
	logger *zap.Logger
}

func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, wrapErr("opening postgres", err)
	}
	if err := db.AutoMigrate(&conversationRow{}, &messageRow{}, &imageRow{}); err != nil {
		return nil, wrapErr("migrating schema", err)
	}

	logger.Info("Postgres store initialized")
	return &PostgresStore{db: db, clock: newClock(), logger: logger}, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, content string, images []models.ImageInput) (*models.Conversation, error) {
	now := s.clock.Now()
	conv := &models.Conversation{
		ID:        newID(),
		Title:     models.DeriveTitle(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	msg := newMessage(conv.ID, models.RoleUser, content, images, now)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := conversationRow{ID: conv.ID, Title: conv.Title, CreatedAt: conv.CreatedAt, UpdatedAt: conv.UpdatedAt}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("inserting conversation: %w", err)
		}
		return createMessageRow(tx, msg)
	})
	if err != nil {
		return nil, wrapErr("creating conversation", err)
	}

	conv.Messages = []models.Message{msg}
	s.logger.Debug("created conversation", zap.String("conversation_id", conv.ID))
	return conv, nil
}

func createMessageRow(tx *gorm.DB, msg models.Message) error {
	row := fromMessage(msg)
	images := row.Images
	row.Images = nil
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if len(images) > 0 {
		if err := tx.Create(&images).Error; err != nil {
			return fmt.Errorf("inserting message images: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Messages.Images", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying conversation", err)
	}
	return row.toModel()
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var rows []summaryRow
	err := s.db.WithContext(ctx).
		Table("conversations AS c").
		Select("c.id, c.title, c.created_at, c.updated_at, COUNT(m.id) AS message_count").
		Joins("LEFT JOIN messages AS m ON m.conversation_id = c.id").
		Group("c.id").
		Order("c.updated_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapErr("querying conversations", err)
	}

	out := make([]models.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ConversationSummary{
			ID:           r.ID,
			Title:        r.Title,
			CreatedAt:    r.CreatedAt.UTC(),
			UpdatedAt:    r.UpdatedAt.UTC(),
			MessageCount: r.MessageCount,
		})
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, images []models.ImageInput) (*models.Message, error) {
	if !role.Valid() {
		return nil, models.ErrInvalidRole
	}
	msg := newMessage(conversationID, role, content, images, s.clock.Now())

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&conversationRow{}).Where("id = ?", conversationID).Update("updated_at", msg.CreatedAt)
		if res.Error != nil {
			return fmt.Errorf("touching conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return createMessageRow(tx, msg)
	})
	if err != nil {
		return nil, wrapErr("appending message", err)
	}

	s.logger.Debug("appended message",
		zap.String("conversation_id", conversationID),
		zap.String("role", string(role)))
	return &msg, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&messageRow{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&imageRow{}).Error; err != nil {
			return fmt.Errorf("deleting message images: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&conversationRow{})
		if res.Error != nil {
			return fmt.Errorf("deleting conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return wrapErr("deleting conversation", err)
	}
	s.logger.Debug("deleted conversation", zap.String("conversation_id", id))
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrapErr("pinging database", err)
	}
	return wrapErr("pinging database", sqlDB.PingContext(ctx))
}

func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromMessage(msg models.Message) messageRow {
	row := messageRow{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
	for _, img := range msg.Images {
		row.Images = append(row.Images, imageRow{
			ID:        img.ID,
			MessageID: img.MessageID,
			Data:      img.Data,
			MimeType:  img.MimeType,
			CreatedAt: img.CreatedAt,
		})
	}
	return row
}

func (r conversationRow) toModel() (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        r.ID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Messages:  make([]models.Message, 0, len(r.Messages)),
	}
	for _, m := range r.Messages {
		role, err := models.ParseRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		msg := models.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Role:           role,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt.UTC(),
		}
		for _, img := range m.Images {
			msg.Images = append(msg.Images, models.MessageImage{
				ID:        img.ID,
				MessageID: img.MessageID,
				Data:      img.Data,
				MimeType:  img.MimeType,
				CreatedAt: img.CreatedAt.UTC(),
			})
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}
