package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/models"
)

const listCacheKey = "conversations:list"

func conversationCacheKey(id string) string {
	return "conversation:" + id
}

// generationKey counts the writes that invalidated key.
func generationKey(key string) string {
	return "gen:" + key
}

var errStaleFill = errors.New("cache key written during read")

// CachedStore serves conversation detail and the history list from Redis,
// falling back to the wrapped store on a miss or any Redis error. Writes go
// to the wrapped store first, then bump each affected key's generation and
// drop the key in one transaction. A miss only fills the cache if the key's
// generation did not change while the wrapped store was read, so a value read
// before a write is never cached after it.
type CachedStore struct {
	Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	return &CachedStore{Store: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func (s *CachedStore) CreateConversation(ctx context.Context, content string, images []models.ImageInput) (*models.Conversation, error) {
	conv, err := s.Store.CreateConversation(ctx, content, images)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, listCacheKey)
	return conv, nil
}

func (s *CachedStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if s.get(ctx, conversationCacheKey(id), &conv) {
		for i := range conv.Messages {
			conv.Messages[i].ConversationID = conv.ID
			for j := range conv.Messages[i].Images {
				conv.Messages[i].Images[j].MessageID = conv.Messages[i].ID
			}
		}
		return &conv, nil
	}

	key := conversationCacheKey(id)
	gen, ok := s.generation(ctx, key)
	fresh, err := s.Store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		s.fill(ctx, key, gen, fresh)
	}
	return fresh, nil
}

func (s *CachedStore) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var list []models.ConversationSummary
	if s.get(ctx, listCacheKey, &list) {
		return list, nil
	}

	gen, ok := s.generation(ctx, listCacheKey)
	fresh, err := s.Store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		s.fill(ctx, listCacheKey, gen, fresh)
	}
	return fresh, nil
}

func (s *CachedStore) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, images []models.ImageInput) (*models.Message, error) {
	msg, err := s.Store.AppendMessage(ctx, conversationID, role, content, images)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, listCacheKey, conversationCacheKey(conversationID))
	return msg, nil
}

func (s *CachedStore) DeleteConversation(ctx context.Context, id string) error {
	if err := s.Store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, listCacheKey, conversationCacheKey(id))
	return nil
}

func (s *CachedStore) Close() error {
	return multierr.Append(s.Store.Close(), s.rdb.Close())
}

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		s.invalidate(ctx, key)
		return false
	}
	return true
}

// generation returns key's write generation ("" before the first write).
// ok is false when Redis cannot be read; the caller then skips the fill.
func (s *CachedStore) generation(ctx context.Context, key string) (gen string, ok bool) {
	gen, err := s.rdb.Get(ctx, generationKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", true
	}
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", generationKey(key)), zap.Error(err))
		return "", false
	}
	return gen, true
}

// fill caches v under key unless key's generation is no longer gen.
func (s *CachedStore) fill(ctx context.Context, key, gen string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}

	genKey := generationKey(key)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		s.logger.Debug("skipping cache fill after concurrent write", zap.String("key", key))
	default:
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, generationKey(key))
			if s.ttl > 0 {
				pipe.Expire(ctx, generationKey(key), 2*s.ttl)
			}
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		s.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
