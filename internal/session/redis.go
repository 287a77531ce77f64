package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vanakhel/server/internal/model"
)

type redisRepo struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRepo creates a Repo that stores one JSON record per user under
// "<prefix>:<user_id>". ttl of zero keeps records until logout.
func NewRedisRepo(client redis.UniversalClient, prefix string, ttl time.Duration) Repo {
	if prefix == "" {
		prefix = "session"
	}
	return &redisRepo{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisRepo) key(userID string) string {
	return r.prefix + ":" + userID
}

type redisRecord struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Save serializes and writes the record in a single SET.
func (r *redisRepo) Save(ctx context.Context, rec model.SessionRecord) error {
	encoded, err := json.Marshal(redisRecord(rec))
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rec.UserID), encoded, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// GetByUserID returns the user's session record, or ErrNotFound.
func (r *redisRepo) GetByUserID(ctx context.Context, userID string) (model.SessionRecord, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.SessionRecord{}, ErrNotFound
		}
		return model.SessionRecord{}, fmt.Errorf("load session record: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.SessionRecord{}, fmt.Errorf("decode session record: %w", err)
	}
	return model.SessionRecord(rec), nil
}

// Delete removes the user's session record.
func (r *redisRepo) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}
