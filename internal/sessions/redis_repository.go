package sessions

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyhinverse/YiBu-sub004/internal/models"
)

// RedisRepository implements Repository using Redis lists as the backing store.
// The token sequence lives under key "tokens:<userId>"; RPUSH+LTRIM keep the
// append-with-cap atomic inside a pipeline.
type RedisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRepository creates a Redis-based token record repository. Prefix may
// be empty; ttl bounds how long an untouched record survives.
func NewRedisRepository(client *redis.Client, prefix string, ttl time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "tokens:"
	}
	return &RedisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRepository) key(userID string) string {
	return r.prefix + userID
}

func (r *RedisRepository) Replace(ctx context.Context, userID, token string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(userID))
	pipe.RPush(ctx, r.key(userID), token)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key(userID), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) Get(ctx context.Context, userID string) (*models.RefreshTokenRecord, error) {
	vals, err := r.client.LRange(ctx, r.key(userID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return &models.RefreshTokenRecord{UserID: userID, Tokens: vals}, nil
}

func (r *RedisRepository) Append(ctx context.Context, userID, token string, cap int) error {
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.key(userID), token)
	pipe.LTrim(ctx, r.key(userID), int64(-cap), -1)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key(userID), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) DeleteAll(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}
