package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// package-level Redis client used for the access-token blacklist (optional)
var blacklistClient *redis.Client

// SetBlacklistClient configures the Redis client used for blacklist operations.
// Safe to call with nil to disable revocation checks.
func SetBlacklistClient(c *redis.Client) {
	blacklistClient = c
}

// blacklistKey hashes the token so raw JWTs never land in Redis keys.
func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "revoked:access:" + hex.EncodeToString(sum[:])
}

// BlacklistAccessToken marks an access token revoked until its TTL elapses.
// Without a configured Redis client this is a no-op.
func BlacklistAccessToken(ctx context.Context, token string, ttl time.Duration) error {
	if blacklistClient == nil {
		return nil
	}
	return blacklistClient.Set(ctx, blacklistKey(token), "1", ttl).Err()
}

// IsAccessTokenBlacklisted reports whether the token has been revoked.
// Without a configured Redis client it always returns (false, nil).
func IsAccessTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	if blacklistClient == nil {
		return false, nil
	}
	exists, err := blacklistClient.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
