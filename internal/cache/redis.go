// Package cache provides the Redis-backed implementation of
// auth.UserCache, used when REDIS_ADDR is configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"contacts-api/internal/auth"
	"contacts-api/internal/observability"
)

// cachedUser is the persisted snapshot. The password hash is never
// written to Redis.
type cachedUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	AvatarURL string    `json:"avatar"`
	Confirmed bool      `json:"confirmed"`
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

func NewRedis(ctx context.Context, addr string, ttl time.Duration, logger *observability.Logger) (*Redis, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

func (c *Redis) Get(ctx context.Context, username string) (auth.User, bool) {
	data, err := c.client.Get(ctx, userKey(username)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("user_cache_get_failed", map[string]any{"error": err.Error()})
		}
		return auth.User{}, false
	}

	var snapshot cachedUser
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		c.logger.Warn("user_cache_decode_failed", map[string]any{"error": err.Error()})
		return auth.User{}, false
	}

	return auth.User{
		ID:        snapshot.ID,
		Username:  snapshot.Username,
		Email:     snapshot.Email,
		Role:      snapshot.Role,
		AvatarURL: snapshot.AvatarURL,
		Confirmed: snapshot.Confirmed,
	}, true
}

func (c *Redis) Set(ctx context.Context, user auth.User) {
	data, err := json.Marshal(cachedUser{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		AvatarURL: user.AvatarURL,
		Confirmed: user.Confirmed,
	})
	if err != nil {
		c.logger.Warn("user_cache_encode_failed", map[string]any{"error": err.Error()})
		return
	}

	if err := c.client.Set(ctx, userKey(user.Username), data, c.ttl).Err(); err != nil {
		c.logger.Warn("user_cache_set_failed", map[string]any{"error": err.Error()})
	}
}

func (c *Redis) Invalidate(ctx context.Context, username string) {
	if err := c.client.Del(ctx, userKey(username)).Err(); err != nil {
		c.logger.Warn("user_cache_invalidate_failed", map[string]any{"error": err.Error()})
	}
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func userKey(username string) string {
	return "user:" + username
}
