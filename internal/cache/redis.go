package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"roomcast/internal/session"
	"time"
)

type RedisSessionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSessionCache(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionCache {
	return &RedisSessionCache{client: client, prefix: prefix, ttl: ttl}
}

func (r RedisSessionCache) SetSession(ctx context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	return r.client.Set(ctx, r.key(s.ID), data, r.ttl).Err()
}

func (r RedisSessionCache) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (r RedisSessionCache) key(sessionID string) string {
	return fmt.Sprintf("%ssession:%s", r.prefix, sessionID)
}
