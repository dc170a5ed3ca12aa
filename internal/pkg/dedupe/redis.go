package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper claims event ids with SET NX so that every replica of the
// server shares one view of what has been forwarded.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper backed by Redis.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func key(eventID string) string {
	return fmt.Sprintf("capi:event:%s", eventID)
}

// Seen claims eventID and reports whether it was already claimed.
func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	wasSet, err := d.client.SetNX(ctx, key(eventID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: setnx %s: %w", eventID, err)
	}
	return !wasSet, nil
}

// Release forgets eventID so a later attempt may claim it again.
func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	if err := d.client.Del(ctx, key(eventID)).Err(); err != nil {
		return fmt.Errorf("dedupe: release %s: %w", eventID, err)
	}
	return nil
}
