// Package dedupe guards the server-side delivery channel against forwarding
// the same event id twice.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper reports whether an event id has already been claimed.
// The first caller for a given id gets false; every later caller within
// the TTL gets true. Release drops a claim whose delivery never reached the
// platform.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// New returns a Redis-backed deduper when redisClient is non-nil and an
// in-process one otherwise.
func New(redisClient *redis.Client, ttl time.Duration) Deduper {
	if redisClient != nil {
		return NewRedisDeduper(redisClient, ttl)
	}
	return NewMemoryDeduper(ttl)
}

// MemoryDeduper is a single-process Deduper. Expired ids are swept lazily.
type MemoryDeduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	seen  map[string]time.Time
	now   func() time.Time
	sweep time.Time
}

// NewMemoryDeduper creates an in-process deduper.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Seen claims eventID and reports whether it was already claimed.
func (d *MemoryDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.sweep) > d.ttl {
		for id, exp := range d.seen {
			if now.After(exp) {
				delete(d.seen, id)
			}
		}
		d.sweep = now
	}

	if exp, ok := d.seen[eventID]; ok && now.Before(exp) {
		return true, nil
	}
	d.seen[eventID] = now.Add(d.ttl)
	return false, nil
}

// Release forgets eventID.
func (d *MemoryDeduper) Release(_ context.Context, eventID string) error {
	d.mu.Lock()
	delete(d.seen, eventID)
	d.mu.Unlock()
	return nil
}
