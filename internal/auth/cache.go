package auth

import (
	"context"
	"sync"
	"time"
)

// UserCache is the short-TTL cache consulted by the middleware before
// falling back to the store. Entries never include the password hash.
// Population is idempotent, so implementations need no coordination
// beyond their own map locking; a stale entry is bounded by the TTL.
type UserCache interface {
	Get(ctx context.Context, username string) (User, bool)
	Set(ctx context.Context, user User)
	Invalidate(ctx context.Context, username string)
}

type memoryCacheEntry struct {
	user      User
	expiresAt time.Time
}

// MemoryCache is the default UserCache when no Redis address is
// configured. The map is bounded; once it grows past maxEntries a Set
// sweeps expired entries out.
type MemoryCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	entries    map[string]memoryCacheEntry
	maxEntries int
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &MemoryCache{
		ttl:        ttl,
		entries:    make(map[string]memoryCacheEntry),
		maxEntries: 10000,
	}
}

func (c *MemoryCache) Get(_ context.Context, username string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[username]
	if !ok {
		return User{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, username)
		return User{}, false
	}

	return entry.user, true
}

func (c *MemoryCache) Set(_ context.Context, user User) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[user.Username] = memoryCacheEntry{
		user:      user.Public(),
		expiresAt: now.Add(c.ttl),
	}

	if len(c.entries) > c.maxEntries {
		for key, entry := range c.entries {
			if now.After(entry.expiresAt) {
				delete(c.entries, key)
			}
		}
	}
}

func (c *MemoryCache) Invalidate(_ context.Context, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, username)
}
