package snmp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SessionCache is the idle-session registry: sessions keyed by
// (address, community, high-counters?), a mutex-guarded lookup table
// mutated only through methods, never directly.
// A singleflight.Group collapses concurrent opens for the
// same key so two goroutines racing to poll the same device don't each
// pay session-setup cost.
type SessionCache struct {
	mu       sync.Mutex
	sessions map[CacheKey]Client
	factory  Factory
	group    singleflight.Group
}

// NewSessionCache creates a cache that opens new sessions via factory.
func NewSessionCache(factory Factory) *SessionCache {
	return &SessionCache{
		sessions: make(map[CacheKey]Client),
		factory:  factory,
	}
}

// Acquire returns a cached session for p's key, opening one via the
// factory if none is cached (collapsing concurrent opens for the same
// key via singleflight).
func (c *SessionCache) Acquire(ctx context.Context, p SessionParams) (Client, error) {
	key := KeyFor(p)

	c.mu.Lock()
	if cl, ok := c.sessions[key]; ok {
		c.mu.Unlock()
		return cl, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(fmt.Sprintf("%s|%s|%t", key.Address, key.Community, key.HighCounters), func() (any, error) {
		cl, openErr := c.factory.Open(ctx, p)
		if openErr != nil {
			return nil, openErr
		}
		c.mu.Lock()
		c.sessions[key] = cl
		c.mu.Unlock()
		return cl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

// Release evicts and closes the cached session for key, if any. Callers
// use this when a session appears broken and must be reopened on next
// use rather than reused.
func (c *SessionCache) Release(key CacheKey) error {
	c.mu.Lock()
	cl, ok := c.sessions[key]
	delete(c.sessions, key)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return cl.Close()
}

// CloseAll closes every cached session, used during shutdown.
func (c *SessionCache) CloseAll() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[CacheKey]Client)
	c.mu.Unlock()

	var firstErr error
	for _, cl := range sessions {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
