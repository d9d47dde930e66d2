package cascadesync

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/lox/cascadeslots/internal/engine"
)

// ResultSource resolves a spin id to its authoritative result.
type ResultSource interface {
	Result(spinID string) (*engine.SpinResult, bool)
}

type cacheEntry struct {
	result  *engine.SpinResult
	expires time.Time
}

// ResultCache is an in-memory ResultSource with a fixed retention window.
type ResultCache struct {
	clock quartz.Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewResultCache keeps results for ttl after registration.
func NewResultCache(clock quartz.Clock, ttl time.Duration) *ResultCache {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &ResultCache{clock: clock, ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Register stores res under its spin id.
func (c *ResultCache) Register(res *engine.SpinResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[res.SpinID] = cacheEntry{result: res, expires: c.clock.Now().Add(c.ttl)}
}

// Result implements ResultSource.
func (c *ResultCache) Result(spinID string) (*engine.SpinResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[spinID]
	c.mu.RUnlock()
	if !ok || c.clock.Now().After(e.expires) {
		return nil, false
	}
	return e.result, true
}

// Sweep drops expired results and returns how many it removed.
func (c *ResultCache) Sweep() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
