// Package cache memoizes synthesized audio by request key.
package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loqalabs/loqa-speak/internal/session"
)

const DefaultSize = 256

// Cache is a bounded key to artifact map that can be switched off. Stored and
// returned artifacts are copies, so holders never share bytes.
type Cache struct {
	mu      sync.RWMutex
	enabled bool
	entries *lru.Cache[string, *session.Artifact]
}

// New creates a cache holding up to size artifacts.
func New(size int, enabled bool) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *session.Artifact](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache{enabled: enabled, entries: entries}, nil
}

// Lookup returns a copy of the artifact stored under key.
func (c *Cache) Lookup(key string) (*session.Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.enabled {
		return nil, false
	}
	artifact, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return artifact.Clone(), true
}

// Store keeps a copy of artifact under key, replacing any previous value.
func (c *Cache) Store(key string, artifact *session.Artifact) {
	if artifact == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.enabled {
		return
	}
	c.entries.Add(key, artifact.Clone())
}

// Clear drops every entry and reports how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.entries.Len()
	c.entries.Purge()
	return n
}

// SetEnabled switches the cache; disabling also clears it.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.entries.Purge()
	}
}

// Enabled reports whether Lookup and Store are active.
func (c *Cache) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Len is the number of cached artifacts.
func (c *Cache) Len() int {
	return c.entries.Len()
}
