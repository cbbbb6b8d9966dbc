// Package distance resolves travel-time minutes between address keys.
package distance

import (
	"fmt"
	"sync"
)

// Key builds the cache key for a directed edge.
func Key(from, to string) string {
	return fmt.Sprintf("%s->%s", from, to)
}

// Cache is a run-scoped travel-time cache. A missing entry means the edge is
// unknown, never that travel is free. Caches are built fresh per run and
// discarded with it.
type Cache struct {
	mu    sync.RWMutex
	edges map[string]int
}

func NewCache() *Cache {
	return &Cache{edges: map[string]int{}}
}

// Get returns the minutes for from->to and whether the edge is known.
func (c *Cache) Get(from, to string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.edges[Key(from, to)]
	return m, ok
}

// Put records one edge.
func (c *Cache) Put(from, to string, minutes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edges[Key(from, to)] = minutes
}

// Merge copies a provider result batch into the cache.
func (c *Cache) Merge(edges map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range edges {
		c.edges[k] = v
	}
}

// Len reports the number of known edges.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.edges)
}
