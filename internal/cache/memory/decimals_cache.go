// Package memory holds process-local cache implementations.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// DecimalsCache is a write-once token decimals map safe for concurrent use.
// The first value stored for a token wins for the life of the process.
type DecimalsCache struct {
	mu     sync.RWMutex
	values map[string]int
}

// NewDecimalsCache creates an empty DecimalsCache.
func NewDecimalsCache() *DecimalsCache {
	return &DecimalsCache{values: make(map[string]int)}
}

func (c *DecimalsCache) Get(_ context.Context, identifier string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.values[identifier]
	return d, ok
}

func (c *DecimalsCache) Set(_ context.Context, identifier string, decimals int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[identifier]; !ok {
		c.values[identifier] = decimals
	}
	return nil
}

// Len returns the number of cached tokens.
func (c *DecimalsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

var _ domain.DecimalsCache = (*DecimalsCache)(nil)
