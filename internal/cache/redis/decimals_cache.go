package redis

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// DecimalsCache shares resolved token decimals between instances. Only
// values confirmed upstream are written here; fallbacks stay process-local.
//
// Key schema:
//
//	token:decimals - hash of identifier -> decimals
type DecimalsCache struct {
	c *Client
}

// NewDecimalsCache creates a DecimalsCache backed by the given Client.
func NewDecimalsCache(c *Client) *DecimalsCache {
	return &DecimalsCache{c: c}
}

func (dc *DecimalsCache) key() string { return dc.c.Key("token:decimals") }

// Get returns the shared decimals of identifier. Errors count as a miss.
func (dc *DecimalsCache) Get(ctx context.Context, identifier string) (int, bool) {
	d, err := dc.c.rdb.HGet(ctx, dc.key(), identifier).Int()
	if err != nil {
		return 0, false
	}
	return d, true
}

// Set records decimals for identifier unless another instance did first.
func (dc *DecimalsCache) Set(ctx context.Context, identifier string, decimals int) error {
	if err := dc.c.rdb.HSetNX(ctx, dc.key(), identifier, decimals).Err(); err != nil {
		return fmt.Errorf("redis: set decimals %s: %w", identifier, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DecimalsCache = (*DecimalsCache)(nil)
