// Package cache combines a process-local cache with an optional shared tier.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// RemoteCache is a shared byte cache such as Redis.
type RemoteCache interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type cachedValue struct {
	Version int           `json:"i"`
	Timeout int64         `json:"t"`
	Value   domain.Report `json:"v"`
}

// TieredReportCache keeps finished reports in a freecache local tier in
// front of an optional remote tier. Remote hits are copied into the local
// tier for their remaining lifetime.
type TieredReportCache struct {
	local  *freecache.Cache
	remote RemoteCache
}

// NewTieredReportCache creates a cache with sizeMB of local memory. remote
// may be nil.
func NewTieredReportCache(sizeMB int, remote RemoteCache) *TieredReportCache {
	if sizeMB <= 0 {
		sizeMB = 64
	}
	return &TieredReportCache{
		local:  freecache.NewCache(sizeMB * 1024 * 1024),
		remote: remote,
	}
}

// Get returns the cached report or domain.ErrCacheMiss.
func (c *TieredReportCache) Get(ctx context.Context, key string) (domain.Report, error) {
	var cv cachedValue
	if data, err := c.local.Get([]byte(key)); err == nil {
		if err := json.Unmarshal(data, &cv); err != nil {
			return domain.Report{}, fmt.Errorf("cache: unmarshal %s: %w", key, err)
		}
		return cv.Value, nil
	}

	if c.remote == nil {
		return domain.Report{}, domain.ErrCacheMiss
	}

	data, err := c.remote.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return domain.Report{}, domain.ErrCacheMiss
		}
		return domain.Report{}, fmt.Errorf("cache: remote get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &cv); err != nil {
		return domain.Report{}, fmt.Errorf("cache: unmarshal %s: %w", key, err)
	}

	now := time.Now().Unix()
	if cv.Timeout == 0 {
		_ = c.local.Set([]byte(key), data, 0)
	} else if remaining := cv.Timeout - now; remaining > 2 {
		_ = c.local.Set([]byte(key), data, int(remaining))
	}
	return cv.Value, nil
}

// Set stores report in both tiers.
func (c *TieredReportCache) Set(ctx context.Context, key string, report domain.Report, ttl time.Duration) error {
	cv := cachedValue{Version: 1, Value: report}
	if ttl > 0 {
		cv.Timeout = time.Now().Add(ttl).Unix()
	}
	data, err := json.Marshal(cv)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}

	// freecache rejects entries above 1/1024 of its size; large reports
	// then live in the remote tier only.
	localErr := c.local.Set([]byte(key), data, int(ttl.Seconds()))
	if c.remote != nil {
		if err := c.remote.SetBytes(ctx, key, data, ttl); err != nil {
			return fmt.Errorf("cache: remote set %s: %w", key, err)
		}
		return nil
	}
	if localErr != nil {
		return fmt.Errorf("cache: local set %s: %w", key, localErr)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ReportCache = (*TieredReportCache)(nil)
