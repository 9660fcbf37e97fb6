package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// ReportCache keeps serialized reports with a TTL. It is the remote tier of
// the tiered report cache and also usable on its own.
//
// Key schema:
//
//	{cache key} - string holding the JSON report
type ReportCache struct {
	c *Client
}

// NewReportCache creates a ReportCache backed by the given Client.
func NewReportCache(c *Client) *ReportCache {
	return &ReportCache{c: c}
}

// GetBytes returns the raw cached value. A missing key yields
// domain.ErrCacheMiss.
func (rc *ReportCache) GetBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := rc.c.rdb.Get(ctx, rc.c.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

// SetBytes stores a raw value with the given TTL.
func (rc *ReportCache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rc.c.rdb.Set(ctx, rc.c.Key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Get implements domain.ReportCache.
func (rc *ReportCache) Get(ctx context.Context, key string) (domain.Report, error) {
	data, err := rc.GetBytes(ctx, key)
	if err != nil {
		return domain.Report{}, err
	}
	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return domain.Report{}, fmt.Errorf("redis: unmarshal report %s: %w", key, err)
	}
	return report, nil
}

// Set implements domain.ReportCache.
func (rc *ReportCache) Set(ctx context.Context, key string, report domain.Report, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("redis: marshal report %s: %w", key, err)
	}
	return rc.SetBytes(ctx, key, data, ttl)
}

// Compile-time interface check.
var _ domain.ReportCache = (*ReportCache)(nil)
