package domain

import (
	"context"
	"time"
)

// DecimalsCache maps a token identifier to its display decimals.
type DecimalsCache interface {
	Get(ctx context.Context, identifier string) (int, bool)
	Set(ctx context.Context, identifier string, decimals int) error
}

// ReportCache keeps finished reports for a limited time so repeated requests
// for the same wallet and range skip the upstream.
type ReportCache interface {
	Get(ctx context.Context, key string) (Report, error)
	Set(ctx context.Context, key string, report Report, ttl time.Duration) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out between service instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
}

// BusMessage is one message received from a SignalBus subscription.
type BusMessage struct {
	Channel string
	Payload []byte
}
