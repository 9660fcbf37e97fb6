package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrLockHeld            = errors.New("lock already held")
	ErrCacheMiss           = errors.New("cache miss")
)
