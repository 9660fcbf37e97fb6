package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/egldtax/internal/platform/multiversx"
	"github.com/alanyoungcy/egldtax/internal/retry"
)

// Upstream paging defaults. The explorer refuses windows past from+size of
// 10000.
const (
	DefaultPageSize  = 50
	DefaultMaxOffset = 10000
)

// ProgressFunc receives human-readable milestones of a fetch.
type ProgressFunc func(message string)

// PagingConfig controls how account history windows are paged.
type PagingConfig struct {
	PageSize  int
	MaxOffset int
	PageDelay time.Duration
	Retry     retry.Policy
}

func (c PagingConfig) withDefaults() PagingConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxOffset <= 0 {
		c.MaxOffset = DefaultMaxOffset
	}
	if c.PageSize > c.MaxOffset {
		c.PageSize = c.MaxOffset
	}
	if c.Retry.IsRetryable == nil {
		c.Retry.IsRetryable = multiversx.IsTransient
	}
	return c
}

// newPageLimiter spaces page requests by delay. A zero delay disables pacing.
func newPageLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// pageFunc fetches one page and returns the number of raw items it held.
type pageFunc func(ctx context.Context, q multiversx.PageQuery) (int, error)

// pageWindow pages through one [after, before] window until a short page or
// the offset ceiling. It reports whether the ceiling cut off a full page.
func pageWindow(
	ctx context.Context,
	cfg PagingConfig,
	limiter *rate.Limiter,
	after, before time.Time,
	fetch pageFunc,
	onPage func(offset, n int),
) (bool, error) {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := limiter.Wait(ctx); err != nil {
			return false, err
		}

		// The last page shrinks so from+size never passes the ceiling.
		size := min(cfg.PageSize, cfg.MaxOffset-offset)
		q := multiversx.PageQuery{After: after, Before: before, From: offset, Size: size}
		n, err := retry.Do(ctx, cfg.Retry, func(ctx context.Context) (int, error) {
			return fetch(ctx, q)
		})
		if err != nil {
			return false, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		if onPage != nil {
			onPage(offset, n)
		}

		if n < size {
			return false, nil
		}

		offset += size
		if offset >= cfg.MaxOffset {
			return true, nil
		}
	}
}

// dayWindows splits [from, to] into consecutive calendar-day windows with
// inclusive second bounds.
func dayWindows(from, to time.Time) [][2]time.Time {
	if to.Before(from) {
		return nil
	}
	var out [][2]time.Time
	start := from
	for !start.After(to) {
		dayEnd := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location()).
			Add(24*time.Hour - time.Second)
		end := dayEnd
		if end.After(to) {
			end = to
		}
		out = append(out, [2]time.Time{start, end})
		start = end.Add(time.Second)
	}
	return out
}

func logTruncation(ctx context.Context, logger *slog.Logger, kind, wallet string, after, before time.Time, maxOffset int) {
	logger.WarnContext(ctx, "pagination ceiling reached, results truncated",
		slog.String("kind", kind),
		slog.String("wallet", wallet),
		slog.Time("after", after),
		slog.Time("before", before),
		slog.Int("max_offset", maxOffset),
	)
}
