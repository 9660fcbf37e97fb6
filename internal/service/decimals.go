package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
)

// FallbackDecimals is used for any token whose decimals cannot be resolved.
const FallbackDecimals = 18

// TokenMetadataSource looks up token decimals upstream.
type TokenMetadataSource interface {
	GetTokenDecimals(ctx context.Context, identifier string) (int, error)
}

// DecimalsResolver resolves token decimals from, in order, the native
// currency, a static table, the process cache, an optional shared cache and
// one upstream lookup. A failed lookup caches FallbackDecimals for the
// lifetime of the process cache and is never retried. A caller whose ctx ends
// first gets FallbackDecimals uncached while the shared lookup carries on.
type DecimalsResolver struct {
	source  TokenMetadataSource
	known   map[string]int
	local   domain.DecimalsCache
	shared  domain.DecimalsCache
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewDecimalsResolver creates a DecimalsResolver. shared may be nil.
func NewDecimalsResolver(
	source TokenMetadataSource,
	known map[string]int,
	local domain.DecimalsCache,
	shared domain.DecimalsCache,
	timeout time.Duration,
	logger *slog.Logger,
) *DecimalsResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DecimalsResolver{
		source:  source,
		known:   known,
		local:   local,
		shared:  shared,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "decimals_resolver")),
	}
}

// Resolve returns the display decimals of identifier. It never fails.
func (r *DecimalsResolver) Resolve(ctx context.Context, identifier string) int {
	if identifier == "" || strings.EqualFold(identifier, domain.NativeCurrency) {
		return domain.NativeDecimals
	}
	collection := codec.CollectionOf(identifier)

	if d, ok := r.known[collection]; ok {
		return d
	}
	if d, ok := r.local.Get(ctx, collection); ok {
		return d
	}
	if r.shared != nil {
		if d, ok := r.shared.Get(ctx, collection); ok {
			_ = r.local.Set(ctx, collection, d)
			return d
		}
	}

	if ctx.Err() != nil {
		return FallbackDecimals
	}

	// The lookup is shared by every concurrent caller, so it must not end
	// with whichever request started it.
	ch := r.group.DoChan(collection, func() (any, error) {
		return r.lookup(context.WithoutCancel(ctx), collection), nil
	})
	select {
	case res := <-ch:
		return res.Val.(int)
	case <-ctx.Done():
		return FallbackDecimals
	}
}

func (r *DecimalsResolver) lookup(ctx context.Context, collection string) int {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	d, err := r.source.GetTokenDecimals(lookupCtx, collection)
	if err != nil || d < 0 {
		msg := "negative decimals"
		if err != nil {
			msg = err.Error()
		}
		r.logger.WarnContext(ctx, "token decimals lookup failed, using fallback",
			slog.String("token", collection),
			slog.Int("fallback", FallbackDecimals),
			slog.String("error", msg),
		)
		_ = r.local.Set(ctx, collection, FallbackDecimals)
		return FallbackDecimals
	}

	_ = r.local.Set(ctx, collection, d)
	if r.shared != nil {
		if err := r.shared.Set(ctx, collection, d); err != nil {
			r.logger.DebugContext(ctx, "shared decimals cache write failed",
				slog.String("token", collection),
				slog.String("error", err.Error()),
			)
		}
	}
	return d
}
