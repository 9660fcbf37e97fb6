package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/platform/multiversx"
)

// TransferSource lists an account's transfers page by page.
type TransferSource interface {
	GetTransfers(ctx context.Context, address string, q multiversx.PageQuery) (multiversx.TransferPage, error)
}

// TransferResult is the outcome of a transfer fetch. TruncatedDays
// lists the day windows that hit the offset ceiling.
type TransferResult struct {
	Transfers     []domain.RawTransfer
	Truncated     bool
	TruncatedDays []time.Time
}

// TransferFetcher collects every transfer of a wallet in a time range, one
// calendar day at a time so each window stays under the offset ceiling.
type TransferFetcher struct {
	source TransferSource
	cfg    PagingConfig
	logger *slog.Logger
}

// NewTransferFetcher creates a new TransferFetcher.
func NewTransferFetcher(source TransferSource, cfg PagingConfig, logger *slog.Logger) *TransferFetcher {
	return &TransferFetcher{
		source: source,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "transfer_fetcher")),
	}
}

// Fetch pages through every day window of [from, to].
func (f *TransferFetcher) Fetch(ctx context.Context, wallet string, from, to time.Time, progress ProgressFunc) (TransferResult, error) {
	var res TransferResult
	limiter := newPageLimiter(f.cfg.PageDelay)
	windows := dayWindows(from, to)

	for i, w := range windows {
		fetch := func(ctx context.Context, q multiversx.PageQuery) (int, error) {
			page, err := f.source.GetTransfers(ctx, wallet, q)
			if err != nil {
				return 0, err
			}
			res.Transfers = append(res.Transfers, page.Transfers...)
			return page.Items, nil
		}

		truncated, err := pageWindow(ctx, f.cfg, limiter, w[0], w[1], fetch, nil)
		if err != nil {
			return TransferResult{}, fmt.Errorf("pipeline: fetch transfers for %s: %w", w[0].Format(time.DateOnly), err)
		}
		if truncated {
			res.Truncated = true
			res.TruncatedDays = append(res.TruncatedDays, w[0])
			logTruncation(ctx, f.logger, "transfers", wallet, w[0], w[1], f.cfg.MaxOffset)
		}

		if progress != nil {
			progress(fmt.Sprintf("Fetched transfers for day %d/%d (%d total)", i+1, len(windows), len(res.Transfers)))
		}
	}

	f.logger.InfoContext(ctx, "transfers fetched",
		slog.String("wallet", wallet),
		slog.Int("days", len(windows)),
		slog.Int("count", len(res.Transfers)),
		slog.Bool("truncated", res.Truncated),
	)
	return res, nil
}
