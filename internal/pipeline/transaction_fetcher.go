package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/platform/multiversx"
)

// TransactionSource lists an account's transactions page by page.
type TransactionSource interface {
	GetTransactions(ctx context.Context, address string, q multiversx.PageQuery) ([]domain.RawTransaction, error)
}

// TransactionResult is the outcome of a transaction fetch.
type TransactionResult struct {
	Transactions []domain.RawTransaction
	Truncated    bool
}

// TransactionFetcher collects every transaction of a wallet in a time range.
type TransactionFetcher struct {
	source TransactionSource
	cfg    PagingConfig
	logger *slog.Logger
}

// NewTransactionFetcher creates a new TransactionFetcher.
func NewTransactionFetcher(source TransactionSource, cfg PagingConfig, logger *slog.Logger) *TransactionFetcher {
	return &TransactionFetcher{
		source: source,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "transaction_fetcher")),
	}
}

// Fetch pages through [from, to] in ascending order. Transactions repeated
// across pages are kept once.
func (f *TransactionFetcher) Fetch(ctx context.Context, wallet string, from, to time.Time, progress ProgressFunc) (TransactionResult, error) {
	var res TransactionResult
	seen := make(map[string]struct{})
	limiter := newPageLimiter(f.cfg.PageDelay)

	page := 0
	fetch := func(ctx context.Context, q multiversx.PageQuery) (int, error) {
		txs, err := f.source.GetTransactions(ctx, wallet, q)
		if err != nil {
			return 0, err
		}
		for _, tx := range txs {
			if _, dup := seen[tx.Hash]; dup {
				continue
			}
			seen[tx.Hash] = struct{}{}
			res.Transactions = append(res.Transactions, tx)
		}
		return len(txs), nil
	}
	onPage := func(offset, n int) {
		page++
		f.logger.DebugContext(ctx, "fetched transactions page",
			slog.Int("page", page),
			slog.Int("offset", offset),
			slog.Int("items", n),
		)
		if progress != nil {
			progress(fmt.Sprintf("Fetched transactions page %d (%d total)", page, len(res.Transactions)))
		}
	}

	truncated, err := pageWindow(ctx, f.cfg, limiter, from, to, fetch, onPage)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("pipeline: fetch transactions: %w", err)
	}
	if truncated {
		res.Truncated = true
		logTruncation(ctx, f.logger, "transactions", wallet, from, to, f.cfg.MaxOffset)
	}

	f.logger.InfoContext(ctx, "transactions fetched",
		slog.String("wallet", wallet),
		slog.Int("count", len(res.Transactions)),
		slog.Bool("truncated", res.Truncated),
	)
	return res, nil
}
