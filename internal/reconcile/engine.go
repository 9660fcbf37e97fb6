package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/retry"
)

// DetailSource fetches the execution detail of one transaction.
type DetailSource interface {
	GetTransactionDetail(ctx context.Context, hash string) (domain.TransactionDetail, error)
}

// DecimalsResolver maps a token identifier to its display decimals. It never
// fails.
type DecimalsResolver interface {
	Resolve(ctx context.Context, identifier string) int
}

// Config holds the call-shaping and pacing rules of the Engine.
type Config struct {
	RewardFunctions []string
	RewardTokens    []string
	LPPattern       string
	WrappedToken    string
	DetailDelay     time.Duration
	Retry           retry.Policy
}

// Engine reconciles relevant transactions into tax rows.
type Engine struct {
	details    DetailSource
	decimals   DecimalsResolver
	extractors []Extractor
	shaper     *shaper
	limiter    *rate.Limiter
	retry      retry.Policy
	logger     *slog.Logger
}

// NewEngine creates an Engine using DefaultExtractors.
func NewEngine(details DetailSource, decimals DecimalsResolver, cfg Config, logger *slog.Logger) (*Engine, error) {
	var lp *regexp.Regexp
	if cfg.LPPattern != "" {
		re, err := regexp.Compile(cfg.LPPattern)
		if err != nil {
			return nil, fmt.Errorf("reconcile: compile lp pattern: %w", err)
		}
		lp = re
	}

	limit := rate.Inf
	if cfg.DetailDelay > 0 {
		limit = rate.Every(cfg.DetailDelay)
	}

	if cfg.Retry.IsRetryable == nil {
		cfg.Retry.IsRetryable = func(err error) bool { return !errors.Is(err, domain.ErrNotFound) }
	}

	e := &Engine{
		details:    details,
		decimals:   decimals,
		extractors: DefaultExtractors(),
		limiter:    rate.NewLimiter(limit, 1),
		retry:      cfg.Retry,
		logger:     logger.With(slog.String("component", "reconcile_engine")),
	}
	e.shaper = &shaper{
		rewardFunctions: lowerSet(cfg.RewardFunctions),
		rewardTokens:    exactSet(cfg.RewardTokens),
		lpPattern:       lp,
		wrappedToken:    cfg.WrappedToken,
	}
	return e, nil
}

// Reconcile derives the rows of one transaction. Only a failure to fetch the
// transaction detail after retries is returned as an error.
func (e *Engine) Reconcile(ctx context.Context, wallet codec.Wallet, tx domain.RawTransaction, transfers []domain.RawTransfer) ([]domain.TaxRow, error) {
	in := Input{Tx: tx, Transfers: transfers, Wallet: wallet}
	scaled := func(l domain.Leg) decimal.Decimal { return e.scale(ctx, l) }

	var legs []domain.Leg
	detailTried := false
	for _, ex := range e.extractors {
		if ex.NeedsDetail() && !detailTried {
			detailTried = true
			detail, err := e.fetchDetail(ctx, tx.Hash)
			if err != nil {
				return nil, err
			}
			in.Detail = detail
		}

		source := ex.Name()
		in.Skip = func(reason string) {
			e.logger.DebugContext(ctx, "record skipped",
				slog.String("tx_hash", tx.Hash),
				slog.String("source", source),
				slog.String("reason", reason),
			)
		}
		found := ex.Attempt(in)
		if len(found) == 0 {
			continue
		}
		legs = e.shaper.shape(tx, found, scaled)
		if len(legs) > 0 {
			e.logger.DebugContext(ctx, "legs found",
				slog.String("tx_hash", tx.Hash),
				slog.String("source", ex.Name()),
				slog.Int("legs", len(legs)),
			)
			break
		}
	}
	if len(legs) == 0 {
		legs = e.shaper.shape(tx, nil, scaled)
	}

	return e.buildRows(ctx, tx, legs), nil
}

// fetchDetail loads the transaction detail, paced and retried. A detail the
// explorer does not know is treated as empty.
func (e *Engine) fetchDetail(ctx context.Context, hash string) (*domain.TransactionDetail, error) {
	if e.details == nil {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	detail, err := retry.Do(ctx, e.retry, func(ctx context.Context) (domain.TransactionDetail, error) {
		return e.details.GetTransactionDetail(ctx, hash)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "transaction detail not found", slog.String("tx_hash", hash))
			return nil, nil
		}
		return nil, fmt.Errorf("reconcile: fetch detail %s: %w", hash, err)
	}
	return &detail, nil
}

// buildRows pairs inbound and outbound legs by position. The fee goes on the
// first row only.
func (e *Engine) buildRows(ctx context.Context, tx domain.RawTransaction, legs []domain.Leg) []domain.TaxRow {
	fee := decimal.NewFromBigInt(codec.ParseAmount(tx.Fee), -domain.NativeDecimals).String()

	var ins, outs []domain.Leg
	for _, l := range legs {
		if l.Direction == domain.DirectionIn {
			ins = append(ins, l)
		} else {
			outs = append(outs, l)
		}
	}

	n := max(len(ins), len(outs))
	if n == 0 {
		return []domain.TaxRow{{
			Timestamp:   tx.Timestamp,
			Function:    tx.Function,
			InAmount:    "0",
			InCurrency:  domain.NativeCurrency,
			OutAmount:   "0",
			OutCurrency: domain.NativeCurrency,
			Fee:         fee,
			TxHash:      tx.Hash,
		}}
	}

	rows := make([]domain.TaxRow, 0, n)
	for i := 0; i < n; i++ {
		row := domain.TaxRow{
			Timestamp:   tx.Timestamp,
			Function:    tx.Function,
			InAmount:    "0",
			InCurrency:  domain.NativeCurrency,
			OutAmount:   "0",
			OutCurrency: domain.NativeCurrency,
			Fee:         "0",
			TxHash:      tx.Hash,
		}
		if i < len(ins) {
			row.InAmount = e.scale(ctx, ins[i]).String()
			row.InCurrency = currency(ins[i].Token)
		}
		if i < len(outs) {
			row.OutAmount = e.scale(ctx, outs[i]).String()
			row.OutCurrency = currency(outs[i].Token)
		}
		if i == 0 {
			row.Fee = fee
		}
		rows = append(rows, row)
	}
	return rows
}

func (e *Engine) scale(ctx context.Context, l domain.Leg) decimal.Decimal {
	dec := domain.NativeDecimals
	if l.Token != "" {
		dec = e.decimals.Resolve(ctx, l.Token)
	}
	return decimal.NewFromBigInt(l.Amount, -int32(dec))
}

func currency(token string) string {
	if token == "" {
		return domain.NativeCurrency
	}
	return token
}

func lowerSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, s := range items {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func exactSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}
