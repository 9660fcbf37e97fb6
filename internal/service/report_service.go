package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/pipeline"
	"github.com/alanyoungcy/egldtax/internal/progress"
	"github.com/alanyoungcy/egldtax/internal/reconcile"
)

// Notification event types.
const (
	EventReportFailed    = "report_failed"
	EventReportTruncated = "report_truncated"
)

// TransactionFetcher collects the transactions of a wallet.
type TransactionFetcher interface {
	Fetch(ctx context.Context, wallet string, from, to time.Time, progress pipeline.ProgressFunc) (pipeline.TransactionResult, error)
}

// TransferFetcher collects the transfers of a wallet.
type TransferFetcher interface {
	Fetch(ctx context.Context, wallet string, from, to time.Time, progress pipeline.ProgressFunc) (pipeline.TransferResult, error)
}

// Reconciler derives the tax rows of one transaction.
type Reconciler interface {
	Reconcile(ctx context.Context, wallet codec.Wallet, tx domain.RawTransaction, transfers []domain.RawTransfer) ([]domain.TaxRow, error)
}

// AccountProber checks that a wallet exists upstream.
type AccountProber interface {
	GetAccount(ctx context.Context, address string) (domain.Account, error)
}

// Notifier alerts operators.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ReportDeps are the collaborators of a ReportService. Accounts, Cache,
// Store, Exporter, Locks and Notifier are optional.
type ReportDeps struct {
	Accounts     AccountProber
	Transactions TransactionFetcher
	Transfers    TransferFetcher
	Classifier   *reconcile.Classifier
	Engine       Reconciler
	Progress     progress.Reporter
	Cache        domain.ReportCache
	Store        domain.ReportStore
	Exporter     domain.ReportExporter
	Locks        domain.LockManager
	Notifier     Notifier
}

// ReportConfig tunes a ReportService.
type ReportConfig struct {
	CacheTTL time.Duration
	LockTTL  time.Duration
}

// ReportService builds tax reports: it fetches the wallet history, keeps
// the relevant transactions, reconciles each into rows and merges them.
type ReportService struct {
	deps   ReportDeps
	cfg    ReportConfig
	logger *slog.Logger
}

// NewReportService creates a ReportService.
func NewReportService(deps ReportDeps, cfg ReportConfig, logger *slog.Logger) *ReportService {
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &ReportService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "report_service")),
	}
}

// CacheKey identifies a report for a wallet and range.
func CacheKey(wallet string, from, to time.Time) string {
	return "report:" + wallet + ":" + strconv.FormatInt(from.Unix(), 10) + ":" + strconv.FormatInt(to.Unix(), 10)
}

// Generate builds the report for req. Progress milestones go to
// req.ClientID; a failure ends with an "Error: ..." milestone.
func (s *ReportService) Generate(ctx context.Context, req domain.ReportRequest) (report domain.Report, err error) {
	ctx, span := otel.Tracer("egldtax/service").Start(ctx, "report.generate")
	span.SetAttributes(attribute.String("wallet", req.Wallet))
	defer span.End()

	say := func(msg string) { s.deps.Progress.Report(ctx, req.ClientID, msg) }

	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		say("Error: " + err.Error())
		if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrNotFound) {
			return
		}
		s.logger.ErrorContext(ctx, "report failed",
			slog.String("wallet", req.Wallet),
			slog.String("error", err.Error()),
		)
		s.notify(ctx, EventReportFailed, "Report failed",
			fmt.Sprintf("wallet %s (%s to %s): %v", req.Wallet, req.From.Format(time.DateOnly), req.To.Format(time.DateOnly), err))
	}()

	key := CacheKey(req.Wallet, req.From, req.To)
	if s.deps.Cache != nil {
		cached, cerr := s.deps.Cache.Get(ctx, key)
		if cerr == nil {
			say("Served cached report")
			return cached, nil
		}
		if !errors.Is(cerr, domain.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "report cache read failed", slog.String("error", cerr.Error()))
		}
	}

	if s.deps.Locks != nil {
		unlock, lerr := s.deps.Locks.Acquire(ctx, key, s.cfg.LockTTL)
		switch {
		case errors.Is(lerr, domain.ErrLockHeld):
			return domain.Report{}, fmt.Errorf("service: report for %s already running: %w", req.Wallet, lerr)
		case lerr != nil:
			s.logger.WarnContext(ctx, "report lock unavailable, continuing", slog.String("error", lerr.Error()))
		default:
			defer unlock()
		}
	}

	if s.deps.Accounts != nil {
		if _, perr := s.deps.Accounts.GetAccount(ctx, req.Wallet); perr != nil {
			if errors.Is(perr, domain.ErrNotFound) {
				return domain.Report{}, fmt.Errorf("service: account %s: %w", req.Wallet, perr)
			}
			s.logger.WarnContext(ctx, "account probe failed, continuing",
				slog.String("wallet", req.Wallet),
				slog.String("error", perr.Error()),
			)
		}
	}

	say(fmt.Sprintf("Fetching transactions for %s", req.Wallet))
	txRes, err := s.deps.Transactions.Fetch(ctx, req.Wallet, req.From, req.To, say)
	if err != nil {
		return domain.Report{}, fmt.Errorf("service: %w", err)
	}

	say("Fetching transfers")
	trRes, err := s.deps.Transfers.Fetch(ctx, req.Wallet, req.From, req.To, say)
	if err != nil {
		return domain.Report{}, fmt.Errorf("service: %w", err)
	}

	index := reconcile.IndexTransfers(trRes.Transfers)
	relevant := s.deps.Classifier.Filter(txRes.Transactions, index)
	say(fmt.Sprintf("Found %d tax relevant transactions out of %d", len(relevant), len(txRes.Transactions)))

	wallet := codec.NewWallet(req.Wallet)
	var rows []domain.TaxRow
	for i, tx := range relevant {
		if err := ctx.Err(); err != nil {
			return domain.Report{}, err
		}
		txRows, err := s.deps.Engine.Reconcile(ctx, wallet, tx, index[tx.Hash])
		if err != nil {
			return domain.Report{}, fmt.Errorf("service: %w", err)
		}
		rows = append(rows, txRows...)
		say(fmt.Sprintf("Processed transaction %d/%d", i+1, len(relevant)))
	}
	rows = reconcile.Dedupe(rows)

	report = domain.Report{
		ID:                      uuid.NewString(),
		Wallet:                  req.Wallet,
		From:                    req.From,
		To:                      req.To,
		AllTransactions:         txRes.Transactions,
		TaxRelevantTransactions: rows,
		GeneratedAt:             time.Now().UTC(),
	}
	if report.AllTransactions == nil {
		report.AllTransactions = []domain.RawTransaction{}
	}
	if report.TaxRelevantTransactions == nil {
		report.TaxRelevantTransactions = []domain.TaxRow{}
	}
	s.addTruncationWarnings(ctx, &report, txRes, trRes, say)

	s.persist(ctx, key, report)

	span.SetAttributes(
		attribute.Int("transactions", len(report.AllTransactions)),
		attribute.Int("rows", len(report.TaxRelevantTransactions)),
		attribute.Bool("truncated", report.Truncated),
	)
	s.logger.InfoContext(ctx, "report generated",
		slog.String("report_id", report.ID),
		slog.String("wallet", req.Wallet),
		slog.Int("transactions", len(report.AllTransactions)),
		slog.Int("relevant", len(relevant)),
		slog.Int("rows", len(report.TaxRelevantTransactions)),
		slog.Bool("truncated", report.Truncated),
	)
	say(fmt.Sprintf("Done: %d rows", len(report.TaxRelevantTransactions)))
	return report, nil
}

func (s *ReportService) addTruncationWarnings(
	ctx context.Context,
	report *domain.Report,
	txRes pipeline.TransactionResult,
	trRes pipeline.TransferResult,
	say func(string),
) {
	if txRes.Truncated {
		report.Warnings = append(report.Warnings,
			"transaction list reached the explorer pagination limit; later transactions in the range are missing, narrow the date range")
	}
	for _, day := range trRes.TruncatedDays {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("transfer list for %s reached the explorer pagination limit; some transfers are missing", day.Format(time.DateOnly)))
	}
	if len(report.Warnings) == 0 {
		return
	}
	report.Truncated = true
	for _, w := range report.Warnings {
		say("Warning: " + w)
	}
	s.notify(ctx, EventReportTruncated, "Report truncated",
		fmt.Sprintf("wallet %s: %d warning(s)", report.Wallet, len(report.Warnings)))
}

// persist stores, exports and caches a finished report. Failures are logged
// and never fail the request.
func (s *ReportService) persist(ctx context.Context, key string, report domain.Report) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Save(ctx, report); err != nil {
			s.logger.WarnContext(ctx, "report store save failed",
				slog.String("report_id", report.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.Exporter != nil {
		if path, err := s.deps.Exporter.Export(ctx, report); err != nil {
			s.logger.WarnContext(ctx, "report export failed",
				slog.String("report_id", report.ID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.InfoContext(ctx, "report exported", slog.String("path", path))
		}
	}
	if s.deps.Cache != nil && s.cfg.CacheTTL > 0 {
		if err := s.deps.Cache.Set(ctx, key, report, s.cfg.CacheTTL); err != nil {
			s.logger.WarnContext(ctx, "report cache write failed", slog.String("error", err.Error()))
		}
	}
}

func (s *ReportService) notify(ctx context.Context, event, title, message string) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(context.WithoutCancel(ctx), event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// History lists previous report runs of a wallet.
func (s *ReportService) History(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.ReportRun, error) {
	if s.deps.Store == nil {
		return nil, fmt.Errorf("service: report history: %w", domain.ErrNotFound)
	}
	runs, err := s.deps.Store.ListRuns(ctx, wallet, opts)
	if err != nil {
		return nil, fmt.Errorf("service: report history: %w", err)
	}
	return runs, nil
}

// RunRows returns the stored rows of a previous run.
func (s *ReportService) RunRows(ctx context.Context, runID string) ([]domain.TaxRow, error) {
	if s.deps.Store == nil {
		return nil, fmt.Errorf("service: report rows: %w", domain.ErrNotFound)
	}
	rows, err := s.deps.Store.Rows(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("service: report rows: %w", err)
	}
	return rows, nil
}
