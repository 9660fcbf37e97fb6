package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

const defaultListLimit = 50

// ReportStore implements domain.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a new ReportStore backed by the given connection pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Save writes the run header and all of its rows in one transaction. Saving
// the same report ID twice is a no-op.
func (s *ReportStore) Save(ctx context.Context, report domain.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save report: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO report_runs (
			id, wallet_address, from_date, to_date,
			transaction_count, row_count, truncated, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		report.ID, report.Wallet, report.From, report.To,
		len(report.AllTransactions), len(report.TaxRelevantTransactions),
		report.Truncated, createdAt(report),
	)
	if err != nil {
		return fmt.Errorf("postgres: save report %s: %w", report.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const insertRow = `
		INSERT INTO tax_rows (
			run_id, position, tx_timestamp, function,
			in_amount, in_currency, out_amount, out_currency,
			fee, tx_hash, observed_amounts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for i, row := range report.TaxRelevantTransactions {
		observed, err := encodeObserved(row.ObservedAmounts)
		if err != nil {
			return fmt.Errorf("postgres: save report %s: row %d: %w", report.ID, i, err)
		}
		batch.Queue(insertRow,
			report.ID, i, row.Timestamp, row.Function,
			row.InAmount, row.InCurrency, row.OutAmount, row.OutCurrency,
			row.Fee, row.TxHash, observed,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: save report %s: rows: %w", report.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save report %s: commit: %w", report.ID, err)
	}
	return nil
}

// ListRuns returns the wallet's runs, newest first.
func (s *ReportStore) ListRuns(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.ReportRun, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_address, from_date, to_date,
			transaction_count, row_count, truncated, created_at
		FROM report_runs
		WHERE wallet_address = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		wallet, opts.Since, opts.Until, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs for %s: %w", wallet, err)
	}
	defer rows.Close()

	var runs []domain.ReportRun
	for rows.Next() {
		var r domain.ReportRun
		if err := rows.Scan(
			&r.ID, &r.Wallet, &r.From, &r.To,
			&r.TransactionCount, &r.RowCount, &r.Truncated, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs for %s: %w", wallet, err)
	}
	return runs, nil
}

// Rows returns the stored rows of a run in their original order. An unknown
// run yields domain.ErrNotFound.
func (s *ReportStore) Rows(ctx context.Context, runID string) ([]domain.TaxRow, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM report_runs WHERE id = $1)", runID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: rows for %s: %w", runID, err)
	}
	if !exists {
		return nil, fmt.Errorf("postgres: rows for %s: %w", runID, domain.ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT tx_timestamp, function, in_amount, in_currency,
			out_amount, out_currency, fee, tx_hash, observed_amounts
		FROM tax_rows
		WHERE run_id = $1
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: rows for %s: %w", runID, err)
	}
	defer rows.Close()

	out := make([]domain.TaxRow, 0)
	for rows.Next() {
		var (
			row      domain.TaxRow
			observed []byte
		)
		if err := rows.Scan(
			&row.Timestamp, &row.Function, &row.InAmount, &row.InCurrency,
			&row.OutAmount, &row.OutCurrency, &row.Fee, &row.TxHash, &observed,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		if len(observed) > 0 {
			if err := json.Unmarshal(observed, &row.ObservedAmounts); err != nil {
				return nil, fmt.Errorf("postgres: decode observed amounts: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func encodeObserved(amounts []domain.ObservedAmount) ([]byte, error) {
	if len(amounts) == 0 {
		return nil, nil
	}
	return json.Marshal(amounts)
}

func createdAt(report domain.Report) time.Time {
	if report.GeneratedAt.IsZero() {
		return time.Now().UTC()
	}
	return report.GeneratedAt
}

// Compile-time interface check.
var _ domain.ReportStore = (*ReportStore)(nil)
