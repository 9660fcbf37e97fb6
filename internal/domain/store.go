package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ReportRun is the persisted header of a finished report.
type ReportRun struct {
	ID               string    `json:"id"`
	Wallet           string    `json:"walletAddress"`
	From             time.Time `json:"fromDate"`
	To               time.Time `json:"toDate"`
	TransactionCount int       `json:"transactionCount"`
	RowCount         int       `json:"rowCount"`
	Truncated        bool      `json:"truncated"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ReportStore persists finished reports.
type ReportStore interface {
	Save(ctx context.Context, report Report) error
	ListRuns(ctx context.Context, wallet string, opts ListOpts) ([]ReportRun, error)
	Rows(ctx context.Context, runID string) ([]TaxRow, error)
}
