package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
)

// HistoryReader lists stored report runs.
type HistoryReader interface {
	History(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.ReportRun, error)
	RunRows(ctx context.Context, runID string) ([]domain.TaxRow, error)
}

// HistoryHandler serves stored report runs.
type HistoryHandler struct {
	svc    HistoryReader
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(svc HistoryReader, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{svc: svc, logger: logHandler(logger, "history")}
}

// ListRuns returns previous runs of a wallet, newest first.
// GET /api/wallets/{wallet}/reports
func (h *HistoryHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	if !codec.ValidateWalletAddress(wallet) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	runs, err := h.svc.History(r.Context(), wallet, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list runs failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to list reports")
		return
	}
	if runs == nil {
		runs = []domain.ReportRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRows returns the tax rows of one stored run.
// GET /api/reports/{id}/rows
func (h *HistoryHandler) GetRows(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.RunRows(r.Context(), r.PathValue("id"))
	if err != nil {
		code := statusFor(err)
		if code == http.StatusNotFound {
			writeError(w, code, "report not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get rows failed", slog.String("error", err.Error()))
		writeError(w, code, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
