package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/service"
)

// maxBodyBytes bounds the report request body.
const maxBodyBytes = 1 << 16

// ReportGenerator builds reports.
type ReportGenerator interface {
	Generate(ctx context.Context, req domain.ReportRequest) (domain.Report, error)
}

// ReportHandler serves the report endpoint.
type ReportHandler struct {
	svc    ReportGenerator
	logger *slog.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(svc ReportGenerator, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, logger: logHandler(logger, "report")}
}

type fetchRequest struct {
	WalletAddress string `json:"walletAddress"`
	FromDate      string `json:"fromDate"`
	ToDate        string `json:"toDate"`
	ClientID      string `json:"clientId"`
}

type fetchResponse struct {
	AllTransactions         []domain.RawTransaction `json:"allTransactions"`
	TaxRelevantTransactions []domain.TaxRow         `json:"taxRelevantTransactions"`
	Truncated               bool                    `json:"truncated,omitempty"`
	Warnings                []string                `json:"warnings,omitempty"`
}

// FetchTransactions validates the request and answers with the wallet's raw
// transactions and tax rows. Nothing upstream is called before validation
// passes.
// POST /fetch-transactions
func (h *ReportHandler) FetchTransactions(w http.ResponseWriter, r *http.Request) {
	var body fetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := service.ParseRequest(body.WalletAddress, body.FromDate, body.ToDate, body.ClientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		// The report contract knows 400 and 500 only, plus 409 for a run
		// already in flight. Unknown wallets and exhausted upstreams are 500.
		code := http.StatusInternalServerError
		msg := "failed to fetch transactions"
		if errors.Is(err, domain.ErrLockHeld) {
			code = http.StatusConflict
			msg = "a report for this wallet and range is already running"
		}
		h.logger.ErrorContext(r.Context(), "report failed",
			slog.String("wallet", req.Wallet),
			slog.Int("status", code),
			slog.String("error", err.Error()),
		)
		writeError(w, code, msg)
		return
	}

	resp := fetchResponse{
		AllTransactions:         report.AllTransactions,
		TaxRelevantTransactions: report.TaxRelevantTransactions,
		Truncated:               report.Truncated,
		Warnings:                report.Warnings,
	}
	if resp.AllTransactions == nil {
		resp.AllTransactions = []domain.RawTransaction{}
	}
	if resp.TaxRelevantTransactions == nil {
		resp.TaxRelevantTransactions = []domain.TaxRow{}
	}
	writeJSON(w, http.StatusOK, resp)
}
