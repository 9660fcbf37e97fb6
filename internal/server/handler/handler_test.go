package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/progress"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWallet() string {
	return codec.PubKeyToAddress(bytes.Repeat([]byte{0x07}, 32))
}

type fakeGenerator struct {
	calls  int
	got    domain.ReportRequest
	report domain.Report
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, req domain.ReportRequest) (domain.Report, error) {
	f.calls++
	f.got = req
	return f.report, f.err
}

func postFetch(t *testing.T, h *ReportHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/fetch-transactions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.FetchTransactions(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestFetchTransactionsInvertedRangeSkipsService(t *testing.T) {
	gen := &fakeGenerator{}
	h := NewReportHandler(gen, discardLogger())

	rec := postFetch(t, h, fmt.Sprintf(`{"walletAddress":%q,"fromDate":"2024-02-01","toDate":"2024-01-01"}`, testWallet()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "fromDate must not be after toDate")
	assert.Zero(t, gen.calls)
}

func TestFetchTransactionsValidation(t *testing.T) {
	cases := []struct {
		name, body, msg string
	}{
		{"malformed json", `{`, "invalid request body"},
		{"missing fields", `{"walletAddress":"erd1x"}`, "missing required fields"},
		{"bad wallet", `{"walletAddress":"erd1x","fromDate":"2024-01-01","toDate":"2024-01-02"}`, "invalid wallet address"},
		{"bad date", fmt.Sprintf(`{"walletAddress":%q,"fromDate":"yesterday","toDate":"2024-01-02"}`, testWallet()), "invalid fromDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			rec := postFetch(t, NewReportHandler(gen, discardLogger()), tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeError(t, rec), tc.msg)
			assert.Zero(t, gen.calls)
		})
	}
}

func TestFetchTransactionsSuccess(t *testing.T) {
	gen := &fakeGenerator{report: domain.Report{
		AllTransactions: []domain.RawTransaction{{Hash: "h1", Value: "1000000000000000000", Fee: "0"}},
		TaxRelevantTransactions: []domain.TaxRow{
			{Timestamp: 1, InAmount: "1", InCurrency: "EGLD", OutAmount: "0", OutCurrency: "EGLD", Fee: "0", TxHash: "h1"},
		},
		Truncated: true,
		Warnings:  []string{"truncated"},
	}}
	h := NewReportHandler(gen, discardLogger())

	rec := postFetch(t, h, fmt.Sprintf(`{"walletAddress":%q,"fromDate":"2024-01-01","toDate":"2024-01-31","clientId":"abc"}`, testWallet()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "abc", gen.got.ClientID)

	var resp fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.TaxRelevantTransactions, 1)
	assert.Equal(t, "1", resp.TaxRelevantTransactions[0].InAmount)
	assert.True(t, resp.Truncated)
	assert.Equal(t, []string{"truncated"}, resp.Warnings)
}

func TestFetchTransactionsEmptyArrays(t *testing.T) {
	h := NewReportHandler(&fakeGenerator{}, discardLogger())
	rec := postFetch(t, h, fmt.Sprintf(`{"walletAddress":%q,"fromDate":"2024-01-01","toDate":"2024-01-31"}`, testWallet()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allTransactions":[],"taxRelevantTransactions":[]}`, rec.Body.String())
}

func TestFetchTransactionsErrors(t *testing.T) {
	body := fmt.Sprintf(`{"walletAddress":%q,"fromDate":"2024-01-01","toDate":"2024-01-31"}`, testWallet())

	rec := postFetch(t, NewReportHandler(&fakeGenerator{err: fmt.Errorf("x: %w", domain.ErrLockHeld)}, discardLogger()), body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = postFetch(t, NewReportHandler(&fakeGenerator{err: errors.New("upstream exploded")}, discardLogger()), body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to fetch transactions", decodeError(t, rec))

	rec = postFetch(t, NewReportHandler(&fakeGenerator{err: fmt.Errorf("x: %w", domain.ErrUpstreamUnavailable)}, discardLogger()), body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to fetch transactions", decodeError(t, rec))

	rec = postFetch(t, NewReportHandler(&fakeGenerator{err: fmt.Errorf("x: %w", domain.ErrRateLimited)}, discardLogger()), body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = postFetch(t, NewReportHandler(&fakeGenerator{err: fmt.Errorf("x: %w", domain.ErrNotFound)}, discardLogger()), body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to fetch transactions", decodeError(t, rec))
}

func TestProgressStream(t *testing.T) {
	reg := progress.NewRegistry()
	h := NewProgressHandler(reg, discardLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /progress/{clientId}", h.Stream)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/progress/c1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return reg.Subscribers("c1") == 1 }, 2*time.Second, 10*time.Millisecond)
	reg.Report(ctx, "c1", "Fetched page 1")

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: Fetched page 1\n", line)

	cancel()
	require.Eventually(t, func() bool { return reg.Subscribers("c1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSSEEscape(t *testing.T) {
	assert.Equal(t, "a\ndata: b", sseEscape("a\nb"))
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
	}, discardLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	h = NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
	}, discardLogger())
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"down"`)
}

type fakeHistory struct {
	runs []domain.ReportRun
	rows []domain.TaxRow
	err  error
	opts domain.ListOpts
}

func (f *fakeHistory) History(_ context.Context, _ string, opts domain.ListOpts) ([]domain.ReportRun, error) {
	f.opts = opts
	return f.runs, f.err
}

func (f *fakeHistory) RunRows(context.Context, string) ([]domain.TaxRow, error) {
	return f.rows, f.err
}

func TestHistoryHandler(t *testing.T) {
	svc := &fakeHistory{runs: []domain.ReportRun{{ID: "r1", RowCount: 3}}}
	h := NewHistoryHandler(svc, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wallets/{wallet}/reports", h.ListRuns)
	mux.HandleFunc("GET /api/reports/{id}/rows", h.GetRows)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wallets/"+testWallet()+"/reports?limit=900&offset=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"r1"`)
	assert.Equal(t, 500, svc.opts.Limit)
	assert.Equal(t, 2, svc.opts.Offset)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wallets/nope/reports", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = fmt.Errorf("x: %w", domain.ErrNotFound)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/missing/rows", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
