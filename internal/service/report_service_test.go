package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/pipeline"
	"github.com/alanyoungcy/egldtax/internal/reconcile"
)

var (
	testWallet = codec.PubKeyToAddress(bytes.Repeat([]byte{0x11}, 32))
	testOther  = codec.PubKeyToAddress(bytes.Repeat([]byte{0x22}, 32))
)

type fakeTxFetcher struct {
	res   pipeline.TransactionResult
	err   error
	calls int
}

func (f *fakeTxFetcher) Fetch(_ context.Context, _ string, _, _ time.Time, progress pipeline.ProgressFunc) (pipeline.TransactionResult, error) {
	f.calls++
	if progress != nil {
		progress("Fetched transactions page 1")
	}
	return f.res, f.err
}

type fakeTransferFetcher struct {
	res   pipeline.TransferResult
	calls int
}

func (f *fakeTransferFetcher) Fetch(context.Context, string, time.Time, time.Time, pipeline.ProgressFunc) (pipeline.TransferResult, error) {
	f.calls++
	return f.res, nil
}

type recordingProgress struct {
	mu       sync.Mutex
	messages []string
}

func (p *recordingProgress) Report(_ context.Context, _ string, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *recordingProgress) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		return ""
	}
	return p.messages[len(p.messages)-1]
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

type mapReportCache struct {
	reports map[string]domain.Report
}

func (c *mapReportCache) Get(_ context.Context, key string) (domain.Report, error) {
	r, ok := c.reports[key]
	if !ok {
		return domain.Report{}, domain.ErrCacheMiss
	}
	return r, nil
}

func (c *mapReportCache) Set(_ context.Context, key string, r domain.Report, _ time.Duration) error {
	c.reports[key] = r
	return nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type noDetails struct{}

func (noDetails) GetTransactionDetail(context.Context, string) (domain.TransactionDetail, error) {
	return domain.TransactionDetail{}, nil
}

type fixedDecimals struct{}

func (fixedDecimals) Resolve(context.Context, string) int { return 18 }

func newTestService(t *testing.T, deps ReportDeps) *ReportService {
	t.Helper()
	engine, err := reconcile.NewEngine(noDetails{}, fixedDecimals{}, reconcile.Config{}, discardLogger())
	require.NoError(t, err)
	deps.Classifier = reconcile.NewClassifier([]string{"claimrewards"})
	deps.Engine = engine
	return NewReportService(deps, ReportConfig{CacheTTL: time.Minute}, discardLogger())
}

func sampleTransactions() pipeline.TransactionResult {
	return pipeline.TransactionResult{Transactions: []domain.RawTransaction{
		{Hash: "a", Timestamp: 1, Sender: testOther, Receiver: testWallet, Value: "1000000000000000000", Fee: "0"},
		{Hash: "b", Timestamp: 2, Sender: testWallet, Receiver: testOther, Function: "delegate", Value: "0", Fee: "0"},
		{Hash: "c", Timestamp: 3, Sender: testWallet, Receiver: testOther, Function: "claimrewards", Value: "0", Fee: "0"},
	}}
}

func TestGenerateBuildsReport(t *testing.T) {
	txs := &fakeTxFetcher{res: sampleTransactions()}
	transfers := &fakeTransferFetcher{res: pipeline.TransferResult{Transfers: []domain.RawTransfer{
		{TxHash: "c", Sender: testOther, Receiver: testWallet, Identifier: "MEX-455c57", Value: "2000000000000000000"},
	}}}
	prog := &recordingProgress{}
	cache := &mapReportCache{reports: map[string]domain.Report{}}

	svc := newTestService(t, ReportDeps{Transactions: txs, Transfers: transfers, Progress: prog, Cache: cache})
	req := domain.ReportRequest{Wallet: testWallet, From: time.Unix(0, 0), To: time.Unix(100, 0), ClientID: "c1"}

	report, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, report.ID)
	assert.Len(t, report.AllTransactions, 3)
	require.Len(t, report.TaxRelevantTransactions, 2)
	assert.Equal(t, "1", report.TaxRelevantTransactions[0].InAmount)
	assert.Equal(t, "MEX-455c57", report.TaxRelevantTransactions[1].InCurrency)
	assert.False(t, report.Truncated)
	assert.Equal(t, "Done: 2 rows", prog.last())

	// second call is served from the cache
	again, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, report.ID, again.ID)
	assert.Equal(t, 1, txs.calls)
	assert.Equal(t, 1, transfers.calls)
}

func TestGenerateSurfacesTruncation(t *testing.T) {
	res := sampleTransactions()
	res.Truncated = true
	notifier := &recordingNotifier{}
	prog := &recordingProgress{}
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	svc := newTestService(t, ReportDeps{
		Transactions: &fakeTxFetcher{res: res},
		Transfers:    &fakeTransferFetcher{res: pipeline.TransferResult{Truncated: true, TruncatedDays: []time.Time{day}}},
		Progress:     prog,
		Notifier:     notifier,
	})

	report, err := svc.Generate(context.Background(), domain.ReportRequest{Wallet: testWallet, ClientID: "c"})
	require.NoError(t, err)
	assert.True(t, report.Truncated)
	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[1], "2024-03-01")
	assert.Equal(t, []string{EventReportTruncated}, notifier.events)

	warned := 0
	for _, m := range prog.messages {
		if strings.HasPrefix(m, "Warning: ") {
			warned++
		}
	}
	assert.Equal(t, 2, warned)
}

func TestGenerateReportsFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	prog := &recordingProgress{}
	svc := newTestService(t, ReportDeps{
		Transactions: &fakeTxFetcher{err: errors.New("explorer down")},
		Transfers:    &fakeTransferFetcher{},
		Progress:     prog,
		Notifier:     notifier,
	})

	_, err := svc.Generate(context.Background(), domain.ReportRequest{Wallet: testWallet, ClientID: "c"})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(prog.last(), "Error: "))
	assert.Equal(t, []string{EventReportFailed}, notifier.events)
}

func TestGenerateRejectsConcurrentRun(t *testing.T) {
	txs := &fakeTxFetcher{res: sampleTransactions()}
	notifier := &recordingNotifier{}
	svc := newTestService(t, ReportDeps{
		Transactions: txs,
		Transfers:    &fakeTransferFetcher{},
		Locks:        heldLocks{},
		Notifier:     notifier,
	})

	_, err := svc.Generate(context.Background(), domain.ReportRequest{Wallet: testWallet})
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, 0, txs.calls)
	assert.Empty(t, notifier.events)
}

func TestHistoryWithoutStore(t *testing.T) {
	svc := newTestService(t, ReportDeps{Transactions: &fakeTxFetcher{}, Transfers: &fakeTransferFetcher{}})
	_, err := svc.History(context.Background(), testWallet, domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type probeAccounts struct{ err error }

func (p probeAccounts) GetAccount(context.Context, string) (domain.Account, error) {
	return domain.Account{}, p.err
}

func TestGenerateUnknownAccount(t *testing.T) {
	txs := &fakeTxFetcher{res: sampleTransactions()}
	notifier := &recordingNotifier{}
	svc := newTestService(t, ReportDeps{
		Accounts:     probeAccounts{err: domain.ErrNotFound},
		Transactions: txs,
		Transfers:    &fakeTransferFetcher{},
		Notifier:     notifier,
	})

	_, err := svc.Generate(context.Background(), domain.ReportRequest{Wallet: testWallet})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, txs.calls)
	assert.Empty(t, notifier.events)
}

func TestGenerateIgnoresProbeOutage(t *testing.T) {
	txs := &fakeTxFetcher{res: sampleTransactions()}
	svc := newTestService(t, ReportDeps{
		Accounts:     probeAccounts{err: errors.New("timeout")},
		Transactions: txs,
		Transfers:    &fakeTransferFetcher{},
	})

	_, err := svc.Generate(context.Background(), domain.ReportRequest{Wallet: testWallet})
	require.NoError(t, err)
	assert.Equal(t, 1, txs.calls)
}
