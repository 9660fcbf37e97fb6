package reconcile

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/retry"
)

const lpPattern = `^(EGLD[A-Z0-9]+|[A-Z0-9]+WEGLD|[A-Z0-9]+LP[A-Z0-9]*)-[0-9a-f]{6}`

var (
	walletPub = bytes.Repeat([]byte{0x01}, 32)
	wallet    = codec.PubKeyToAddress(walletPub)
	pair      = codec.PubKeyToAddress(bytes.Repeat([]byte{0x02}, 32))
	farm      = codec.PubKeyToAddress(bytes.Repeat([]byte{0x03}, 32))
)

type fakeDecimals map[string]int

func (f fakeDecimals) Resolve(_ context.Context, id string) int {
	if d, ok := f[codec.CollectionOf(id)]; ok {
		return d
	}
	return 18
}

type fakeDetails struct {
	details map[string]domain.TransactionDetail
	err     error
	calls   int
}

func (f *fakeDetails) GetTransactionDetail(_ context.Context, hash string) (domain.TransactionDetail, error) {
	f.calls++
	if f.err != nil {
		return domain.TransactionDetail{}, f.err
	}
	return f.details[hash], nil
}

func newEngine(t *testing.T, details DetailSource, decimals fakeDecimals) *Engine {
	t.Helper()
	e, err := NewEngine(details, decimals, Config{
		RewardFunctions: []string{"claimRewards", "claimRewardsProxy", "compoundRewards"},
		RewardTokens:    []string{"MEX-455c57", "UTK-2f80e9"},
		LPPattern:       lpPattern,
		WrappedToken:    "WEGLD-bd4d79",
		Retry:           retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return e
}

func payload(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

func esdtTransfer(token string, amount *big.Int) string {
	return payload("ESDTTransfer@" + codec.TextToHex(token) + "@" + amount.Text(16))
}

func weis(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestNativeValueFallback(t *testing.T) {
	details := &fakeDetails{}
	e := newEngine(t, details, nil)

	tx := domain.RawTransaction{
		Hash: "h1", Timestamp: 1700000000, Sender: pair, Receiver: wallet,
		Value: "1000000000000000000", Fee: "50000000000000",
	}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].InAmount)
	assert.Equal(t, domain.NativeCurrency, rows[0].InCurrency)
	assert.Equal(t, "0", rows[0].OutAmount)
	assert.Equal(t, "0.00005", rows[0].Fee)
	assert.Equal(t, "h1", rows[0].TxHash)
}

func TestRewardClaimPrefersListedToken(t *testing.T) {
	details := &fakeDetails{details: map[string]domain.TransactionDetail{
		"h2": {Results: []domain.SmartContractResult{
			{Sender: farm, Receiver: wallet, Value: "0", Data: esdtTransfer("EGLDMEX-0be9e5", weis(5))},
			{Sender: farm, Receiver: wallet, Value: "0", Data: esdtTransfer("MEX-455c57", weis(1))},
		}},
	}}
	e := newEngine(t, details, nil)

	tx := domain.RawTransaction{Hash: "h2", Sender: wallet, Receiver: farm, Function: "claimrewards", Value: "0", Fee: "0"}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "MEX-455c57", rows[0].InCurrency)
	assert.Equal(t, "1", rows[0].InAmount)
	assert.Equal(t, "0", rows[0].OutAmount)
}

func TestRewardClaimFallsBackToFirstNonLPToken(t *testing.T) {
	details := &fakeDetails{details: map[string]domain.TransactionDetail{
		"h3": {Results: []domain.SmartContractResult{
			{Sender: farm, Receiver: wallet, Data: esdtTransfer("MEXWEGLD-abcdef", weis(3))},
			{Sender: farm, Receiver: wallet, Data: esdtTransfer("RIDE-7d18e9", weis(2))},
			{Sender: farm, Receiver: wallet, Data: esdtTransfer("ZPAY-247875", weis(4))},
		}},
	}}
	e := newEngine(t, details, nil)

	tx := domain.RawTransaction{Hash: "h3", Sender: wallet, Receiver: farm, Function: "claimrewards", Value: "0"}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "RIDE-7d18e9", rows[0].InCurrency)
	assert.Equal(t, "2", rows[0].InAmount)
}

func TestSwapKeepsLargestLegPerSide(t *testing.T) {
	details := &fakeDetails{}
	e := newEngine(t, details, fakeDecimals{"TKN-000001": 0})

	tx := domain.RawTransaction{Hash: "h4", Sender: wallet, Receiver: pair, Function: "swaptokensfixedinput", Value: "0", Fee: "1000"}
	transfers := []domain.RawTransfer{
		{TxHash: "h4", Sender: wallet, Receiver: pair, Identifier: "WEGLD-bd4d79", Value: weis(1).String()},
		{TxHash: "h4", Sender: pair, Receiver: wallet, Identifier: "TKN-000001", Value: "500"},
		{TxHash: "h4", Sender: pair, Receiver: wallet, Identifier: "TKN-000001", Value: "10"},
	}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, transfers)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "500", rows[0].InAmount)
	assert.Equal(t, "TKN-000001", rows[0].InCurrency)
	assert.Equal(t, "1", rows[0].OutAmount)
	assert.Equal(t, "WEGLD-bd4d79", rows[0].OutCurrency)
	assert.Equal(t, 0, details.calls, "detail must not be fetched when transfers suffice")
}

func TestSwapTieGoesToFirstLeg(t *testing.T) {
	e := newEngine(t, &fakeDetails{}, fakeDecimals{"AAA-000001": 0, "BBB-000001": 0})

	tx := domain.RawTransaction{Hash: "h5", Sender: wallet, Receiver: pair, Function: "swap"}
	transfers := []domain.RawTransfer{
		{TxHash: "h5", Sender: pair, Receiver: wallet, Identifier: "AAA-000001", Value: "7"},
		{TxHash: "h5", Sender: pair, Receiver: wallet, Identifier: "BBB-000001", Value: "7"},
	}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, transfers)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "AAA-000001", rows[0].InCurrency)
}

func TestWrap(t *testing.T) {
	e := newEngine(t, &fakeDetails{}, nil)

	tx := domain.RawTransaction{Hash: "h6", Sender: wallet, Receiver: pair, Function: "wrapegld", Value: weis(2).String()}
	transfers := []domain.RawTransfer{
		{TxHash: "h6", Sender: wallet, Receiver: pair, Value: weis(2).String()},
		{TxHash: "h6", Sender: pair, Receiver: wallet, Identifier: "WEGLD-bd4d79", Value: weis(2).String()},
	}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, transfers)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].InAmount)
	assert.Equal(t, "WEGLD-bd4d79", rows[0].InCurrency)
	assert.Equal(t, "2", rows[0].OutAmount)
	assert.Equal(t, domain.NativeCurrency, rows[0].OutCurrency)
}

func TestUnwrapFromPayload(t *testing.T) {
	e := newEngine(t, &fakeDetails{}, nil)

	data := payload("ESDTTransfer@" + codec.TextToHex("WEGLD-bd4d79") + "@" + weis(2).Text(16) + "@" + codec.TextToHex("unwrapEgld"))
	tx := domain.RawTransaction{Hash: "h7", Sender: wallet, Receiver: pair, Function: "unwrapegld", Value: "0", Data: data}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].InAmount)
	assert.Equal(t, domain.NativeCurrency, rows[0].InCurrency)
	assert.Equal(t, "2", rows[0].OutAmount)
	assert.Equal(t, "WEGLD-bd4d79", rows[0].OutCurrency)
}

func TestFeeOnFirstRowOnly(t *testing.T) {
	e := newEngine(t, &fakeDetails{}, nil)

	tx := domain.RawTransaction{Hash: "h8", Sender: pair, Receiver: wallet, Fee: "2000000000000000"}
	transfers := []domain.RawTransfer{
		{TxHash: "h8", Sender: pair, Receiver: wallet, Identifier: "MEX-455c57", Value: weis(3).String()},
		{TxHash: "h8", Sender: pair, Receiver: wallet, Identifier: "UTK-2f80e9", Value: weis(4).String()},
	}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, transfers)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0.002", rows[0].Fee)
	assert.Equal(t, "0", rows[1].Fee)
	assert.Equal(t, "UTK-2f80e9", rows[1].InCurrency)
	assert.Equal(t, domain.NativeCurrency, rows[1].OutCurrency)
}

func TestTransferPayloadOverridesFields(t *testing.T) {
	e := newEngine(t, &fakeDetails{}, nil)

	tx := domain.RawTransaction{Hash: "h9", Sender: wallet, Receiver: pair, Function: "esdttransfer"}
	transfers := []domain.RawTransfer{
		{TxHash: "h9", Sender: wallet, Receiver: pair, Value: "0", Data: esdtTransfer("MEX-455c57", weis(9))},
	}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, transfers)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "9", rows[0].OutAmount)
	assert.Equal(t, "MEX-455c57", rows[0].OutCurrency)
}

func topic(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func TestEventsBothShapes(t *testing.T) {
	details := &fakeDetails{details: map[string]domain.TransactionDetail{
		"h10": {Events: []domain.LogEvent{
			{Identifier: "ESDTNFTTransfer", Topics: []string{
				topic([]byte("XMEX-fda355")), topic([]byte{0x0a}), topic(weis(1).Bytes()), topic(walletPub),
			}},
			{Identifier: "ESDTTransfer", Topics: []string{
				topic([]byte("USDC-c76f1f")), topic(big.NewInt(2500000).Bytes()), topic(walletPub),
			}},
			{Identifier: "ESDTTransfer", Topics: []string{
				topic([]byte("MEX-455c57")), topic(nil), topic(weis(1).Bytes()), topic(bytes.Repeat([]byte{0x09}, 32)),
			}},
			{Identifier: "writeLog", Topics: []string{topic(walletPub)}},
		}},
	}}
	e := newEngine(t, details, fakeDecimals{"USDC-c76f1f": 6})

	tx := domain.RawTransaction{Hash: "h10", Sender: wallet, Receiver: farm, Function: "claimlockedtokens"}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "XMEX-fda355-0a", rows[0].InCurrency)
	assert.Equal(t, "1", rows[0].InAmount)
	assert.Equal(t, "USDC-c76f1f", rows[1].InCurrency)
	assert.Equal(t, "2.5", rows[1].InAmount)
}

func TestUnusableRecordsAreLogged(t *testing.T) {
	details := &fakeDetails{details: map[string]domain.TransactionDetail{
		"h9": {
			Results: []domain.SmartContractResult{
				{Sender: pair, Receiver: wallet, Data: payload("ESDTTransfer@" + codec.TextToHex("MEX-455c57"))},
			},
			Events: []domain.LogEvent{{
				Identifier: codec.SelectorESDTTransfer,
				Topics: []string{
					topic([]byte("MEX-455c57")), topic(nil), topic(big.NewInt(5).Bytes()), topic([]byte{0x01}), topic(walletPub),
				},
			}},
		},
	}}

	var buf bytes.Buffer
	e, err := NewEngine(details, fakeDecimals{}, Config{
		LPPattern: lpPattern,
		Retry:     retry.Policy{MaxAttempts: 1},
	}, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	require.NoError(t, err)

	tx := domain.RawTransaction{Hash: "h9", Sender: wallet, Receiver: pair, Value: "0", Fee: "0"}
	_, err = e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "record skipped")
	assert.Contains(t, out, "token descriptor missing fields: ESDTTransfer")
	assert.Contains(t, out, "unhandled ESDTTransfer topic shape: 5 topics")
}

func TestExtractorsReportSkipsWithoutHook(t *testing.T) {
	in := Input{
		Wallet: codec.NewWallet(wallet),
		Detail: &domain.TransactionDetail{Results: []domain.SmartContractResult{
			{Sender: pair, Receiver: wallet, Data: "%%%"},
		}},
	}
	assert.NotPanics(t, func() { ResultsExtractor{}.Attempt(in) })

	var reasons []string
	in.Skip = func(reason string) { reasons = append(reasons, reason) }
	assert.Empty(t, ResultsExtractor{}.Attempt(in))
	assert.Equal(t, []string{"undecodable payload"}, reasons)
}

func TestOperationsExtractor(t *testing.T) {
	details := &fakeDetails{details: map[string]domain.TransactionDetail{
		"h11": {Operations: []domain.Operation{
			{Action: "transfer", Type: "egld", Sender: pair, Receiver: wallet, Value: weis(3).String()},
			{Action: "burn", Type: "esdt", Identifier: "MEX-455c57", Sender: wallet, Receiver: pair, Value: "1"},
			{Action: "transfer", Type: "esdt", ESDTType: "FungibleESDT", Identifier: "MEX-455c57", Sender: wallet, Receiver: pair, Value: weis(1).String()},
		}},
	}}
	e := newEngine(t, details, nil)

	tx := domain.RawTransaction{Hash: "h11", Sender: wallet, Receiver: pair, Function: "sell"}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0].InAmount)
	assert.Equal(t, domain.NativeCurrency, rows[0].InCurrency)
	assert.Equal(t, "1", rows[0].OutAmount)
	assert.Equal(t, "MEX-455c57", rows[0].OutCurrency)
}

func TestFallbackRowWhenNothingMoves(t *testing.T) {
	e := newEngine(t, &fakeDetails{}, nil)

	tx := domain.RawTransaction{Hash: "h12", Sender: wallet, Receiver: farm, Function: "claimrewards", Value: "0", Fee: "1000000000000000"}
	rows, err := e.Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0", rows[0].InAmount)
	assert.Equal(t, "0", rows[0].OutAmount)
	assert.Equal(t, domain.NativeCurrency, rows[0].InCurrency)
	assert.Equal(t, domain.NativeCurrency, rows[0].OutCurrency)
	assert.Equal(t, "0.001", rows[0].Fee)
}

func TestDetailErrors(t *testing.T) {
	tx := domain.RawTransaction{Hash: "h13", Sender: pair, Receiver: wallet, Value: "5"}

	notFound := &fakeDetails{err: fmt.Errorf("gone: %w", domain.ErrNotFound)}
	rows, err := newEngine(t, notFound, nil).Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0.000000000000000005", rows[0].InAmount)
	assert.Equal(t, 1, notFound.calls)

	down := &fakeDetails{err: fmt.Errorf("boom: %w", domain.ErrUpstreamUnavailable)}
	_, err = newEngine(t, down, nil).Reconcile(context.Background(), codec.NewWallet(wallet), tx, nil)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 2, down.calls)
}

func TestInvalidLPPattern(t *testing.T) {
	_, err := NewEngine(nil, fakeDecimals{}, Config{LPPattern: "("}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
