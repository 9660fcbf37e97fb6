// Package multiversx is the REST client for the MultiversX public explorer
// API. It only reads; nothing here signs or submits transactions.
package multiversx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// DefaultBaseURL is the public mainnet explorer API.
const DefaultBaseURL = "https://api.multiversx.com"

// Client talks to the explorer API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new explorer client. A zero timeout defaults to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PageQuery selects one page of an account history window. After and Before
// are inclusive unix-second bounds; zero values are omitted.
type PageQuery struct {
	After  time.Time
	Before time.Time
	From   int
	Size   int
}

func (q PageQuery) values() url.Values {
	params := url.Values{}
	if !q.After.IsZero() {
		params.Set("after", strconv.FormatInt(q.After.Unix(), 10))
	}
	if !q.Before.IsZero() {
		params.Set("before", strconv.FormatInt(q.Before.Unix(), 10))
	}
	params.Set("from", strconv.Itoa(q.From))
	params.Set("size", strconv.Itoa(q.Size))
	params.Set("order", "asc")
	return params
}

// TransferPage is one page of the transfer list. Items counts the raw list
// entries before multi-token entries were flattened, so callers can detect
// a short page.
type TransferPage struct {
	Transfers []domain.RawTransfer
	Items     int
}

// GetAccount returns the account metadata. Unknown accounts yield
// domain.ErrNotFound.
func (c *Client) GetAccount(ctx context.Context, address string) (domain.Account, error) {
	path := "/accounts/" + url.PathEscape(address)

	body, err := c.doGet(ctx, "account", path)
	if err != nil {
		return domain.Account{}, fmt.Errorf("multiversx: get account %s: %w", address, err)
	}

	var acc APIAccount
	if err := json.Unmarshal(body, &acc); err != nil {
		return domain.Account{}, fmt.Errorf("multiversx: decode account: %w", err)
	}
	return acc.ToDomainAccount(), nil
}

// GetTransactions returns one page of an account's transactions in ascending
// time order.
func (c *Client) GetTransactions(ctx context.Context, address string, q PageQuery) ([]domain.RawTransaction, error) {
	path := "/accounts/" + url.PathEscape(address) + "/transactions?" + q.values().Encode()

	body, err := c.doGet(ctx, "transactions", path)
	if err != nil {
		return nil, fmt.Errorf("multiversx: get transactions: %w", err)
	}

	var items []APITransaction
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("multiversx: decode transactions: %w", err)
	}

	txs := make([]domain.RawTransaction, 0, len(items))
	for i := range items {
		txs = append(txs, items[i].ToDomainTransaction())
	}
	return txs, nil
}

// GetTransfers returns one page of an account's transfers in ascending time
// order, flattened to one entry per token.
func (c *Client) GetTransfers(ctx context.Context, address string, q PageQuery) (TransferPage, error) {
	path := "/accounts/" + url.PathEscape(address) + "/transfers?" + q.values().Encode()

	body, err := c.doGet(ctx, "transfers", path)
	if err != nil {
		return TransferPage{}, fmt.Errorf("multiversx: get transfers: %w", err)
	}

	var items []APITransaction
	if err := json.Unmarshal(body, &items); err != nil {
		return TransferPage{}, fmt.Errorf("multiversx: decode transfers: %w", err)
	}

	page := TransferPage{Items: len(items)}
	for i := range items {
		page.Transfers = append(page.Transfers, items[i].ToDomainTransfers()...)
	}
	return page, nil
}

// GetTransactionDetail returns results, operations and log events of one
// transaction.
func (c *Client) GetTransactionDetail(ctx context.Context, hash string) (domain.TransactionDetail, error) {
	params := url.Values{}
	params.Set("withOperations", "true")
	params.Set("withLogs", "true")
	params.Set("withResults", "true")
	path := "/transactions/" + url.PathEscape(hash) + "?" + params.Encode()

	body, err := c.doGet(ctx, "transaction_detail", path)
	if err != nil {
		return domain.TransactionDetail{}, fmt.Errorf("multiversx: get transaction %s: %w", hash, err)
	}

	var detail APITransactionDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return domain.TransactionDetail{}, fmt.Errorf("multiversx: decode transaction: %w", err)
	}
	if detail.TxHash == "" {
		detail.TxHash = hash
	}
	return detail.ToDomainDetail(), nil
}

// GetTokenDecimals returns the decimals the explorer reports for a token
// collection. A token without a decimals field yields domain.ErrNotFound.
func (c *Client) GetTokenDecimals(ctx context.Context, identifier string) (int, error) {
	path := "/tokens/" + url.PathEscape(identifier)

	body, err := c.doGet(ctx, "token", path)
	if err != nil {
		return 0, fmt.Errorf("multiversx: get token %s: %w", identifier, err)
	}

	var tok APIToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return 0, fmt.Errorf("multiversx: decode token: %w", err)
	}
	if tok.Decimals == nil {
		return 0, fmt.Errorf("multiversx: token %s has no decimals: %w", identifier, domain.ErrNotFound)
	}
	return *tok.Decimals, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends a GET request to the explorer inside a client span.
func (c *Client) doGet(ctx context.Context, op, path string) ([]byte, error) {
	ctx, span := otel.Tracer("egldtax/multiversx").Start(ctx, "multiversx."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.path", strings.SplitN(path, "?", 2)[0])),
	)
	defer span.End()

	body, status, err := c.roundTrip(ctx, path)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("http request: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstreamUnavailable, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrUpstreamUnavailable)
}
