package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/config"
	"github.com/alanyoungcy/egldtax/internal/export"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// emptyExplorer answers every account with an empty history.
func emptyExplorer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/transactions"), strings.HasSuffix(r.URL.Path, "/transfers"):
			_, _ = w.Write([]byte(`[]`))
		case strings.HasPrefix(r.URL.Path, "/accounts/"):
			_, _ = w.Write([]byte(`{"address":"x","balance":"0","nonce":0}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Explorer.BaseURL = baseURL
	cfg.Explorer.PageDelay.Duration = 0
	cfg.Reconcile.DetailDelay.Duration = 0
	cfg.Cache.LocalSizeMB = 1
	return &cfg
}

func TestWireWithoutBackends(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Reports)
	assert.NotNil(t, deps.Progress)
	assert.Nil(t, deps.Relay)
	assert.Nil(t, deps.RateLimiter)
	assert.Empty(t, deps.HealthChecks())
}

func TestWireRejectsBadLPPattern(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Reconcile.LPPattern = "("

	_, _, err := Wire(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestReportModeWritesCSV(t *testing.T) {
	srv := emptyExplorer(t)
	cfg := testConfig(srv.URL)
	cfg.Mode = "report"

	var out bytes.Buffer
	wallet := codec.PubKeyToAddress(bytes.Repeat([]byte{0x33}, 32))
	a := New(cfg, ReportArgs{Wallet: wallet, From: "2024-01-01", To: "2024-01-31", Out: &out}, discardLogger())
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, strings.Join(export.Header, ",")+"\n", out.String())
}

func TestReportModeRejectsBadWallet(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Mode = "report"

	a := New(cfg, ReportArgs{Wallet: "nope", From: "2024-01-01", To: "2024-01-31", Out: io.Discard}, discardLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid wallet address")
}
