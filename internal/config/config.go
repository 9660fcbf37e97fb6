// Package config defines the configuration of the egldtax service and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EGLDTAX_* environment variables.
type Config struct {
	Explorer  ExplorerConfig  `toml:"explorer"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Server    ServerConfig    `toml:"server"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Cache     CacheConfig     `toml:"cache"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExplorerConfig holds the upstream explorer API endpoint and paging rules.
type ExplorerConfig struct {
	BaseURL         string   `toml:"base_url"`
	Timeout         duration `toml:"timeout"`
	PageSize        int      `toml:"page_size"`
	MaxOffset       int      `toml:"max_offset"`
	PageDelay       duration `toml:"page_delay"`
	RetryAttempts   int      `toml:"retry_attempts"`
	RetryBaseDelay  duration `toml:"retry_base_delay"`
	RetryMaxDelay   duration `toml:"retry_max_delay"`
	DecimalsTimeout duration `toml:"decimals_timeout"`
}

// ReconcileConfig holds the classification and call-shaping rules.
type ReconcileConfig struct {
	WatchedFunctions []string       `toml:"watched_functions"`
	RewardFunctions  []string       `toml:"reward_functions"`
	RewardTokens     []string       `toml:"reward_tokens"`
	LPPattern        string         `toml:"lp_pattern"`
	WrappedToken     string         `toml:"wrapped_token"`
	DetailDelay      duration       `toml:"detail_delay"`
	KnownDecimals    map[string]int `toml:"known_decimals"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	WriteTimeout duration `toml:"write_timeout"`
}

// RedisConfig holds Redis connection parameters. Redis backs the shared
// decimals tier, the remote report cache, locks, rate limits and the
// progress relay; everything degrades to in-process state when disabled.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds report history database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for report export.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	PartSizeMB     int    `toml:"part_size_mb"`
}

// CacheConfig holds report cache and lock parameters.
type CacheConfig struct {
	LocalSizeMB int      `toml:"local_size_mb"`
	ReportTTL   duration `toml:"report_ttl"`
	LockTTL     duration `toml:"lock_ttl"`
}

// TelemetryConfig holds tracing parameters. An empty endpoint disables export.
type TelemetryConfig struct {
	ServiceName  string  `toml:"service_name"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	SampleRatio  float64 `toml:"sample_ratio"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultLPPattern matches liquidity-pool token tickers: EGLD-prefixed pair
// tokens, WEGLD-suffixed pair tokens and anything carrying "LP".
const DefaultLPPattern = `^(EGLD[A-Z0-9]+|[A-Z0-9]+WEGLD|[A-Z0-9]+LP[A-Z0-9]*)-[0-9a-f]{6}`

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Explorer: ExplorerConfig{
			BaseURL:         "https://api.multiversx.com",
			Timeout:         duration{30 * time.Second},
			PageSize:        50,
			MaxOffset:       10000,
			PageDelay:       duration{200 * time.Millisecond},
			RetryAttempts:   4,
			RetryBaseDelay:  duration{500 * time.Millisecond},
			RetryMaxDelay:   duration{8 * time.Second},
			DecimalsTimeout: duration{5 * time.Second},
		},
		Reconcile: ReconcileConfig{
			WatchedFunctions: []string{
				"claimRewards", "claimRewardsProxy", "compoundRewards", "compoundRewardsProxy",
				"claimLockedAssets", "claimDualYield", "claim", "unlockAssets",
				"swapTokensFixedInput", "swapTokensFixedOutput", "multiPairSwap", "swap",
				"wrapEgld", "unwrapEgld",
				"transfer", "ESDTTransfer", "ESDTNFTTransfer", "MultiESDTNFTTransfer",
				"buy", "sell", "withdraw", "unDelegate", "reDelegateRewards",
			},
			RewardFunctions: []string{
				"claimRewards", "claimRewardsProxy", "compoundRewards", "compoundRewardsProxy",
				"claimDualYield", "reDelegateRewards",
			},
			RewardTokens: []string{
				"MEX-455c57", "XMEX-fda355", "LKMEX-aab910", "UTK-2f80e9", "RIDE-7d18e9",
				"ASH-a642d1", "ITHEUM-df6f26",
			},
			LPPattern:    DefaultLPPattern,
			WrappedToken: "WEGLD-bd4d79",
			DetailDelay:  duration{250 * time.Millisecond},
			KnownDecimals: map[string]int{
				"WEGLD-bd4d79":  18,
				"MEX-455c57":    18,
				"XMEX-fda355":   18,
				"LKMEX-aab910":  18,
				"UTK-2f80e9":    18,
				"RIDE-7d18e9":   18,
				"ASH-a642d1":    18,
				"ITHEUM-df6f26": 18,
				"USDC-c76f1f":   6,
				"USDT-f8c08c":   6,
			},
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:    30,
			RateWindow:   duration{time.Minute},
			WriteTimeout: duration{10 * time.Minute},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "egldtax",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "egldtax",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "egldtax-reports",
			ForcePathStyle: true,
			Prefix:         "reports",
			PartSizeMB:     5,
		},
		Cache: CacheConfig{
			LocalSizeMB: 64,
			ReportTTL:   duration{10 * time.Minute},
			LockTTL:     duration{15 * time.Minute},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "egldtax",
			SampleRatio: 1,
		},
		Notify: NotifyConfig{
			Events:   []string{"report_failed", "report_truncated"},
			Cooldown: duration{5 * time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"report": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, report)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Explorer
	if u, err := url.Parse(c.Explorer.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("explorer: base_url must be an absolute URL, got %q", c.Explorer.BaseURL))
	}
	if c.Explorer.PageSize < 1 {
		errs = append(errs, "explorer: page_size must be >= 1")
	}
	if c.Explorer.MaxOffset < c.Explorer.PageSize {
		errs = append(errs, "explorer: max_offset must be >= page_size")
	}
	if c.Explorer.RetryAttempts < 1 {
		errs = append(errs, "explorer: retry_attempts must be >= 1")
	}
	if c.Explorer.PageDelay.Duration < 0 || c.Reconcile.DetailDelay.Duration < 0 {
		errs = append(errs, "explorer: page_delay and reconcile.detail_delay must not be negative")
	}

	// Reconcile
	if len(c.Reconcile.WatchedFunctions) == 0 {
		errs = append(errs, "reconcile: watched_functions must not be empty")
	}
	if c.Reconcile.LPPattern != "" {
		if _, err := regexp.Compile(c.Reconcile.LPPattern); err != nil {
			errs = append(errs, fmt.Sprintf("reconcile: lp_pattern: %v", err))
		}
	}
	for id, d := range c.Reconcile.KnownDecimals {
		if d < 0 || d > 32 {
			errs = append(errs, fmt.Sprintf("reconcile: known_decimals[%s] must be 0-32, got %d", id, d))
		}
	}

	// Server
	if strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Telemetry
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry: sample_ratio must be within [0, 1]")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
