package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies EGLDTAX_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EGLDTAX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Explorer ──
	setStr(&cfg.Explorer.BaseURL, "EGLDTAX_EXPLORER_BASE_URL")
	setDuration(&cfg.Explorer.Timeout, "EGLDTAX_EXPLORER_TIMEOUT")
	setInt(&cfg.Explorer.PageSize, "EGLDTAX_EXPLORER_PAGE_SIZE")
	setInt(&cfg.Explorer.MaxOffset, "EGLDTAX_EXPLORER_MAX_OFFSET")
	setDuration(&cfg.Explorer.PageDelay, "EGLDTAX_EXPLORER_PAGE_DELAY")
	setInt(&cfg.Explorer.RetryAttempts, "EGLDTAX_EXPLORER_RETRY_ATTEMPTS")
	setDuration(&cfg.Explorer.RetryBaseDelay, "EGLDTAX_EXPLORER_RETRY_BASE_DELAY")
	setDuration(&cfg.Explorer.RetryMaxDelay, "EGLDTAX_EXPLORER_RETRY_MAX_DELAY")
	setDuration(&cfg.Explorer.DecimalsTimeout, "EGLDTAX_EXPLORER_DECIMALS_TIMEOUT")

	// ── Reconcile ──
	setStringSlice(&cfg.Reconcile.WatchedFunctions, "EGLDTAX_RECONCILE_WATCHED_FUNCTIONS")
	setStringSlice(&cfg.Reconcile.RewardFunctions, "EGLDTAX_RECONCILE_REWARD_FUNCTIONS")
	setStringSlice(&cfg.Reconcile.RewardTokens, "EGLDTAX_RECONCILE_REWARD_TOKENS")
	setStr(&cfg.Reconcile.LPPattern, "EGLDTAX_RECONCILE_LP_PATTERN")
	setStr(&cfg.Reconcile.WrappedToken, "EGLDTAX_RECONCILE_WRAPPED_TOKEN")
	setDuration(&cfg.Reconcile.DetailDelay, "EGLDTAX_RECONCILE_DETAIL_DELAY")

	// ── Server ──
	setInt(&cfg.Server.Port, "EGLDTAX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "EGLDTAX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "EGLDTAX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "EGLDTAX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "EGLDTAX_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.WriteTimeout, "EGLDTAX_SERVER_WRITE_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "EGLDTAX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "EGLDTAX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EGLDTAX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EGLDTAX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EGLDTAX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EGLDTAX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EGLDTAX_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "EGLDTAX_REDIS_KEY_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "EGLDTAX_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "EGLDTAX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "EGLDTAX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EGLDTAX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EGLDTAX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EGLDTAX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EGLDTAX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EGLDTAX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EGLDTAX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EGLDTAX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EGLDTAX_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "EGLDTAX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "EGLDTAX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EGLDTAX_S3_REGION")
	setStr(&cfg.S3.Bucket, "EGLDTAX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EGLDTAX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EGLDTAX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EGLDTAX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EGLDTAX_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "EGLDTAX_S3_PREFIX")

	// ── Cache ──
	setInt(&cfg.Cache.LocalSizeMB, "EGLDTAX_CACHE_LOCAL_SIZE_MB")
	setDuration(&cfg.Cache.ReportTTL, "EGLDTAX_CACHE_REPORT_TTL")
	setDuration(&cfg.Cache.LockTTL, "EGLDTAX_CACHE_LOCK_TTL")

	// ── Telemetry ──
	setStr(&cfg.Telemetry.ServiceName, "EGLDTAX_TELEMETRY_SERVICE_NAME")
	setStr(&cfg.Telemetry.OTLPEndpoint, "EGLDTAX_TELEMETRY_OTLP_ENDPOINT")
	setStr(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFloat64(&cfg.Telemetry.SampleRatio, "EGLDTAX_TELEMETRY_SAMPLE_RATIO")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EGLDTAX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EGLDTAX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EGLDTAX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EGLDTAX_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "EGLDTAX_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "EGLDTAX_MODE")
	setStr(&cfg.LogLevel, "EGLDTAX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
