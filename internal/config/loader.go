package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NATIVEORDERS_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NATIVEORDERS_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NATIVEORDERS_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.Log.File, "LOG_FILE")

	// ── Domain ──
	setStr(&cfg.Domain.Name, "DOMAIN_NAME")
	setStr(&cfg.Domain.Version, "DOMAIN_VERSION")
	setInt64(&cfg.Domain.ChainID, "DOMAIN_CHAIN_ID")
	setStr(&cfg.Domain.VerifyingContract, "DOMAIN_VERIFYING_CONTRACT")

	// ── Settlement ──
	setStr(&cfg.Settlement.StateBackend, "SETTLEMENT_STATE_BACKEND")
	setStr(&cfg.Settlement.VaultBackend, "SETTLEMENT_VAULT_BACKEND")
	setStr(&cfg.Settlement.LockBackend, "SETTLEMENT_LOCK_BACKEND")
	setStringSlice(&cfg.Settlement.EventSinks, "SETTLEMENT_EVENT_SINKS")
	setDuration(&cfg.Settlement.LockTTL, "SETTLEMENT_LOCK_TTL")
	setDuration(&cfg.Settlement.LockWait, "SETTLEMENT_LOCK_WAIT")
	setStr(&cfg.Settlement.ProtocolFeeAmount, "SETTLEMENT_PROTOCOL_FEE_AMOUNT")
	setStr(&cfg.Settlement.ProtocolFeeToken, "SETTLEMENT_PROTOCOL_FEE_TOKEN")
	setStr(&cfg.Settlement.ProtocolFeeCollector, "SETTLEMENT_PROTOCOL_FEE_COLLECTOR")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	// ── Badger ──
	setStr(&cfg.Badger.Path, "BADGER_PATH")
	setBool(&cfg.Badger.InMemory, "BADGER_IN_MEMORY")
	setStr(&cfg.Badger.EncryptionKey, "BADGER_ENCRYPTION_KEY")
	setDuration(&cfg.Badger.GCInterval, "BADGER_GC_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.DialTimeout, "REDIS_DIAL_TIMEOUT")
	setDuration(&cfg.Redis.ReadTimeout, "REDIS_READ_TIMEOUT")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Retention, "ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")

	// ── Notify ──
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")
	setInt(&cfg.Notify.QueueSize, "NOTIFY_QUEUE_SIZE")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramBotToken, "NOTIFY_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "SERVER_RATE_LIMIT_WINDOW")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
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
