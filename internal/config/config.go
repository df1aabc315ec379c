// Package config defines the top-level configuration for the settlement
// daemon and provides validation helpers.
package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NATIVEORDERS_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Log        LogConfig        `toml:"log"`
	Domain     DomainConfig     `toml:"domain"`
	Settlement SettlementConfig `toml:"settlement"`
	Wallet     WalletConfig     `toml:"wallet"`
	Badger     BadgerConfig     `toml:"badger"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
}

// LogConfig controls log output. An empty File logs to stdout only.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// DomainConfig is the EIP-712 signing domain. It must match the signing side
// byte for byte.
type DomainConfig struct {
	Name              string `toml:"name"`
	Version           string `toml:"version"`
	ChainID           int64  `toml:"chain_id"`
	VerifyingContract string `toml:"verifying_contract"`
}

// Backend names.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// SettlementConfig selects the engine's backends and tunes its locking and
// protocol fee.
type SettlementConfig struct {
	// StateBackend stores fill records and registries: memory, badger or
	// postgres.
	StateBackend string `toml:"state_backend"`
	// VaultBackend holds token balances: memory or postgres.
	VaultBackend string `toml:"vault_backend"`
	// LockBackend serialises per-order work: memory or redis.
	LockBackend string `toml:"lock_backend"`
	// EventSinks receive every settlement event: memory, redis, postgres.
	EventSinks []string `toml:"event_sinks"`

	LockTTL  duration `toml:"lock_ttl"`
	LockWait duration `toml:"lock_wait"`

	// ProtocolFeeAmount is a base-10 integer. Empty or "0" disables the fee.
	ProtocolFeeAmount    string `toml:"protocol_fee_amount"`
	ProtocolFeeToken     string `toml:"protocol_fee_token"`
	ProtocolFeeCollector string `toml:"protocol_fee_collector"`
}

// WalletConfig holds the maker key used by the order signing tool.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// BadgerConfig configures the embedded state store.
type BadgerConfig struct {
	Path     string `toml:"path"`
	InMemory bool   `toml:"in_memory"`
	// EncryptionKey is a hex-encoded 16, 24 or 32 byte AES key.
	EncryptionKey string   `toml:"encryption_key"`
	GCInterval    duration `toml:"gc_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	DialTimeout duration `toml:"dial_timeout"`
	ReadTimeout duration `toml:"read_timeout"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old events from the postgres event log to S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Retention duration `toml:"retention"`
	// Interval is how often server mode runs an archive pass.
	Interval duration `toml:"interval"`
}

// NotifyConfig forwards selected settlement events to chat webhooks.
// Notifications are off when no sender is configured.
type NotifyConfig struct {
	// Events lists event names to forward. Empty forwards all.
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	TelegramBotToken  string   `toml:"telegram_bot_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
}

// Enabled reports whether any sender is configured.
func (n NotifyConfig) Enabled() bool {
	return n.DiscordWebhookURL != "" || n.TelegramBotToken != ""
}

// duration is a wrapper around time.Duration that supports TOML string decoding.
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey gates every route but /api/health. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit caps fill requests per client IP and window. Needs redis.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Domain: DomainConfig{
			Name:              "ZeroEx",
			Version:           "1.0.0",
			ChainID:           1,
			VerifyingContract: "0xDef1C0ded9bec7F1a1670819833240f027b25EfF",
		},
		Settlement: SettlementConfig{
			StateBackend: BackendMemory,
			VaultBackend: BackendMemory,
			LockBackend:  BackendMemory,
			EventSinks:   []string{BackendMemory},
			LockTTL:      duration{30 * time.Second},
			LockWait:     duration{2 * time.Second},
		},
		Badger: BadgerConfig{
			Path:       "data/state",
			GCInterval: duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nativeorders",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
			ReadTimeout: duration{time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nativeorders-events",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Retention: duration{30 * 24 * time.Hour},
			Interval:  duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events:    []string{"LimitOrderFilled", "RfqOrderFilled"},
			QueueSize: 256,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Domain
	if strings.TrimSpace(c.Domain.Name) == "" {
		errs = append(errs, "domain: name is required")
	}
	if strings.TrimSpace(c.Domain.Version) == "" {
		errs = append(errs, "domain: version is required")
	}
	if c.Domain.ChainID <= 0 {
		errs = append(errs, "domain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Domain.VerifyingContract) {
		errs = append(errs, fmt.Sprintf("domain: verifying_contract %q is not an address", c.Domain.VerifyingContract))
	}

	// Settlement
	s := c.Settlement
	if !slices.Contains([]string{BackendMemory, BackendBadger, BackendPostgres}, s.StateBackend) {
		errs = append(errs, fmt.Sprintf("settlement: unknown state_backend %q (valid: memory, badger, postgres)", s.StateBackend))
	}
	if !slices.Contains([]string{BackendMemory, BackendPostgres}, s.VaultBackend) {
		errs = append(errs, fmt.Sprintf("settlement: unknown vault_backend %q (valid: memory, postgres)", s.VaultBackend))
	}
	if !slices.Contains([]string{BackendMemory, BackendRedis}, s.LockBackend) {
		errs = append(errs, fmt.Sprintf("settlement: unknown lock_backend %q (valid: memory, redis)", s.LockBackend))
	}
	for _, sink := range s.EventSinks {
		if !slices.Contains([]string{BackendMemory, BackendRedis, BackendPostgres}, sink) {
			errs = append(errs, fmt.Sprintf("settlement: unknown event sink %q (valid: memory, redis, postgres)", sink))
		}
	}
	if s.LockTTL.Duration <= 0 {
		errs = append(errs, "settlement: lock_ttl must be > 0")
	}
	if s.LockWait.Duration < 0 {
		errs = append(errs, "settlement: lock_wait must be >= 0")
	}
	if fee, err := c.ProtocolFeeAmount(); err != nil {
		errs = append(errs, "settlement: "+err.Error())
	} else if fee.Sign() > 0 {
		if !common.IsHexAddress(s.ProtocolFeeToken) {
			errs = append(errs, "settlement: protocol_fee_token must be an address when protocol_fee_amount is set")
		}
		if !common.IsHexAddress(s.ProtocolFeeCollector) {
			errs = append(errs, "settlement: protocol_fee_collector must be an address when protocol_fee_amount is set")
		}
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Badger
	if s.StateBackend == BackendBadger {
		if !c.Badger.InMemory && c.Badger.Path == "" {
			errs = append(errs, "badger: path must not be empty (or set badger.in_memory)")
		}
		if _, err := c.BadgerEncryptionKey(); err != nil {
			errs = append(errs, "badger: "+err.Error())
		}
	}

	// Postgres
	if c.NeedsPostgres() {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.NeedsRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Notify
	if c.Notify.TelegramBotToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required with telegram_bot_token")
	}

	// Archive
	if c.Archive.Enabled || c.Mode == "archive" {
		if !slices.Contains(s.EventSinks, BackendPostgres) {
			errs = append(errs, "archive: requires the postgres event sink")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
		if c.Archive.Enabled && c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NeedsPostgres reports whether any selected backend lives in postgres.
func (c *Config) NeedsPostgres() bool {
	s := c.Settlement
	return s.StateBackend == BackendPostgres || s.VaultBackend == BackendPostgres ||
		slices.Contains(s.EventSinks, BackendPostgres)
}

// NeedsRedis reports whether locks, events or rate limiting use redis.
func (c *Config) NeedsRedis() bool {
	s := c.Settlement
	return s.LockBackend == BackendRedis || slices.Contains(s.EventSinks, BackendRedis) ||
		(c.Mode == "server" && c.Server.RateLimit > 0)
}

// ProtocolFeeAmount parses settlement.protocol_fee_amount. Empty means zero.
func (c *Config) ProtocolFeeAmount() (*big.Int, error) {
	v := strings.TrimSpace(c.Settlement.ProtocolFeeAmount)
	if v == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("protocol_fee_amount %q is not a non-negative integer", v)
	}
	return n, nil
}

// BadgerEncryptionKey decodes badger.encryption_key. Empty means no
// encryption.
func (c *Config) BadgerEncryptionKey() ([]byte, error) {
	v := strings.TrimPrefix(strings.TrimSpace(c.Badger.EncryptionKey), "0x")
	if v == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("encryption_key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("encryption_key must be 16, 24 or 32 bytes, got %d", len(key))
	}
}
