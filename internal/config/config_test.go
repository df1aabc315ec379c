package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.NeedsPostgres())
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[settlement]
state_backend = "badger"
lock_ttl = "45s"
protocol_fee_amount = "1000"
protocol_fee_token = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
protocol_fee_collector = "0x1111111111111111111111111111111111111111"

[badger]
in_memory = true
`), 0o600))

	t.Setenv("NATIVEORDERS_SERVER_PORT", "9100")
	t.Setenv("NATIVEORDERS_SETTLEMENT_EVENT_SINKS", "memory, redis")
	t.Setenv("NATIVEORDERS_SERVER_API_KEY", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendBadger, cfg.Settlement.StateBackend)
	assert.Equal(t, 45*time.Second, cfg.Settlement.LockTTL.Duration)
	assert.Equal(t, 2*time.Second, cfg.Settlement.LockWait.Duration, "default kept")
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"memory", "redis"}, cfg.Settlement.EventSinks)
	assert.True(t, cfg.NeedsRedis())

	fee, err := cfg.ProtocolFeeAmount()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), fee.Int64())

	red := RedactedConfig(cfg)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "s3cret", cfg.Server.APIKey)
	red.Settlement.EventSinks[0] = "changed"
	assert.Equal(t, "memory", cfg.Settlement.EventSinks[0])
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Domain.VerifyingContract = "nope"
	cfg.Settlement.StateBackend = "sqlite"
	cfg.Settlement.ProtocolFeeAmount = "5"
	cfg.Archive.Enabled = true
	cfg.Notify.TelegramBotToken = "bot"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"verifying_contract",
		`unknown state_backend "sqlite"`,
		"protocol_fee_token",
		"archive: requires the postgres event sink",
		"notify: telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestBadgerEncryptionKey(t *testing.T) {
	cfg := Defaults()
	key, err := cfg.BadgerEncryptionKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	cfg.Badger.EncryptionKey = "0x000102030405060708090a0b0c0d0e0f"
	key, err = cfg.BadgerEncryptionKey()
	require.NoError(t, err)
	assert.Len(t, key, 16)

	cfg.Badger.EncryptionKey = "abcd"
	_, err = cfg.BadgerEncryptionKey()
	assert.Error(t, err)
}

func TestDomainNameAndVersion(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "ZeroEx", cfg.Domain.Name)
	assert.Equal(t, "1.0.0", cfg.Domain.Version)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[domain]
version = "2.0.0"
`), 0o600))
	t.Setenv("NATIVEORDERS_DOMAIN_NAME", "Settlement")

	loaded, err := Load(path)
	require.NoError(t, err)
	cfg = *loaded
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Settlement", cfg.Domain.Name)
	assert.Equal(t, "2.0.0", cfg.Domain.Version)
	assert.Equal(t, int64(1), cfg.Domain.ChainID, "default kept")

	cfg.Domain.Name = " "
	cfg.Domain.Version = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain: name is required")
	assert.Contains(t, err.Error(), "domain: version is required")
}
