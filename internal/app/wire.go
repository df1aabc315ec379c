package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/nativeorders/internal/blob/s3"
	"github.com/alanyoungcy/nativeorders/internal/cache/redis"
	"github.com/alanyoungcy/nativeorders/internal/config"
	"github.com/alanyoungcy/nativeorders/internal/crypto"
	"github.com/alanyoungcy/nativeorders/internal/domain"
	"github.com/alanyoungcy/nativeorders/internal/notify"
	"github.com/alanyoungcy/nativeorders/internal/server/handler"
	"github.com/alanyoungcy/nativeorders/internal/server/ws"
	"github.com/alanyoungcy/nativeorders/internal/settlement"
	"github.com/alanyoungcy/nativeorders/internal/store/badger"
	"github.com/alanyoungcy/nativeorders/internal/store/memory"
	"github.com/alanyoungcy/nativeorders/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Engine *settlement.Engine

	// Settlement ports
	State domain.OrderStateStore
	Vault domain.TokenVault
	Locks domain.LockManager
	Sink  domain.EventSink

	// Event delivery
	EventLog    domain.EventLog  // nil without a queryable sink
	Bus         domain.SignalBus // live events for the websocket hub
	Replay      ws.Replayer      // nil without redis
	RateLimiter domain.RateLimiter

	// Notifier is set when a chat sender is configured; modes run it.
	Notifier *notify.Notifier

	// Archive
	Archiver *s3blob.ArchiveImpl // nil when archiving is off

	// Badger is set when it backs State so modes can run value-log GC.
	Badger *badger.StateStore

	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}
	sc := cfg.Settlement

	// --- PostgreSQL ---
	var pgClient *postgres.Client
	if cfg.NeedsPostgres() {
		var err error
		pgClient, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.Health["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,

			DialTimeout: cfg.Redis.DialTimeout.Duration,
			ReadTimeout: cfg.Redis.ReadTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() {
			stats := redisClient.PoolStats()
			logger.Info("redis pool at shutdown",
				slog.Uint64("hits", uint64(stats.Hits)),
				slog.Uint64("misses", uint64(stats.Misses)),
				slog.Uint64("timeouts", uint64(stats.Timeouts)),
			)
			_ = redisClient.Close()
		})
		deps.Health["redis"] = redisClient.Ping
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Order state ---
	switch sc.StateBackend {
	case config.BackendBadger:
		key, err := cfg.BadgerEncryptionKey()
		if err != nil {
			return fail(fmt.Errorf("wire: badger: %w", err))
		}
		store, err := badger.Open(badger.Options{
			Path:          cfg.Badger.Path,
			InMemory:      cfg.Badger.InMemory,
			EncryptionKey: key,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: badger: %w", err))
		}
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("badger close failed", slog.String("error", err.Error()))
			}
		})
		deps.State = store
		deps.Badger = store
	case config.BackendPostgres:
		deps.State = postgres.NewStateStore(pgClient.Pool())
	default:
		deps.State = memory.NewStateStore()
	}

	// --- Token vault ---
	if sc.VaultBackend == config.BackendPostgres {
		deps.Vault = postgres.NewBalanceStore(pgClient.Pool())
	} else {
		deps.Vault = memory.NewVault()
	}

	// --- Locks ---
	if sc.LockBackend == config.BackendRedis {
		deps.Locks = redis.NewLockManager(redisClient)
	} else {
		deps.Locks = memory.NewLockManager()
	}

	// --- Event sinks ---
	var sinks []domain.EventSink
	if slices.Contains(sc.EventSinks, config.BackendPostgres) {
		store := postgres.NewEventStore(pgClient.Pool())
		sinks = append(sinks, store)
		deps.EventLog = store
	}
	if slices.Contains(sc.EventSinks, config.BackendRedis) {
		bus := redis.NewEventBus(redisClient)
		sinks = append(sinks, bus)
		deps.Bus = bus
		deps.Replay = bus
	}
	if slices.Contains(sc.EventSinks, config.BackendMemory) || deps.Bus == nil {
		// The in-process bus feeds the websocket hub when redis is absent.
		bus := memory.NewEventBus()
		sinks = append(sinks, bus)
		if deps.Bus == nil {
			deps.Bus = bus
		}
		if deps.EventLog == nil {
			deps.EventLog = bus
		}
	}
	if cfg.Notify.Enabled() {
		var senders []notify.Sender
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		if cfg.Notify.TelegramBotToken != "" {
			senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID))
		}
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.QueueSize, logger)
		sinks = append(sinks, deps.Notifier)
	}
	deps.Sink = settlement.NewFanout(sinks...)

	// --- S3 archive ---
	if cfg.Archive.Enabled || cfg.Mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.EventLog, logger)
	}

	// --- Engine ---
	fee, err := cfg.ProtocolFeeAmount()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	hasher := crypto.NewHasher(crypto.Domain{
		Name:              cfg.Domain.Name,
		Version:           cfg.Domain.Version,
		ChainID:           big.NewInt(cfg.Domain.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Domain.VerifyingContract),
	})
	deps.Engine = settlement.NewEngine(hasher, deps.State, deps.Vault, deps.Locks, deps.Sink, settlement.Options{
		LockTTL:  sc.LockTTL.Duration,
		LockWait: sc.LockWait.Duration,
		ProtocolFee: settlement.ProtocolFee{
			Amount:    fee,
			Token:     common.HexToAddress(sc.ProtocolFeeToken),
			Collector: common.HexToAddress(sc.ProtocolFeeCollector),
		},
	}, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("state", sc.StateBackend),
		slog.String("vault", sc.VaultBackend),
		slog.String("locks", sc.LockBackend),
		slog.Any("event_sinks", sc.EventSinks),
		slog.Bool("archive", deps.Archiver != nil),
		slog.String("verifying_contract", deps.Engine.Address().Hex()),
	)
	return deps, cleanup, nil
}
