package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/notify"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
	"github.com/alanyoungcy/flasharb/internal/store/postgres"
)

// memoryCapacity bounds the in-memory stores used when Postgres is off.
const memoryCapacity = 10_000

// settlementStore is a settlement store the archiver can prune.
type settlementStore interface {
	domain.SettlementStore
	s3blob.SettlementPruner
}

// Dependencies bundles the infrastructure the modes share. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores. ConfigStore is nil without Postgres.
	Settlements settlementStore
	Attempts    domain.AttemptStore
	Audit       domain.AuditStore
	ConfigStore domain.ConfigurationStore

	// Redis-backed coordination. All nil when Redis is disabled.
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Replay is Redis-backed when Redis is on, in-process otherwise.
	Replay domain.ReplayGuard

	// Archiver is nil unless S3 is enabled.
	Archiver *s3blob.SettlementArchiver

	Notifier *notify.Notifier

	// Health lists the checks /api/health runs.
	Health map[string]handler.Pinger
}

// pingFunc adapts a ping function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs the infrastructure selected by cfg and returns it with a
// cleanup function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Replay: memory.NewReplayGuard(),
		Health: map[string]handler.Pinger{},
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Settlements = postgres.NewSettlementStore(pool)
		deps.Attempts = postgres.NewAttemptStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.ConfigStore = postgres.NewConfigurationStore(pool)
		deps.Health["postgres"] = pgClient
	} else {
		deps.Settlements = memory.NewSettlementStore(memoryCapacity)
		deps.Attempts = memory.NewAttemptStore(memoryCapacity)
		deps.Audit = memory.NewAuditStore(memoryCapacity)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Replay = redis.NewReplayGuard(redisClient)
		deps.Health["redis"] = redisClient
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Settlements,
			deps.Settlements,
			deps.Audit,
		)
		deps.Health["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)
	return deps, cleanup, nil
}
