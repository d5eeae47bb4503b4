package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/office-parking-reservations/internal/api"
	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/config"
	"github.com/hackgods/office-parking-reservations/internal/db"
	"github.com/hackgods/office-parking-reservations/internal/events"
	"github.com/hackgods/office-parking-reservations/internal/observability"
	redisclient "github.com/hackgods/office-parking-reservations/internal/redis"
	"github.com/hackgods/office-parking-reservations/internal/remote"
)

// App holds the booking core wired for the configured backends.
type App struct {
	Store   booking.Store
	Ledger  *booking.Ledger
	Service *booking.Service
	Checks  map[string]api.HealthCheck

	PgPool *pgxpool.Pool
	Redis  *redis.Client

	closers []func()
}

// Build connects the configured backends. Close releases them in reverse order.
func Build(ctx context.Context, cfg config.Config, logger observability.Logger) (*App, error) {
	a := &App{Checks: make(map[string]api.HealthCheck)}
	if err := a.build(ctx, cfg, logger); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg config.Config, logger observability.Logger) error {
	// Store
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return errors.Wrap(err, "postgres connection")
		}
		a.PgPool = pool
		a.closers = append(a.closers, pool.Close)
		a.Checks["postgres"] = pool.Ping

		if err := db.Migrate(ctx, pool); err != nil {
			return errors.Wrap(err, "postgres migration")
		}
		a.Store = booking.NewPgStore(pool)
		logger.Info("connected to Postgres")
	default:
		a.Store = booking.NewMemoryStore(booking.DefaultSlots(cfg.Zone)...)
		logger.Warn("using in-memory store, bookings are lost on restart")
	}

	if cfg.NeedsRedis() {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return errors.Wrap(err, "redis connection")
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.WithError(err).Error("error closing redis")
			}
		})
		a.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("connected to Redis")
	}

	// Locker
	var locker booking.Locker
	switch cfg.LockBackend {
	case config.BackendRedis:
		locker = redisclient.NewLocker(a.Redis, cfg.LockTTL, cfg.LockWait)
	case config.BackendPostgres:
		locker = db.NewAdvisoryLocker(a.PgPool)
	default:
		locker = booking.NewKeyedMutex()
	}

	// Gateway and slot source
	var (
		gateway booking.Gateway
		slots   booking.SlotSource
	)
	if cfg.UpstreamAPIURL != "" {
		client := remote.NewClient(cfg.UpstreamAPIURL,
			remote.WithLocation(cfg.Location),
			remote.WithLogger(logger.WithField("component", "upstream")),
		)
		gateway = client
		slots = client
		logger.WithField("upstream", cfg.UpstreamAPIURL).Info("bookings are submitted upstream")
	}

	// Events
	sinks := booking.FanOut{booking.StoreEvents{Store: a.Store}}
	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			return errors.Wrap(err, "rabbitmq connection")
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		pub, err := events.NewPublisher(conn)
		if err != nil {
			return errors.Wrap(err, "rabbitmq publisher")
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		a.Checks["rabbitmq"] = func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
		sinks = append(sinks, pub)
		logger.Info("publishing booking events to RabbitMQ")
	}

	a.Ledger = booking.NewLedger(a.Store, locker, gateway, sinks, logger.WithField("component", "ledger"), cfg.ConfirmTimeout)
	if slots == nil {
		slots = a.Ledger
	}

	// Cache
	var kv booking.KVStore
	switch cfg.CacheBackend {
	case config.BackendRedis:
		kv = redisclient.NewKV(a.Redis, "parking:")
	default:
		kv = booking.NewMemoryKV()
	}

	a.Service = booking.NewService(
		a.Ledger,
		booking.NewCatalog(slots, logger.WithField("component", "catalog")),
		booking.NewCacheSync(kv, a.Ledger, logger.WithField("component", "cache")),
		booking.ServiceConfig{
			Zone:     cfg.Zone,
			DayStart: cfg.DayStart,
			DayEnd:   cfg.DayEnd,
			Location: cfg.Location,
		},
		logger,
	)
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
