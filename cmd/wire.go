package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/okian/lootbox/internal/adapters/balance"
	"github.com/okian/lootbox/internal/adapters/commerce"
	"github.com/okian/lootbox/internal/adapters/http/api"
	"github.com/okian/lootbox/internal/adapters/http/site"
	"github.com/okian/lootbox/internal/adapters/http/swagger"
	"github.com/okian/lootbox/internal/adapters/lock"
	"github.com/okian/lootbox/internal/adapters/repository"
	app "github.com/okian/lootbox/internal/app"
	"github.com/okian/lootbox/internal/config"
	"github.com/okian/lootbox/internal/domain/catalog"
	"github.com/okian/lootbox/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// components holds everything main has to start and tear down.
type components struct {
	svc     *app.Service
	handler http.Handler
	closers []func() error
}

func (c *components) close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// build wires the service and HTTP routes from cfg. The returned service has
// not been started.
func build(ctx context.Context, cfg *config.Config, log logger.Logger) (*components, error) {
	c := &components{}

	boxes, err := catalog.New(cfg.LootBoxes())
	if err != nil {
		return nil, err
	}

	client := commerce.NewClient(cfg.Commerce.BaseURL,
		commerce.WithAPIVersion(cfg.Commerce.APIVersion),
		commerce.WithAccessToken(cfg.Commerce.AccessToken),
		commerce.WithTimeout(cfg.Commerce.Timeout()),
	)
	balances := balance.NewStore(client, balance.WithAttribute(cfg.Balance.Namespace, cfg.Balance.Key))

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		c.closers = append(c.closers, rdb.Close)
		locker = lock.NewRedisLocker(rdb, lock.WithTTL(cfg.Redis.LockTTL()))
		log.Info(ctx, "using redis customer lock", logger.String("addr", cfg.Redis.Addr))
	}

	var ledger repository.Store
	switch cfg.Ledger.Driver {
	case config.LedgerPostgres:
		pg, err := repository.OpenPostgres(ctx, cfg.Ledger.DSN)
		if err != nil {
			_ = c.close()
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			_ = c.close()
			return nil, err
		}
		// Service.Stop closes the ledger.
		ledger = pg
		log.Info(ctx, "using postgres ledger")
	default:
		ledger = repository.NewMemoryStore()
	}

	c.svc = app.New(balances, client, boxes,
		app.WithLogger(log),
		app.WithLocker(locker),
		app.WithLockWaitTimeout(cfg.Lock.WaitTimeout()),
		app.WithLedger(ledger),
		app.WithOrderTimeout(cfg.Commerce.Timeout()),
		app.WithDedupeSize(cfg.Idempotency.CacheSize),
		app.WithReconcile(cfg.Reconcile.Enabled),
		app.WithWorkerCount(cfg.Reconcile.WorkerCount),
		app.WithQueueSize(cfg.Reconcile.QueueSize),
		app.WithMaxAttempts(cfg.Reconcile.MaxAttempts),
		app.WithSweepInterval(cfg.Reconcile.Interval()),
		app.WithSweepBatch(cfg.Reconcile.BatchSize),
	)

	mux := http.NewServeMux()
	site.Register(ctx, mux)
	swagger.Register(ctx, mux)
	apiServer := api.NewServer(c.svc, c.svc, api.WithCORS(api.CORSConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		MaxAge:         cfg.CORS.MaxAge,
	}))
	apiServer.Register(ctx, mux)
	c.handler = apiServer.Handler(mux)

	return c, nil
}
