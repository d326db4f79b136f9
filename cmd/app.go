package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/credential"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// app is the wired storefront. Every command runs against one instance.
type app struct {
	cfg         *Config
	repo        *repository.Repository
	client      *remote.Client
	credentials *credential.Store
	catalog     *catalog.SnapshotCache
	cart        *cart.Store
	engine      *cart.SyncEngine
	initiator   *checkout.Initiator
	finalizer   *checkout.Finalizer
	metrics     *metrics.Metrics
	closers     []io.Closer
}

func newApp(ctx context.Context, cfg *Config, out io.Writer) (*app, error) {
	repo, err := repository.NewRepository(cfg.DataPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, repo: repo, closers: []io.Closer{repo}}

	if err := repo.RunMigrations(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.credentials = credential.NewStore(repo, log.WithField("app", "storefront"))
	if err := a.credentials.Restore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.client, err = remote.NewClient(remote.Config{BaseURL: cfg.APIURL, Timeout: cfg.RequestTimeout}, a.credentials, log.WithField("app", "storefront"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.metrics = metrics.New()
	publisher := a.newPublisher()
	logger := log.WithField("app", "storefront")

	a.catalog = catalog.NewSnapshotCache(a.client, a.newCatalogCache(ctx), logger)
	a.cart = cart.NewStore(a.client, a.metrics, logger)
	a.engine = cart.NewSyncEngine(a.cart, a.client, a.catalog, publisher, a.metrics, logger)
	a.initiator = checkout.NewInitiator(a.cart, a.credentials, repo, a.client, checkout.WriterRedirector{W: out}, publisher, a.metrics, logger)
	a.finalizer = checkout.NewFinalizer(repo, a.client, a.engine, a.cart, publisher, a.metrics, logger)
	return a, nil
}

// newCatalogCache uses Redis when configured and reachable, memory otherwise.
func (a *app) newCatalogCache(ctx context.Context) cache.CatalogCache {
	if a.cfg.RedisAddr == "" {
		return cache.NewMemoryCache(a.cfg.CatalogTTL)
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).WithField("addr", a.cfg.RedisAddr).Warn("redis unavailable, using in-memory catalog cache")
		_ = client.Close()
		return cache.NewMemoryCache(a.cfg.CatalogTTL)
	}
	a.closers = append(a.closers, client)
	return cache.NewRedisCache(client, a.cfg.CatalogTTL)
}

func (a *app) newPublisher() events.Publisher {
	if len(a.cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}
	}
	p := events.NewKafkaPublisher(log.WithField("app", "storefront"), a.cfg.KafkaBrokers...)
	a.closers = append(a.closers, p)
	return p
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.WithError(err).Warn("close failed")
		}
	}
}
