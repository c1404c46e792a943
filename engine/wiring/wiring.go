// Package wiring assembles the engine from configuration. Both binaries go
// through Build so every call path gets the same governor.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/storage/redis/v3"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/groundwork/engine/config"
	"github.com/WessleyAI/groundwork/engine/governor"
	"github.com/WessleyAI/groundwork/engine/graph"
	"github.com/WessleyAI/groundwork/engine/identity"
	"github.com/WessleyAI/groundwork/engine/retrieval"
	"github.com/WessleyAI/groundwork/engine/tenant"
	"github.com/WessleyAI/groundwork/engine/terms"
	"github.com/WessleyAI/groundwork/engine/usage"
	"github.com/WessleyAI/groundwork/pkg/metrics"
	"github.com/WessleyAI/groundwork/pkg/natsutil"
)

// ErrNoCredentialSource is returned when neither static keys nor a tenant
// database are configured.
var ErrNoCredentialSource = errors.New("no credential source configured (STATIC_KEYS or DATABASE_URL)")

// Engine is the assembled dependency graph.
type Engine struct {
	Governor *governor.Governor
	Metrics  *metrics.Engine
	Store    graph.Store
	Tenants  *tenant.Store // nil without DATABASE_URL
	Recorder *usage.Fanout

	Identities *identity.CachingResolver

	closers []func()
}

// Close releases every connection in reverse order of acquisition.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *Engine) onClose(f func()) { e.closers = append(e.closers, f) }

// Build connects the configured backends. On error everything acquired so
// far is released.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Engine, err error) {
	e := &Engine{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if e.Store, err = buildStore(ctx, e, cfg, logger); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		if err := tenant.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		if e.Tenants, err = tenant.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		e.onClose(e.Tenants.Close)
	}
	if e.Identities, err = buildResolver(cfg, e); err != nil {
		return nil, err
	}

	ledger, err := buildLedger(cfg, e)
	if err != nil {
		return nil, err
	}

	e.Recorder = usage.NewFanout(e.Metrics, logger).
		Add("ledger", usage.LedgerRecorder{Ledger: ledger}).
		Add("metrics", usage.MetricsRecorder{Metrics: e.Metrics})
	if e.Tenants != nil {
		e.Recorder.Add("postgres", e.Tenants)
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		e.onClose(func() { _ = nc.Drain() })
		e.Recorder.Add("nats", usage.NATSRecorder{Publisher: nc, Subject: cfg.UsageSubject})
		if _, err := natsutil.Subscribe(nc, cfg.RevocationSubject, e.revoker(logger)); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", cfg.RevocationSubject, err)
		}
	}

	svc := retrieval.New(e.Store, terms.New(cfg.Tuning.VocabularyOrDefault()), logger)
	e.Governor = governor.New(e.Identities, svc, governor.Options{
		Quota:         usage.NewQuota(cfg.Tuning.PlansOrDefault(), ledger, logger),
		Meter:         usage.NewMeter(cfg.Tuning.Meter),
		Recorder:      e.Recorder,
		Metrics:       e.Metrics,
		Logger:        logger,
		SchemaVersion: cfg.SchemaVersion,
	})
	logger.Info("engine ready",
		"store", storeKind(cfg),
		"tenants", e.Tenants != nil,
		"sinks", e.Recorder.Sinks(),
	)
	return e, nil
}

func buildStore(ctx context.Context, e *Engine, cfg config.Config, logger *slog.Logger) (graph.Store, error) {
	if cfg.GraphFixture != "" {
		f, err := graph.LoadFixture(cfg.GraphFixture)
		if err != nil {
			return nil, err
		}
		return graph.NewMemoryStore(f), nil
	}

	n := cfg.Neo4j
	driver, err := neo4j.NewDriverWithContext(n.URL, neo4j.BasicAuth(n.User, n.Pass, ""), func(c *neo4j.Config) {
		if n.MaxPool > 0 {
			c.MaxConnectionPoolSize = n.MaxPool
		}
		if n.AcquireTimeout > 0 {
			c.ConnectionAcquisitionTimeout = n.AcquireTimeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	e.onClose(func() { _ = driver.Close(context.Background()) })
	if err := driver.VerifyConnectivity(ctx); err != nil {
		logger.Warn("neo4j not reachable at startup", "url", n.URL, "err", err)
	}
	return graph.NewDriverStore(driver, n.Database, n.QueryTimeout,
		graph.WithQueryObserver(e.Metrics.ObserveQuery),
		graph.WithLogger(logger),
	), nil
}

// revoker evicts a revoked key from the identity cache so it stops
// resolving before its TTL runs out.
func (e *Engine) revoker(logger *slog.Logger) func(context.Context, identity.Revocation) {
	return func(_ context.Context, r identity.Revocation) {
		n := e.Identities.InvalidateFingerprint(r.Fingerprint)
		logger.Info("key revoked", "key_fingerprint", r.Fingerprint, "evicted", n)
	}
}

func buildResolver(cfg config.Config, e *Engine) (*identity.CachingResolver, error) {
	var chain identity.Chain
	if cfg.StaticKeys != "" {
		keys, err := identity.ParseStaticKeys(cfg.StaticKeys)
		if err != nil {
			return nil, err
		}
		chain = append(chain, identity.NewStaticResolver(keys))
	}
	if e.Tenants != nil {
		chain = append(chain, e.Tenants)
	}
	if len(chain) == 0 {
		return nil, ErrNoCredentialSource
	}
	return identity.NewCachingResolver(chain, cfg.IdentityCacheSize, cfg.IdentityCacheTTL,
		identity.WithObserver(e.Metrics.IdentityLookup)), nil
}

func buildLedger(cfg config.Config, e *Engine) (usage.Ledger, error) {
	if cfg.RedisURL == "" {
		return usage.NewMemoryLedger(), nil
	}
	store, err := openRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	e.onClose(func() { _ = store.Close() })
	return usage.NewRedisLedger(store, ""), nil
}

// openRedis turns the storage constructor's connect panic into an error.
func openRedis(url string) (store *redis.Storage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("redis connect: %v", r)
		}
	}()
	return redis.New(redis.Config{URL: url}), nil
}

func storeKind(cfg config.Config) string {
	if cfg.GraphFixture != "" {
		return "fixture"
	}
	return "neo4j"
}
