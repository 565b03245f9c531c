package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/upcast/upcast/backend"
	"github.com/upcast/upcast/backend/httpexec"
	"github.com/upcast/upcast/breaker"
	"github.com/upcast/upcast/concurrency"
	"github.com/upcast/upcast/config"
	"github.com/upcast/upcast/coordinator"
	"github.com/upcast/upcast/job"
	"github.com/upcast/upcast/lock"
	"github.com/upcast/upcast/logging/logger"
	"github.com/upcast/upcast/metrics"
	"github.com/upcast/upcast/nanoid"
	"github.com/upcast/upcast/processor"
	"github.com/upcast/upcast/ratelimit"
	"github.com/upcast/upcast/session"
	"github.com/upcast/upcast/storage"
	"github.com/upcast/upcast/store"
)

// engine holds the wired-up runtime for the serve command.
type engine struct {
	cfg       *config.Config
	store     store.Store
	coord     *coordinator.Coordinator
	collector *metrics.Collector
	gate      *concurrency.Gate
	locks     *lock.Manager
	routes    *ratelimit.Limiter
	rc        *redis.Client
}

// buildEngine assembles every runtime component from config. Call close when
// done.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	collector := metrics.NewCollector()

	st, err := openStore(cfg.Data)
	if err != nil {
		return nil, err
	}

	var rc *redis.Client
	if cfg.Data.Redis.Addr != "" {
		rc = redis.NewClient(&redis.Options{
			Addr:     cfg.Data.Redis.Addr,
			Username: cfg.Data.Redis.Username,
			Password: cfg.Data.Redis.Password,
			DB:       cfg.Data.Redis.Db,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	var lockStore lock.Store
	if rc != nil {
		lockStore = lock.NewRedisStore(rc, "")
	} else {
		lockStore = lock.NewMemoryStore()
	}
	locks := lock.NewManager(lockStore, cfg.Engine.LockTTL, cfg.Engine.LockRefresh, cfg.Engine.LockReap)
	locks.StartJanitor(ctx, func(count int) {
		collector.RecordLocksReaped(count)
		logger.Infof(ctx, "lock janitor reaped %d expired locks", count)
	})

	assets, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("asset storage: %w", err)
	}

	backends := backend.NewRegistry()
	if cfg.Backends.Browser.URL != "" {
		backends.Register(httpexec.New(backend.KindBrowser, cfg.Backends.Browser, assets))
	}
	if cfg.Backends.API.URL != "" {
		backends.Register(httpexec.New(backend.KindAPI, cfg.Backends.API, assets))
	}

	breakers := breaker.NewRegistry(&breaker.Config{
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.Breaker.Cooldown,
	})
	breakers.OnStateChange(func(scope string, from, to gobreaker.State) {
		if to == gobreaker.StateOpen {
			collector.RecordBreakerOpen()
		}
		logger.Warnf(ctx, "circuit %s: %s -> %s", scope, from, to)
	})

	accounts := ratelimit.New(cfg.Limiter.AccountCapacity, cfg.Limiter.AccountRefill)
	routes := ratelimit.New(cfg.Limiter.RouteCapacity, cfg.Limiter.RouteRefill)

	hostname, _ := os.Hostname()
	holder := fmt.Sprintf("%s-%s", hostname, nanoid.Lower(8))

	sessions := session.NewManager(backends)
	proxies := &backend.StaticProxyResolver{}
	proc := processor.New(backends, proxies, sessions, locks, accounts, breakers, collector, holder)

	gate, err := concurrency.NewGate(int32(cfg.Engine.MaxConcurrent))
	if err != nil {
		return nil, err
	}

	var cache *store.Cache[coordinator.JobStatus]
	if rc != nil {
		cache = store.NewCache[coordinator.JobStatus](rc, "upcast:status", cfg.Data.CacheTTL)
	}

	coord := coordinator.New(st, cache, proc, breakers, collector, cfg.Engine, gate)

	logRestoredCircuits(ctx, st)

	return &engine{
		cfg:       cfg,
		store:     st,
		coord:     coord,
		collector: collector,
		gate:      gate,
		locks:     locks,
		routes:    routes,
		rc:        rc,
	}, nil
}

func (e *engine) close() {
	if err := e.store.Close(); err != nil {
		logger.Errorf(context.Background(), "close store: %v", err)
	}
	if e.rc != nil {
		_ = e.rc.Close()
	}
}

func openStore(c *config.Data) (store.Store, error) {
	switch c.Driver {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.NewSQLite(c.Source)
	default:
		return nil, fmt.Errorf("unsupported data driver: %s", c.Driver)
	}
}

// logRestoredCircuits surfaces circuit states persisted by a previous run.
// Breakers start closed again; the log is the operator's hint to expect
// early trips.
func logRestoredCircuits(ctx context.Context, st store.Store) {
	states, err := st.GetCircuitStates(ctx)
	if err != nil {
		return
	}
	for _, cs := range states {
		if cs.State != job.CircuitClosed {
			logger.Warnf(ctx, "backend %s was %s with %d consecutive failures last run", cs.BackendKey, cs.State, cs.ConsecutiveFailures)
		}
	}
}
