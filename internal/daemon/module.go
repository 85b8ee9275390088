// Package daemon composes the messaging core into a runnable fx app.
package daemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rafaelbarros/feira/internal/api"
	"github.com/rafaelbarros/feira/internal/backend"
	"github.com/rafaelbarros/feira/internal/bus"
	"github.com/rafaelbarros/feira/internal/config"
	"github.com/rafaelbarros/feira/internal/convo"
	"github.com/rafaelbarros/feira/internal/lock"
	"github.com/rafaelbarros/feira/internal/logging"
	"github.com/rafaelbarros/feira/internal/messaging"
	"github.com/rafaelbarros/feira/internal/netmon"
	"github.com/rafaelbarros/feira/internal/queue"
	"github.com/rafaelbarros/feira/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup options passed to the fx module.
type Params struct {
	DataDir string
	Listen  string // optional override of the configured listen address
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideLock,
			provideBus,
			provideStore,
			provideMonitor,
			provideSimulator,
			provideQueue,
			provideCache,
			provideFacade,
			provideHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.DataDir)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := filepath.Join(p.DataDir, "config.toml")
	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		logger.Info("no config file, writing defaults", zap.String("path", path))
		cfg = config.Default()
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if p.Listen != "" {
		cfg.HTTP.Listen = p.Listen
	}
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("data_dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideStore opens and migrates the outbox database. A failure here is
// fatal to the daemon: running without durable storage would silently break
// the delivery contract.
func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.DataDir, "feira.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMonitor() *netmon.Manual {
	// The simulated backend is in-process, so the link starts online. A
	// real transport would swap in a netmon.Probe here.
	return netmon.NewManual(true)
}

func provideSimulator(cfg *config.Config) *backend.Simulator {
	return backend.NewSimulator(backend.SimOptions{
		Latency:     cfg.Backend.Latency(),
		FailureRate: cfg.Backend.FailureRate,
	})
}

func provideQueue(db *store.DB, sim *backend.Simulator, mon *netmon.Manual, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *queue.Queue {
	return queue.New(db, sim, mon, b, cfg.Queue, logger)
}

func provideCache(sim *backend.Simulator, b *bus.Bus, logger *zap.Logger) *convo.Cache {
	return convo.NewCache(sim, b, logger)
}

func provideFacade(cache *convo.Cache, q *queue.Queue, sim *backend.Simulator, logger *zap.Logger) *messaging.Service {
	return messaging.New(cache, q, sim, logger)
}

func provideHandler(svc *messaging.Service, b *bus.Bus, logger *zap.Logger) *api.Handler {
	return api.NewHandler(svc, b, logger)
}

func provideServer(cfg *config.Config, h *api.Handler, logger *zap.Logger) *api.Server {
	return api.NewServer(cfg.HTTP.Listen, h, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *api.Server, q *queue.Queue, svc *messaging.Service, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			q.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			svc.Close()
			q.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
