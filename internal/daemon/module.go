package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/omnitak/takcore/internal/blob"
	"github.com/omnitak/takcore/internal/bus"
	"github.com/omnitak/takcore/internal/config"
	"github.com/omnitak/takcore/internal/cot"
	"github.com/omnitak/takcore/internal/engine"
	"github.com/omnitak/takcore/internal/lock"
	"github.com/omnitak/takcore/internal/logging"
	"github.com/omnitak/takcore/internal/paths"
	"github.com/omnitak/takcore/internal/queue"
	"github.com/omnitak/takcore/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideConfig,
			provideStore,
			provideBlobStore,
			provideDecoder,
			provideQueue,
			provideEngine,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(paths.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideConfig loads the profile config and generates a stable uid on
// first start so every event this node produces is attributable.
func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	cfgPath := paths.ConfigPath(p.Profile)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.UID == "" {
		cfg.UID = "TAKCORE-" + uuid.NewString()
		if cfg.Callsign == "" {
			cfg.Callsign = p.Profile
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("persist generated identity: %w", err)
		}
		logger.Info("generated node identity", zap.String("uid", cfg.UID), zap.String("callsign", cfg.Callsign))
	}
	return cfg, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(p.Profile)
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

func provideBlobStore(p Params) (*blob.FileStore, error) {
	return blob.New(paths.AttachmentsDir(p.Profile))
}

func provideDecoder(blobs *blob.FileStore) *cot.Decoder {
	return &cot.Decoder{Blobs: blobs}
}

func provideQueue(p Params, cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) (*queue.Queue, error) {
	qc := queue.Config{
		WorkingSetCap: cfg.Queue.WorkingSetCap,
		RetentionDays: cfg.Queue.RetentionDays,
		ArchiveDir:    paths.ArchiveDir(p.Profile),
	}
	if cfg.Queue.FlushIntervalSeconds > 0 {
		qc.FlushInterval = time.Duration(cfg.Queue.FlushIntervalSeconds) * time.Second
	}
	if cfg.Queue.CleanupIntervalMinutes > 0 {
		qc.CleanupInterval = time.Duration(cfg.Queue.CleanupIntervalMinutes) * time.Minute
	}
	return queue.New(qc, db, b, logger)
}

func provideEngine(cfg *config.Config, dec *cot.Decoder, q *queue.Queue, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.New(engine.Options{
		Self: cot.Identity{UID: cfg.UID, Callsign: cfg.Callsign},
		Team: cfg.Team,
		Role: cfg.Role,
	}, dec, q, b, logger)
}

func provideServer(p Params, logger *zap.Logger, eng *engine.Engine, q *queue.Queue, b *bus.Bus, cfg *config.Config) (*Server, error) {
	return NewServer(p, logger, eng, q, b, cfg.Queue.RetentionDays)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, q *queue.Queue, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			q.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
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
