package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/francois95140/MonVoisin3000-sub000/internal/auth"
	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/config"
	"github.com/francois95140/MonVoisin3000-sub000/internal/convo"
	"github.com/francois95140/MonVoisin3000-sub000/internal/lock"
	"github.com/francois95140/MonVoisin3000-sub000/internal/logging"
	"github.com/francois95140/MonVoisin3000-sub000/internal/outbox"
	"github.com/francois95140/MonVoisin3000-sub000/internal/presence"
	"github.com/francois95140/MonVoisin3000-sub000/internal/realtime"
	"github.com/francois95140/MonVoisin3000-sub000/internal/rest"
	"github.com/francois95140/MonVoisin3000-sub000/internal/session"
	"github.com/francois95140/MonVoisin3000-sub000/internal/status"
	"github.com/francois95140/MonVoisin3000-sub000/internal/store"
	intsync "github.com/francois95140/MonVoisin3000-sub000/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ServerURL   string // optional override for testing; empty = config value
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTokenStore,
			provideRestClient,
			provideRealtimeSession,
			providePresenceTracker,
			provideViewModel,
			provideSyncEngine,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(p Params, logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Warn("config load failed, using defaults", zap.Error(err))
		cfg = &config.Config{}
	}
	if p.ServerURL != "" {
		cfg.ServerURL = p.ServerURL
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
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

// provideTokenStore picks persistence per the remember-me setting: a
// file the daemon can reuse across restarts, or memory that dies with
// the process.
func provideTokenStore(p Params, cfg *config.Config) auth.TokenStore {
	if cfg.RememberMe {
		return auth.NewFileStore(session.TokenPath(p.SessionName))
	}
	return auth.NewMemStore()
}

func provideRestClient(cfg *config.Config, tokens auth.TokenStore) *rest.Client {
	return rest.New(cfg.Server(), tokens)
}

func provideRealtimeSession(cfg *config.Config, tokens auth.TokenStore, b *bus.Bus, m *status.Machine, logger *zap.Logger) *realtime.Session {
	return realtime.NewSession(cfg.Server(), tokens, b, m, logger)
}

func providePresenceTracker(rt *realtime.Session, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.New(rt, b, logger)
}

func provideViewModel(rt *realtime.Session, rc *rest.Client, tracker *presence.Tracker, db *store.DB, b *bus.Bus, tokens auth.TokenStore, logger *zap.Logger) *convo.ViewModel {
	selfID := ""
	if token, err := tokens.Token(); err == nil {
		if id, err := auth.UserIDFromToken(token); err == nil {
			selfID = id
		} else {
			logger.Warn("could not extract user id from token", zap.Error(err))
		}
	}
	return convo.New(selfID, rt, rc, tracker, db, b, logger)
}

func provideSyncEngine(db *store.DB, rc *rest.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, rc, b, logger)
}

func provideSender(db *store.DB, rt *realtime.Session, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, rt, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, rt *realtime.Session, tracker *presence.Tracker, vm *convo.ViewModel, engine *intsync.Engine, sender *outbox.Sender, tokens auth.TokenStore, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Entries stuck in "sending" from a previous crash go back
			// to the queue.
			if err := db.RequeueOutboxSending(); err != nil {
				logger.Warn("outbox requeue failed", zap.Error(err))
			}

			tracker.Start(context.Background())
			vm.Hydrate()
			vm.Start(context.Background())
			engine.Start(context.Background())
			sender.Start(context.Background())

			token, err := tokens.Token()
			if err != nil {
				logger.Info("no auth token yet, staying offline")
				return nil
			}
			userID, err := auth.UserIDFromToken(token)
			if err != nil {
				logger.Error("stored token is unusable", zap.Error(err))
				return nil
			}

			go func() {
				if err := rt.Connect(userID); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
				// First full load; reconnects trigger their own reloads
				// through the session.connected bus event.
				vm.Load(context.Background())
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			engine.Stop()
			vm.Stop()
			tracker.Stop()
			rt.Disconnect()
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
