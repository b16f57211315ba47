package client

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/telavy/convo/internal/cache"
	"github.com/telavy/convo/internal/lock"
	"github.com/telavy/convo/internal/logging"
	"github.com/telavy/convo/internal/network"
	"github.com/telavy/convo/internal/queue"
	"github.com/telavy/convo/internal/session"
	"github.com/telavy/convo/internal/status"
	"github.com/telavy/convo/internal/store"
	intsync "github.com/telavy/convo/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	BaseURL string
	Token   string
	UserID  string
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("client",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideStateMachine,
			provideLock,
			provideStore,
			provideManager,
			provideNetwork,
			provideQueue,
			provideEngine,
			New,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideStateMachine() *status.Machine {
	return status.NewMachine()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
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

func provideManager(p Params, db *store.DB, logger *zap.Logger) *cache.Manager {
	mgr := cache.NewManager(db, logger)
	mgr.SetSelf(p.UserID)
	return mgr
}

func provideNetwork(p Params) network.Collaborator {
	return network.NewClient(network.ClientConfig{
		BaseURL: p.BaseURL,
		Token:   p.Token,
	})
}

func provideQueue(db *store.DB, mgr *cache.Manager, net network.Collaborator, logger *zap.Logger) *queue.Queue {
	return queue.New(db, mgr, net, logger)
}

func provideEngine(db *store.DB, mgr *cache.Manager, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, mgr, logger)
}

func registerLifecycle(lc fx.Lifecycle, c *Client, q *queue.Queue, db *store.DB, lk *lock.Lock, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := q.Start(context.Background()); err != nil {
				return err
			}

			_ = machine.Transition(status.Connecting)
			_ = machine.Transition(status.LoggedIn)

			// Initial reconciliation runs in the background so startup
			// does not block on the network.
			go func() {
				if err := c.Sync(context.Background()); err != nil {
					logger.Error("initial sync failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			q.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
