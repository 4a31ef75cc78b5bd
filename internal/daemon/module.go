package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/auth"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/config"
	"github.com/matheus3301/pairchat/internal/dialog"
	"github.com/matheus3301/pairchat/internal/gateway"
	"github.com/matheus3301/pairchat/internal/hub"
	"github.com/matheus3301/pairchat/internal/journal"
	"github.com/matheus3301/pairchat/internal/lock"
	"github.com/matheus3301/pairchat/internal/logging"
	"github.com/matheus3301/pairchat/internal/messages"
	"github.com/matheus3301/pairchat/internal/metrics"
	"github.com/matheus3301/pairchat/internal/paths"
	"github.com/matheus3301/pairchat/internal/presence"
	"github.com/matheus3301/pairchat/internal/router"
	"github.com/matheus3301/pairchat/internal/store"
	"github.com/matheus3301/pairchat/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance   string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLayout,
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			presence.NewRegistry,
			provideDirectory,
			provideMessageLog,
			provideTyping,
			provideHub,
			provideRouter,
			provideTokens,
			provideGateway,
			provideJournal,
			provideAdminService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config == nil {
		return nil, errors.New("daemon: no configuration")
	}
	if err := p.Config.ValidateDaemon(); err != nil {
		return nil, err
	}
	return p.Config, nil
}

func provideLayout(p Params, cfg *config.Config) paths.Layout {
	return paths.Resolve(p.Instance, cfg)
}

func provideLogger(p Params, cfg *config.Config, layout paths.Layout) (*zap.Logger, error) {
	return logging.New(layout.LogPath(), p.Instance, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(layout paths.Layout, logger *zap.Logger) (*lock.Lock, error) {
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("dir", layout.Dir))
	l, err := lock.Acquire(layout.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(layout paths.Layout, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := layout.DBPath()
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

	// Nobody is connected to a freshly started coordinator.
	n, err := db.ResetPresence(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reset presence: %w", err)
	}
	logger.Info("store initialized", zap.String("path", dbPath), zap.Int64("presence_reset", n))
	return db, nil
}

func provideDirectory(b *bus.Bus) *dialog.Directory {
	return dialog.NewDirectory(b)
}

func provideMessageLog(d *dialog.Directory, b *bus.Bus) *messages.Log {
	return messages.NewLog(d, b)
}

func provideTyping(cfg *config.Config) *typing.Tracker {
	return typing.NewTracker(cfg.TypingTTL)
}

func provideHub(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *hub.Hub {
	return hub.New(cfg.SendBuffer, func(*hub.Peer) { m.SlowConsumer() }, logger.Named("hub"))
}

type routerIn struct {
	fx.In

	Config   *config.Config
	Presence *presence.Registry
	Dialogs  *dialog.Directory
	Messages *messages.Log
	Typing   *typing.Tracker
	Hub      *hub.Hub
	Store    *store.DB
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func provideRouter(in routerIn) *router.Router {
	return router.New(router.Deps{
		Presence:        in.Presence,
		Dialogs:         in.Dialogs,
		Messages:        in.Messages,
		Typing:          in.Typing,
		Hub:             in.Hub,
		Profiles:        in.Store,
		Bus:             in.Bus,
		Metrics:         in.Metrics,
		Logger:          in.Logger.Named("router"),
		UpstreamTimeout: in.Config.UpstreamTimeout,
	})
}

func provideTokens(cfg *config.Config) (*auth.Tokens, error) {
	return auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
}

func provideGateway(cfg *config.Config, tokens *auth.Tokens, r *router.Router, m *metrics.Metrics, logger *zap.Logger) *gateway.Server {
	return gateway.New(gateway.Options{
		Addr:            cfg.ListenAddr,
		OriginPatterns:  cfg.AllowedOrigins,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, auth.NewGate(tokens, cfg.CookieName), r, m, logger.Named("gateway"))
}

func provideJournal(db *store.DB, b *bus.Bus, d *dialog.Directory, l *messages.Log, m *metrics.Metrics, logger *zap.Logger) *journal.Journal {
	return journal.New(db, b, d, l, m, logger.Named("journal"))
}

type adminIn struct {
	fx.In

	Params   Params
	Presence *presence.Registry
	Dialogs  *dialog.Directory
	Messages *messages.Log
	Store    *store.DB
	Tokens   *auth.Tokens
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func provideAdminService(in adminIn) *api.Service {
	return api.NewService(api.Deps{
		Instance: in.Params.Instance,
		Presence: in.Presence,
		Dialogs:  in.Dialogs,
		Messages: in.Messages,
		Users:    in.Store,
		Tokens:   in.Tokens,
		Bus:      in.Bus,
		Logger:   in.Logger.Named("admin"),
	})
}

type lifecycleIn struct {
	fx.In

	LC      fx.Lifecycle
	Config  *config.Config
	Admin   *Server
	Gateway *gateway.Server
	Journal *journal.Journal
	Typing  *typing.Tracker
	Router  *router.Router
	Store   *store.DB
	Lock    *lock.Lock
	Logger  *zap.Logger
}

func registerLifecycle(in lifecycleIn) {
	var (
		sweepCtx    context.Context
		stopSweeper context.CancelFunc
		sweeperDone = make(chan struct{})
	)
	logger := in.Logger

	in.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Registries must be restored before the first connection.
			dialogs, msgs, err := in.Journal.Hydrate(ctx)
			if err != nil {
				return fmt.Errorf("hydrate journal: %w", err)
			}
			logger.Info("journal hydrated", zap.Int("dialogs", dialogs), zap.Int("messages", msgs))
			in.Journal.Start(context.Background())

			sweepCtx, stopSweeper = context.WithCancel(context.Background())
			go func() {
				defer close(sweeperDone)
				if ttl := in.Config.TypingTTL; ttl > 0 {
					in.Typing.Run(sweepCtx, sweepInterval(ttl), in.Router.ExpireTyping)
				}
			}()

			go func() {
				if err := in.Admin.Start(); err != nil {
					logger.Error("admin server error", zap.Error(err))
				}
			}()

			return in.Gateway.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if err := in.Gateway.Stop(ctx); err != nil {
				logger.Warn("gateway shutdown", zap.Error(err))
			}
			stopSweeper()
			<-sweeperDone
			in.Admin.Stop(ctx)
			in.Journal.Stop()
			if err := in.Store.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := in.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// sweepInterval checks for stale typing entries a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	return max(ttl/3, 100*time.Millisecond)
}
