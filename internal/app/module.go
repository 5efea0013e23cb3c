package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/bus"
	"github.com/ntbao/zylo/internal/call"
	"github.com/ntbao/zylo/internal/config"
	"github.com/ntbao/zylo/internal/convo"
	"github.com/ntbao/zylo/internal/dispatch"
	"github.com/ntbao/zylo/internal/event"
	"github.com/ntbao/zylo/internal/exclusion"
	"github.com/ntbao/zylo/internal/lock"
	"github.com/ntbao/zylo/internal/logging"
	"github.com/ntbao/zylo/internal/rest"
	"github.com/ntbao/zylo/internal/roster"
	"github.com/ntbao/zylo/internal/rtc"
	"github.com/ntbao/zylo/internal/transport"
)

// Params holds the resolved session identity passed to the fx module.
type Params struct {
	SessionName string
	UserID      string
	Token       string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the client, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("zylo",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideExclusion,
			provideNormalizer,
			provideSession,
			provideStore,
			provideRoster,
			provideCallMachine,
			provideMediaSource,
			provideCallController,
			provideDispatcher,
			provideRestClient,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		// First run: fall back to defaults without writing anything.
		return config.Default(), nil
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := EnsureSessionDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(SessionDir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideExclusion(p Params, logger *zap.Logger) (*exclusion.DB, error) {
	dbPath := ExclusionDBPath(p.SessionName)
	db, err := exclusion.Open(dbPath)
	if err != nil {
		return nil, err
	}
	logger.Info("exclusion store ready", zap.String("path", dbPath))
	return db, nil
}

func provideNormalizer(logger *zap.Logger) *event.Normalizer {
	return event.NewNormalizer(logger)
}

func provideSession(cfg *config.Config, norm *event.Normalizer, b *bus.Bus, logger *zap.Logger) *transport.Session {
	return transport.NewSession(transport.Config{
		ServerURL:      cfg.ServerURL,
		ConnectTimeout: cfg.ConnectTimeout.Duration,
		ReconnectDelay: cfg.ReconnectDelay.Duration,
		Heartbeat:      cfg.Heartbeat.Duration,
	}, norm, b, logger)
}

func provideStore(p Params, cfg *config.Config, db *exclusion.DB, b *bus.Bus, logger *zap.Logger) *convo.Store {
	return convo.NewStore(p.UserID, db, b, logger, cfg.CacheConversations)
}

func provideRoster(p Params, b *bus.Bus, logger *zap.Logger) *roster.Cache {
	return roster.NewCache(p.UserID, b, logger)
}

func provideCallMachine(b *bus.Bus) *call.Machine {
	return call.NewMachine(b)
}

func provideMediaSource() *rtc.Source {
	return rtc.NewSource()
}

func provideCallController(p Params, cfg *config.Config, machine *call.Machine, src *rtc.Source, d *dispatch.Dispatcher, logger *zap.Logger) *call.Controller {
	factory := rtc.NewPeerFactory(cfg.STUNServers, logger)
	return call.NewController(p.UserID, machine, src, factory, d, logger)
}

func provideDispatcher(p Params, session *transport.Session, db *exclusion.DB, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(session, db, p.UserID, logger)
}

func provideRestClient(p Params, cfg *config.Config, norm *event.Normalizer, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.RestBaseURL, p.Token, p.UserID, cfg.ConnectTimeout.Duration, norm, logger)
}

func provideClient(p Params, session *transport.Session, store *convo.Store, rosterCache *roster.Cache,
	calls *call.Controller, d *dispatch.Dispatcher, restClient *rest.Client, b *bus.Bus, logger *zap.Logger) *Client {
	return NewClient(p.UserID, p.Token, session, store, rosterCache, calls, d, restClient, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, client *Client, db *exclusion.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Connect in the background so startup is not held hostage
			// by a slow handshake. The first error is logged here once;
			// the session keeps retrying on its fixed delay until
			// Disconnect.
			go func() {
				if err := client.Connect(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			client.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("error closing exclusion store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
