package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatsync/pkg/api"
	"chatsync/pkg/cache"
	"chatsync/pkg/config"
	"chatsync/pkg/engine"
	"chatsync/pkg/logger"
	"chatsync/pkg/mutate"
	"chatsync/pkg/push"
	"chatsync/pkg/store/conversations"
	"chatsync/pkg/store/timeline"
)

// App encapsulates the daemon components and lifecycle.
type App struct {
	cfg       *config.Config
	addr      string
	version   string
	commit    string
	buildDate string

	client *api.Client
	cache  *cache.Cache
	eng    *engine.Engine
	bus    *push.Bus

	srv *http.Server
}

// New initializes resources that do not require a running context: the
// REST client, the warm-start cache, the stores, the mutation handler
// and the engine. It does not connect the push channel or bind the debug
// listener; call Run to start those and block until shutdown.
func New(cfg *config.Config, addr, version, commit, buildDate string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, addr: addr, version: version, commit: commit, buildDate: buildDate}

	a.client = api.New(cfg.Server.BaseURL, cfg.Server.Token)

	if cfg.Cache.Enabled {
		c, err := cache.Open(cfg.CachePath())
		if err != nil {
			return nil, fmt.Errorf("failed to open cache at %s: %w", cfg.CachePath(), err)
		}
		a.cache = c
	}

	convs := conversations.New(cfg.Client.UserID)
	timelines := timeline.NewSet()
	muts := mutate.New(a.client, timelines, convs, cfg.Client.UserID)

	a.eng = engine.New(engine.Config{
		API:       a.client,
		Mutations: muts,
		Convs:     convs,
		Timelines: timelines,
		Cache:     a.cache,
		LocalUser: cfg.Client.UserID,
		PageSize:  cfg.Client.PageSize,
	})

	a.bus = push.New(cfg.Server.PushURL, a.client, a.eng.HandleEvent, a.eng.OnConnected)
	a.eng.SetSubscriber(a.bus)

	return a, nil
}

// Run connects the push channel, starts the cache sweeper and the debug
// HTTP server, and blocks until ctx is canceled or a fatal server error
// occurs.
func (a *App) Run(ctx context.Context) error {
	a.eng.SeedFromCache()

	if err := a.bus.SubscribeUser(ctx, a.cfg.Client.UserID); err != nil {
		return err
	}
	go a.bus.Run(ctx)

	if a.cache != nil {
		stop, err := a.cache.StartSweeper(ctx, a.cfg.Cache.SweepCron, a.cfg.Cache.MaxConversations)
		if err != nil {
			return fmt.Errorf("cache sweeper: %w", err)
		}
		defer stop()
	}

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// Engine exposes the sync engine for embedding callers.
func (a *App) Engine() *engine.Engine { return a.eng }

func (a *App) shutdown() {
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(sctx)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("cache_close_failed", "error", err)
		}
	}
	logger.Info("shutdown_complete")
}
