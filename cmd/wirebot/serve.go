package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/sync/errgroup"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/adapter/discord"
	"github.com/wirebotio/wirebot/internal/adapter/feishu"
	"github.com/wirebotio/wirebot/internal/adapter/telegram"
	"github.com/wirebotio/wirebot/internal/adapter/wecombot"
	"github.com/wirebotio/wirebot/internal/codec"
	"github.com/wirebotio/wirebot/internal/config"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/logger"
	"github.com/wirebotio/wirebot/internal/pipeline"
	"github.com/wirebotio/wirebot/internal/pipeline/stages"
	"github.com/wirebotio/wirebot/internal/plugin"
	"github.com/wirebotio/wirebot/internal/runner"
	"github.com/wirebotio/wirebot/internal/server"
	"github.com/wirebotio/wirebot/internal/session"
	"github.com/wirebotio/wirebot/internal/store"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			session.NewStore,
			pipeline.NewPool,
			provideRunnerRegistry,
			provideBus,
			provideStages,
			provideManager,
			provideAdapterRegistry,
			provideServerHandlers,
			provideServer,
		),
		fx.Invoke(
			loadPipelines,
			bindBots,
			startAdapters,
			startCleanupSweep,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg := cfg.Store.Postgres
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			pg.User, pg.Password, pg.Host, pg.Port, pg.Database, pg.SSLMode)
		pool, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { pool.Close(); return nil }})
		return store.NewPostgres(pool), nil
	default:
		return store.NewFileStore(cfg.Store.Path)
	}
}

func provideRunnerRegistry() *runner.Registry {
	reg := runner.NewRegistry()
	reg.MustRegister("openai", runner.NewOpenAI)
	return reg
}

func provideBus(log *slog.Logger, cfg config.Config) pipeline.Bus {
	if cfg.Plugin.Endpoint == "" {
		return pipeline.NopBus{}
	}
	return plugin.NewMCPBridge(log, cfg.Plugin.Endpoint)
}

func provideStages(log *slog.Logger, runners *runner.Registry) pipeline.Stages {
	return stages.DefaultSet(log, runners)
}

func provideManager(log *slog.Logger, st store.Store, sessions *session.Store, set pipeline.Stages, bus pipeline.Bus, pool *pipeline.Pool) *pipeline.Manager {
	return pipeline.NewManager(log, st, sessions, set, bus, pool)
}

// adapterSet carries every constructed adapter plus the wecombot
// instance, which the HTTP handler and the cleanup sweep need directly.
type adapterSet struct {
	registry *adapter.Registry
	wecom    *wecombot.Adapter
}

func provideAdapterRegistry(log *slog.Logger, cfg config.Config) (adapterSet, error) {
	registry := adapter.NewRegistry()
	set := adapterSet{registry: registry}

	if cfg.WeComBot.Enabled {
		c, err := codec.NewAESCodec(cfg.WeComBot.Token, cfg.WeComBot.EncodingAESKey, cfg.WeComBot.ReceiverID)
		if err != nil {
			return set, fmt.Errorf("wecombot codec: %w", err)
		}
		set.wecom = wecombot.New(log, cfg.WeComBot, c)
		registry.MustRegister(set.wecom)
	}
	if cfg.Telegram.Enabled {
		tg, err := telegram.New(log, cfg.Telegram)
		if err != nil {
			return set, fmt.Errorf("telegram adapter: %w", err)
		}
		registry.MustRegister(tg)
	}
	if cfg.Feishu.Enabled {
		registry.MustRegister(feishu.New(log, cfg.Feishu))
	}
	if cfg.Discord.Enabled {
		dc, err := discord.New(log, cfg.Discord)
		if err != nil {
			return set, fmt.Errorf("discord adapter: %w", err)
		}
		registry.MustRegister(dc)
	}
	return set, nil
}

func provideServerHandlers(log *slog.Logger, set adapterSet, pool *pipeline.Pool) []server.Handler {
	handlers := []server.Handler{
		plugin.NewActionsHandler(log, pool),
	}
	if set.wecom != nil {
		handlers = append(handlers, wecombot.NewHandler(log, set.wecom))
	}
	return handlers
}

func provideServer(log *slog.Logger, cfg config.Config, handlers []server.Handler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, handlers)
}

func loadPipelines(manager *pipeline.Manager) error {
	return manager.LoadAll(context.Background())
}

// bindBots subscribes each enabled bot's pipeline dispatch to its
// platform adapter.
func bindBots(log *slog.Logger, st store.Store, set adapterSet, manager *pipeline.Manager) error {
	bots, err := st.GetBots(context.Background())
	if err != nil {
		return fmt.Errorf("load bots: %w", err)
	}
	for _, bot := range bots {
		if !bot.Enabled {
			continue
		}
		a, ok := set.registry.Get(bot.Adapter)
		if !ok {
			log.Warn("bot references unknown adapter",
				slog.String("bot", bot.Name), slog.String("adapter", bot.Adapter))
			continue
		}
		bot := bot
		listener := func(ctx context.Context, ev *event.Event) {
			if err := manager.Dispatch(ctx, ev, bot, a); err != nil {
				log.Error("dispatch failed", slog.String("bot", bot.Name), slog.Any("error", err))
			}
		}
		a.RegisterListener(event.KindFriend, listener)
		a.RegisterListener(event.KindGroup, listener)
		log.Info("bot bound", slog.String("bot", bot.Name), slog.String("adapter", bot.Adapter))
	}
	return nil
}

func startAdapters(lc fx.Lifecycle, log *slog.Logger, set adapterSet) {
	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for _, a := range set.registry.List() {
				a := a
				g.Go(func() error {
					if err := a.Run(gctx); err != nil {
						log.Error("adapter exited", slog.String("adapter", a.Name()), slog.Any("error", err))
						return err
					}
					return nil
				})
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			for _, a := range set.registry.List() {
				if err := a.Kill(ctx); err != nil {
					log.Warn("adapter shutdown failed", slog.String("adapter", a.Name()), slog.Any("error", err))
				}
			}
			cancel()
			return g.Wait()
		},
	})
}

// startCleanupSweep expires idle stream sessions on a schedule, in
// addition to the sweep each first POST performs.
func startCleanupSweep(lc fx.Lifecycle, log *slog.Logger, set adapterSet) {
	if set.wecom == nil {
		return
	}
	streams := set.wecom.Streams()
	c := cron.New()
	_, err := c.AddFunc("@every 30s", func() {
		if n := streams.Cleanup(); n > 0 {
			log.Debug("stream sessions expired", slog.Int("count", n))
		}
	})
	if err != nil {
		log.Warn("cleanup schedule failed", slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { c.Start(); return nil },
		OnStop:  func(context.Context) error { <-c.Stop().Done(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server exited", slog.Any("error", err))
				}
			}()
			log.Info("http server started", slog.String("addr", cfg.Server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
