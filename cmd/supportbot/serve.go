package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/tritikalab/supportbot/internal/audit"
	"github.com/tritikalab/supportbot/internal/channel/telegram"
	"github.com/tritikalab/supportbot/internal/completion"
	"github.com/tritikalab/supportbot/internal/config"
	"github.com/tritikalab/supportbot/internal/extract"
	"github.com/tritikalab/supportbot/internal/logger"
	"github.com/tritikalab/supportbot/internal/pricelist"
	"github.com/tritikalab/supportbot/internal/relay"
	"github.com/tritikalab/supportbot/internal/router"
	"github.com/tritikalab/supportbot/internal/server"
	"github.com/tritikalab/supportbot/internal/session"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideAdapter,
			provideSessions,
			provideRelayTable,
			provideSweeper,
			provideCompleter,
			provideAudit,
			provideRouter,
			provideServer,
		),
		fx.Invoke(
			startPolling,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideAdapter(log *slog.Logger, cfg config.Config) (*telegram.Adapter, error) {
	return telegram.New(log, cfg.Telegram.BotToken, cfg.Chats.ManagerChatID)
}

func provideSessions() *session.Store {
	return session.NewStore()
}

func provideRelayTable(log *slog.Logger, cfg config.Config) *relay.Table {
	return relay.NewTable(log, cfg.Relay.TTLDuration())
}

func provideSweeper(log *slog.Logger, table *relay.Table) *relay.Sweeper {
	return relay.NewSweeper(log, table)
}

func provideCompleter(log *slog.Logger, cfg config.Config) completion.Service {
	return completion.NewClient(log, completion.Config{
		ClientID:     cfg.GigaChat.ClientID,
		ClientSecret: cfg.GigaChat.ClientSecret,
		Scope:        cfg.GigaChat.Scope,
		TokenURL:     cfg.GigaChat.TokenURL,
		ChatURL:      cfg.GigaChat.ChatURL,
		Model:        cfg.GigaChat.Model,
		Timeout:      cfg.GigaChat.Timeout(),
	})
}

func provideAudit(log *slog.Logger, cfg config.Config, adapter *telegram.Adapter) *audit.Sink {
	return audit.NewSink(log, adapter, cfg.Chats.AdminChatID)
}

func provideRouter(log *slog.Logger, cfg config.Config, sessions *session.Store, relays *relay.Table, adapter *telegram.Adapter, completer completion.Service, sink *audit.Sink) *router.Router {
	return router.New(
		log,
		sessions,
		relays,
		adapter,
		adapter,
		completer,
		extract.Text,
		sink,
		router.PriceTexts{MainServices: pricelist.MainServices, ECP: pricelist.ECP},
		cfg.Chats.ManagerChatID,
	)
}

func provideServer(log *slog.Logger, cfg config.Config) *server.Server {
	return server.New(log, cfg.Server.Addr)
}

func startPolling(lc fx.Lifecycle, log *slog.Logger, adapter *telegram.Adapter, rt *router.Router, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				if err := adapter.Run(ctx, rt.Handle); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("polling stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
			rt.WaitIdle()
			return nil
		},
	})
}

func startSweeper(lc fx.Lifecycle, cfg config.Config, sweeper *relay.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sweeper.Start(cfg.Relay.Schedule())
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
