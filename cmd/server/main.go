package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/bookcircle/modules/auth"
	"github.com/dmitrymomot/bookcircle/modules/library"
	"github.com/dmitrymomot/bookcircle/modules/library/postgres"
	"github.com/dmitrymomot/bookcircle/modules/library/sqlite"
	"github.com/dmitrymomot/bookcircle/modules/realtime"
	"github.com/dmitrymomot/bookcircle/pkg/config"
	"github.com/dmitrymomot/bookcircle/pkg/httpserver"
	"github.com/dmitrymomot/bookcircle/pkg/logger"
	"github.com/dmitrymomot/bookcircle/pkg/pg"
	redispkg "github.com/dmitrymomot/bookcircle/pkg/redis"
)

type appConfig struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"` // memory, postgres, or sqlite
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"bookcircle.db"`
	TokenBackend  string `env:"TOKEN_BACKEND" envDefault:"memory"` // memory or redis

	HTTP     httpserver.Config
	Auth     auth.Config
	Reminder library.ReminderConfig
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(logger.WithEnvironment(cfg.AppEnv, "bookcircle"))
	logger.SetAsDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	gateway, healthchecks, cleanup, err := openGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	tokens, err := openTokenStore(ctx, cfg, &healthchecks)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(realtime.WithHubLogger(log))
	defer hub.Close()

	dispatcher := library.NewDispatcher(gateway, hub, library.WithDispatcherLogger(log))
	librarySvc := library.NewService(gateway, dispatcher, hub, library.WithServiceLogger(log))
	authSvc := auth.NewService(cfg.Auth, gateway, tokens, auth.WithServiceLogger(log))
	reminder := library.NewReminder(gateway, dispatcher,
		library.WithReminderLogger(log),
		library.WithReminderInterval(cfg.Reminder.Interval))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", httpserver.HealthCheckHandler(ctx, log, healthchecks...))
	r.Mount("/auth", auth.Router(authSvc))
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authSvc))
		r.Get("/ws", realtime.Handler(hub, librarySvc, log))
		r.Mount("/", library.Router(librarySvc))
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := reminder.Start(ctx)
		if err != nil && ctx.Err() != nil {
			return nil // normal shutdown
		}
		return err
	})
	g.Go(func() error {
		return httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log)).Run(ctx, r)
	})

	return g.Wait()
}

// openGateway selects the persistence adapter from configuration. The
// Postgres path connects, migrates, and contributes a readiness check.
func openGateway(ctx context.Context, cfg appConfig, log *slog.Logger) (library.Gateway, []func(context.Context) error, func(), error) {
	noop := func() {}

	switch cfg.StorageDriver {
	case "memory":
		log.Warn("using in-memory storage, all data is lost on restart")
		return library.NewMemoryGateway(), nil, noop, nil

	case "sqlite":
		storage, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open sqlite storage: %w", err)
		}
		return storage, nil, func() { storage.Close() }, nil

	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, nil, noop, fmt.Errorf("load postgres config: %w", err)
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
			pool.Close()
			return nil, nil, noop, fmt.Errorf("apply migrations: %w", err)
		}
		checks := []func(context.Context) error{pg.Healthcheck(pool)}
		return postgres.NewStorage(pool), checks, pool.Close, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func openTokenStore(ctx context.Context, cfg appConfig, healthchecks *[]func(context.Context) error) (auth.TokenStore, error) {
	switch cfg.TokenBackend {
	case "memory":
		return auth.NewMemoryTokenStore(), nil

	case "redis":
		var redisCfg redispkg.Config
		if err := config.Load(&redisCfg); err != nil {
			return nil, fmt.Errorf("load redis config: %w", err)
		}
		client, err := redispkg.Connect(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		*healthchecks = append(*healthchecks, redispkg.Healthcheck(client))
		return auth.NewRedisTokenStore(client), nil

	default:
		return nil, fmt.Errorf("unknown token backend %q", cfg.TokenBackend)
	}
}
