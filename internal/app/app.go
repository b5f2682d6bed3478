package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"devportal/internal/config"
	"devportal/internal/db"
	"devportal/internal/engine"
	"devportal/internal/github"
	"devportal/internal/migrate"
	"devportal/internal/notify"
	"devportal/internal/store"
)

// App owns the store, the notification worker and the engine built on them.
type App struct {
	Config   *config.Config
	Store    store.Store
	Notifier *notify.Dispatcher
	Engine   engine.Engine
	Logger   *log.Logger
}

// ResolveConfig prefers an explicit file, then the workspace devportal.yml,
// then the built-in defaults.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(workspace)
}

// OpenStore opens the configured backend and, for SQLite, migrates it.
func OpenStore(ctx context.Context, workspace string, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.DSN})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if _, err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store.NewSQLite(conn), nil
	case "postgres":
		return store.NewPostgres(ctx, store.PostgresConfig{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Open wires config, store, notifier and GitHub client into an engine and
// seeds the store on first use.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	st, err := OpenStore(ctx, workspace, cfg.Store)
	if err != nil {
		return nil, err
	}
	slack := cfg.Notifications.Slack
	dispatcher := notify.NewDispatcher(notify.Config{
		WebhookURL: slack.WebhookURL,
		Channel:    slack.Channel,
		QueueSize:  slack.QueueSize,
		Timeout:    time.Duration(slack.TimeoutSeconds) * time.Second,
	}, logger)
	dispatcher.Start()

	eng := engine.New(st, cfg)
	eng.Logger = logger
	eng.Notifier = dispatcher
	if cfg.GitHub.Token != "" {
		eng.GitHub = github.New(cfg.GitHub.APIURL, cfg.GitHub.Token, time.Duration(cfg.GitHub.TimeoutSeconds)*time.Second)
	}
	if _, err := eng.InitDB(ctx); err != nil {
		dispatcher.Close()
		st.Close()
		return nil, fmt.Errorf("init db: %w", err)
	}
	return &App{Config: cfg, Store: st, Notifier: dispatcher, Engine: eng, Logger: logger}, nil
}

// Close drains pending notifications, then closes the store.
func (a *App) Close() error {
	a.Notifier.Close()
	return a.Store.Close()
}
