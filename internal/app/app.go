// Package app assembles the runtime shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"missionctl/internal/config"
	"missionctl/internal/db"
	"missionctl/internal/dispatch"
	"missionctl/internal/engine"
	"missionctl/internal/metrics"
	"missionctl/internal/migrate"
	"missionctl/internal/observability"
	"missionctl/internal/poller"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	// GatewayURL overrides dispatch.gateway_url from missionctl.yml.
	GatewayURL string
	Logger     *slog.Logger
	Now        func() time.Time
	// NoDispatch skips starting the gateway queue even when a URL is set.
	NoDispatch bool
}

type App struct {
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Metrics *metrics.Recorder
	Logger  *slog.Logger

	queue *dispatch.Queue
}

// Open prepares the workspace, applies migrations, loads missionctl.yml
// (defaults when absent) and builds the engine. Dispatch is wired only when
// a gateway URL is configured.
func Open(ctx context.Context, opts Options) (*App, error) {
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if url := strings.TrimSpace(opts.GatewayURL); url != "" {
		cfg.Dispatch.GatewayURL = url
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.Logger()
	}
	a := &App{DB: conn, Config: cfg, Metrics: metrics.NewRecorder(), Logger: logger}

	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Metrics = a.Metrics
	if opts.Now != nil {
		e.Now = opts.Now
	}
	if cfg.Dispatch.GatewayURL != "" && !opts.NoDispatch {
		failures := e
		a.queue = dispatch.NewQueue(dispatch.NewHTTPGateway(cfg.Dispatch.GatewayURL, cfg.DispatchTimeout()), dispatch.Options{
			Workers:   cfg.Dispatch.Workers,
			QueueSize: cfg.Dispatch.QueueSize,
			Timeout:   cfg.DispatchTimeout(),
			Logger:    logger,
			Metrics:   a.Metrics,
			OnFailure: func(ctx context.Context, taskID string, err error) {
				if recErr := failures.RecordDispatchFailure(ctx, taskID, err); recErr != nil {
					logger.Error("record dispatch failure", "task_id", taskID, "error", recErr.Error())
				}
			},
		})
		e.Dispatch = a.queue
		logger.Debug("dispatch enabled", "gateway_url", cfg.Dispatch.GatewayURL, "workers", cfg.Dispatch.Workers)
	}
	a.Engine = e
	return a, nil
}

// DispatchEnabled reports whether routed tasks are forwarded to a gateway.
func (a *App) DispatchEnabled() bool { return a.queue != nil }

// NewPoller builds the scheduled late-task scanner, or returns nil when
// alerts.schedule is empty.
func (a *App) NewPoller() (*poller.Poller, error) {
	schedule := strings.TrimSpace(a.Config.Alerts.Schedule)
	if schedule == "" {
		return nil, nil
	}
	return poller.New(a.Engine, poller.Options{
		Schedule:           schedule,
		RepeatAfterMinutes: a.Config.Alerts.RepeatAfterMinutes,
		Mark:               a.Config.Alerts.Mark,
		Logger:             a.Logger,
		Now:                a.Engine.Now,
	})
}

// Close drains pending dispatches and closes the database.
func (a *App) Close() error {
	if a.queue != nil {
		a.queue.Close()
	}
	return a.DB.Close()
}
