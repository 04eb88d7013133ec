// Package app assembles the authentication core: account store, credential
// vault, portal client, login orchestrator and session refresh scheduler,
// with graceful shutdown on OS signals.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shohruhuz/uzbot/internal/accounts"
	"github.com/shohruhuz/uzbot/internal/config"
	"github.com/shohruhuz/uzbot/internal/logging"
	"github.com/shohruhuz/uzbot/internal/login"
	"github.com/shohruhuz/uzbot/internal/portal"
	"github.com/shohruhuz/uzbot/internal/refresh"
	"github.com/shohruhuz/uzbot/internal/vault"
)

const janitorInterval = time.Minute

type App struct {
	config       *config.Config
	logger       logging.Logger
	accounts     *accounts.Service
	orchestrator *login.Orchestrator
	scheduler    *refresh.Scheduler
	closeStore   func() error
}

// NewApp wires every component from the given configuration. The notifier
// is the outbound edge toward whatever front-end drives conversations; pass
// nil to log prompts instead.
func NewApp(ctx context.Context, cfg *config.Config, notifier login.Notifier) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	v, err := vault.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("vault init error: %w", err)
	}

	repo, closeStore, err := accounts.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("account store init error: %w", err)
	}

	store := accounts.NewService(repo, v, logger)
	client := portal.NewClient(cfg, logger)

	if notifier == nil {
		notifier = login.NewLogNotifier(logger)
	}
	orchestrator := login.NewOrchestrator(client, store, notifier, logger, cfg.LoginStateTTL, cfg.AuthWorkers)
	scheduler := refresh.NewScheduler(store, client, logger, cfg.RefreshHours, cfg.RefreshWorkers)

	return &App{
		config:       cfg,
		logger:       logger,
		accounts:     store,
		orchestrator: orchestrator,
		scheduler:    scheduler,
		closeStore:   closeStore,
	}, nil
}

// Close releases the account store. Run calls it on shutdown; callers that
// use the app without Run must close it themselves.
func (app *App) Close() error {
	return app.closeStore()
}

// Accounts exposes the account service to embedding front-ends.
func (app *App) Accounts() *accounts.Service {
	return app.accounts
}

// Orchestrator exposes the login conversation engine to embedding
// front-ends.
func (app *App) Orchestrator() *login.Orchestrator {
	return app.orchestrator
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the refresh scheduler and the login-state janitor and blocks
// until an OS signal or ctx cancellation, then closes the account store.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app",
		"store", storeKind(app.config.DatabaseDSN),
		"refresh_hours", fmt.Sprint(app.config.RefreshHours))

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			app.logger.Error(ctx, "refresh scheduler stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.orchestrator.RunJanitor(ctx, janitorInterval)
	}()

	wg.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error(ctx, "closing account store failed", "error", err)
	}
	app.logger.Info(ctx, "app stopped")
}

func storeKind(dsn string) string {
	switch {
	case dsn == "":
		return "memory"
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}
