// Package server initializes and runs the key server: it opens the database,
// applies migrations, wires the services, and serves the HTTP API until the
// process is signalled to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e2chat/keyserver/internal/logging"
	"github.com/e2chat/keyserver/internal/server/config"
	"github.com/e2chat/keyserver/internal/server/httpapi"
	"github.com/e2chat/keyserver/internal/server/notify"
	"github.com/e2chat/keyserver/internal/server/repositories/repomanager"
	"github.com/e2chat/keyserver/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	handler http.Handler
}

func NewApp(cfg *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	hub := notify.NewHub(logger)

	keyRequests := services.NewKeyRequestService(db, manager, hub, logger)
	svc := httpapi.Services{
		Teams:       services.NewTeamService(db, manager, logger),
		ChannelKeys: services.NewChannelKeyService(db, manager, logger),
		Invites:     services.NewInviteService(db, manager, keyRequests, cfg, logger),
		KeyRequests: keyRequests,
		Revocations: services.NewRevocationService(db, manager, logger),
		Community:   services.NewCommunityService(db, manager, cfg.CommunityMode, logger),
	}

	handler := httpapi.NewServer([]byte(cfg.SecretKey), svc, hub, logger)

	return &App{config: cfg, logger: logger, db: db, handler: handler}, nil
}

// Run serves until the context is cancelled or the process receives an
// interrupt, then drains in-flight requests.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddrHTTP)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		app.logger.Info(ctx, "shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	return app.db.Close()
}
