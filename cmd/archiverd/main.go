// Command archiverd runs the archival job on a cron schedule and serves the
// archive and message API over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"quote-archiver/internal/app"
	"quote-archiver/internal/config"
	"quote-archiver/internal/httpapi"
	"quote-archiver/internal/logging"
	"quote-archiver/internal/scheduler"
	"quote-archiver/internal/usecase"
)

const (
	archivalJob     = "archival"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("archiverd exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	live, err := deps.LiveStore()
	if err != nil {
		return err
	}
	archiver, err := deps.ArchiveService(ctx, live)
	if err != nil {
		return err
	}
	history, err := deps.HistoryService(ctx)
	if err != nil {
		return err
	}
	messages, err := usecase.NewMessageService(live, nil)
	if err != nil {
		return err
	}
	verifier, err := deps.IdentityClient()
	if err != nil {
		return err
	}

	sched, err := scheduler.New(logger)
	if err != nil {
		return err
	}
	err = sched.AddJob(archivalJob, cfg.Schedule, func(ctx context.Context) error {
		res, err := archiver.RunArchival(ctx)
		if err != nil {
			return err
		}
		logger.Info("scheduled archival finished", "runId", res.RunID, "archived", res.ArchivedMessageCount, "purged", res.DeletedNotificationCount)
		return nil
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(httpapi.RouterConfig{
		History:   history,
		Archiver:  archiver,
		Messages:  messages,
		Verifier:  verifier,
		AdminRole: cfg.AdminRole,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start()
	if cfg.RunOnStart {
		if err := sched.RunNow(archivalJob); err != nil {
			logger.Warn("failed to trigger archival on start", "err", err)
		}
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr, "schedule", cfg.Schedule)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			_ = sched.Stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	httpErr := srv.Shutdown(shutdownCtx)
	return errors.Join(httpErr, sched.Stop())
}
