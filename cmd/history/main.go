package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"quote-archiver/handler"
	"quote-archiver/internal/app"
	"quote-archiver/internal/config"
	"quote-archiver/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		slog.Error("failed to set up logging", "err", err)
		os.Exit(1)
	}

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise dependencies", "err", err)
		os.Exit(1)
	}
	svc, err := deps.HistoryService(ctx)
	if err != nil {
		logger.Error("failed to create history service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHistoryHandler(svc, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
