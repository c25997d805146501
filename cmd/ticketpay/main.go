package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/mpetrenko/ticketpay/docs"
	"github.com/mpetrenko/ticketpay/internal/app"
	"github.com/mpetrenko/ticketpay/internal/config"
)

// @title Ticketpay API
// @version 1.0
// @description Event ticketing checkout: cart validation, hosted payment sessions and webhook-driven booking finalization.
// @host localhost:8080
// @BasePath /api/v1
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}
