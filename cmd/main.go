package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"talk-pdf/handler"
	"talk-pdf/internal/app"
	"talk-pdf/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("TALKPDF_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(cfg, os.Stdout, true))

	// ---- Clients ----
	builder, err := app.NewBuilder(cfg)
	if err != nil {
		slog.Error("failed to create builder", "err", err)
		os.Exit(1)
	}
	srv, err := builder.Server(ctx)
	if err != nil {
		slog.Error("failed to create answer service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(srv.Service, handler.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
