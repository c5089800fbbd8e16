package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"chat-sync/handler"
	"chat-sync/internal/app"
	"chat-sync/internal/config"
	"chat-sync/internal/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := config.Load(os.Getenv)
	log := logger.New(logger.Config{Level: cfg.LogLevel})

	cfg, err := app.LoadSecrets(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load secrets")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// ---- Stores ----
	a := app.New(cfg, log)
	svc, err := a.Connect(ctx)
	if err != nil {
		_ = a.Close()
		log.Fatal().Err(err).Msg("failed to connect stores")
	}

	// ---- Handler ----
	h, err := handler.NewHandler(svc, logger.Component(log, "handler"))
	if err != nil {
		_ = a.Close()
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}
