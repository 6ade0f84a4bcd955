package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/awmpietro/golang-cascade-escalation/internal/bootstrap"
	"github.com/awmpietro/golang-cascade-escalation/internal/config"
	"github.com/awmpietro/golang-cascade-escalation/internal/transport/lambdatransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	stack, err := bootstrap.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("build service", slog.Any("err", err))
		os.Exit(1)
	}
	defer stack.Close() //nolint:errcheck

	h := lambdatransport.NewHandler(stack.Service)
	lambda.Start(h.Run)
}
