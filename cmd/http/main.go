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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/awmpietro/golang-cascade-escalation/internal/bootstrap"
	"github.com/awmpietro/golang-cascade-escalation/internal/config"
	"github.com/awmpietro/golang-cascade-escalation/internal/transport/httptransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build service", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("shutdown", slog.Any("err", err))
		}
	}()

	mux := http.NewServeMux()
	httptransport.NewHandler(stack.Service).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(stack.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", slog.String("addr", cfg.HTTPAddr), slog.String("store", cfg.StoreDriver), slog.Int("pipelines", len(cfg.Pipelines)))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", slog.Any("err", err))
	}
}
