// Package main implements the LogBot API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/logbotai/logbot/engine/app"
	"github.com/logbotai/logbot/engine/ingest"
	"github.com/logbotai/logbot/pkg/config"
	"github.com/logbotai/logbot/pkg/metrics"
	"github.com/logbotai/logbot/pkg/mid"
	"github.com/nats-io/nats.go"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(envOr("LOGBOT_CONFIG", "config.yaml"), ".env")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Build engine ---
	stack, err := app.Build(ctx, cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer stack.Close()

	srvState := &server{
		ingest:    stack.Pipeline,
		rag:       stack.RAG,
		store:     stack.Store,
		ready:     stack.Ready,
		maxUpload: cfg.Server.MaxUploadBytes,
		log:       logger,
		now:       time.Now,
	}

	// --- Connect to NATS (async ingestion) ---
	if cfg.Ingest.Mode == "nats" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("logbot-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		srvState.workers = cfg.Ingest.Workers
		srvState.submit = func(ctx context.Context, req ingest.IngestRequest) (ingest.IngestResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, cfg.Ingest.Timeout)
			defer cancel()
			return ingest.Submit(ctx, nc, req)
		}
		logger.Info("ingestion delegated to workers", "nats", cfg.NATS.URL)
	}

	// --- Build HTTP server ---
	handler := mid.Chain(srvState.routes(reg),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.MaxBytes(cfg.Server.MaxUploadBytes),
		mid.OTel("logbot-api"),
	)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     handler,
		ReadTimeout: 60 * time.Second,
		// Answers are streamed; the write deadline bounds a whole answer.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "store", cfg.Store.Backend, "ingest_mode", cfg.Ingest.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
