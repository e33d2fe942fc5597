// Command ingest runs an ingestion worker. It joins the NATS queue group,
// ingests the documents of every request into the configured store and
// replies with per-document results.
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

	if err := run(cfg, envOr("METRICS_ADDR", ":9091"), logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, metricsAddr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	stack, err := app.Build(ctx, cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer stack.Close()

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("logbot-ingest"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, stack.Pipeline, ingest.ConsumerOpts{
		Queue:   cfg.NATS.Queue,
		Timeout: cfg.Ingest.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ingest.Subject, err)
	}
	defer sub.Unsubscribe()

	// --- Metrics endpoint ---
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := stack.Ready(r.Context()); err != nil || !nc.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "err", err)
		}
	}()

	logger.Info("ingest worker started",
		"subject", ingest.Subject, "queue", cfg.NATS.Queue, "store", cfg.Store.Backend, "metrics", metricsAddr)
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
