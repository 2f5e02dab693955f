package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"clipgen/internal/bootstrap"
	"clipgen/internal/infra"
)

// The worker owns the accelerators of its host and drains the shared job
// queue. Without REDIS_URL it only sees its own in-memory queue, which is
// useless across processes, so it refuses to start.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg).With().Str("cmd", "worker").Logger()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("worker: REDIS_URL is required for a standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{WithLocalEngine: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer rt.Close()

	worker, err := rt.NewWorker()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: configure")
	}

	// Metrics only; the worker serves no API.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := infra.NewHTTPServer(cfg, mux)
	metricsSrv.Grace = 5 * time.Second

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Int("slots", cfg.AcceleratorSlots).Msg("worker: started")
		return worker.Run(gctx)
	})
	g.Go(func() error { return metricsSrv.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker: stopped")
}
