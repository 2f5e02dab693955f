package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"clipgen/internal/bootstrap"
	"clipgen/internal/http/handlers"
	"clipgen/internal/http/httpapi"
	"clipgen/internal/infra"
	"clipgen/internal/infra/geoip"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.WorkerInProcess && cfg.RedisURL == "" {
		logger.Warn().Msg("api: WORKER_INPROCESS=false without REDIS_URL, queued jobs will never run")
	}

	rt, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{WithLocalEngine: cfg.WorkerInProcess})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer rt.Close()

	appOpts := handlers.Options{
		Generator: rt.Service,
		Jobs:      rt.Manager,
		Info: handlers.Info{
			Service: cfg.ServiceName,
			Version: cfg.BuildVersion,
			Preset:  cfg.PipelinePreset,
			Runtime: cfg.ModelRuntime,
			Engines: rt.Service.Engines(),
		},
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         infra.Component(logger, "http"),
	}
	if rt.Credentials != nil {
		appOpts.Credentials = rt.Credentials
	}
	if rt.Ledger != nil {
		appOpts.Stats = rt.Ledger
	}
	app, err := handlers.NewApp(appOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: handlers")
	}

	routerOpts := httpapi.Options{
		App:             app,
		Logger:          logger,
		Metrics:         rt.Metrics,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxBodyBytes:    cfg.MaxUploadBytes + 1<<20,
	}
	geo, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	} else if geo != nil {
		defer geo.Close()
		routerOpts.Geo = geo
	}
	router := httpapi.NewRouter(ctx, routerOpts)
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Bool("worker_inprocess", cfg.WorkerInProcess).Msg("api: listening")
		return server.Run(gctx)
	})
	g.Go(func() error { return rt.Manager.RunJanitor(gctx, cfg.JobSweepInterval) })
	if cfg.WorkerInProcess {
		worker, err := rt.NewWorker()
		if err != nil {
			logger.Fatal().Err(err).Msg("api: worker")
		}
		g.Go(func() error { return worker.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api: stopped")
}
