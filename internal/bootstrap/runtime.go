// Package bootstrap assembles the generation stack from configuration. The
// API and worker binaries share it so both run the same wiring.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"clipgen/internal/adapter/repo"
	"clipgen/internal/audio"
	"clipgen/internal/generation"
	"clipgen/internal/imageprep"
	"clipgen/internal/infra"
	"clipgen/internal/infra/credentials"
	"clipgen/internal/jobs"
	"clipgen/internal/media/ffmpeg"
	"clipgen/internal/metrics"
	"clipgen/internal/pipeline"
	"clipgen/internal/providers/diffusion"
	"clipgen/internal/providers/video"
	"clipgen/internal/storage"
)

// Runtime is every long-lived dependency of a clipgen process.
type Runtime struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Metrics   *metrics.Collector
	Presets   *pipeline.Registry
	Service   *generation.Service
	Registry  jobs.Registry
	Artifacts storage.Store
	Manager   *jobs.Manager
	// Credentials and Ledger are nil without DATABASE_URL.
	Credentials *credentials.Store
	Ledger      *repo.GenerationRepository

	pool    *pgxpool.Pool
	closers []func()
}

// Options tweak Build for a given process.
type Options struct {
	// Registerer receives the collectors; nil means the default registry.
	Registerer prometheus.Registerer
	// WithLocalEngine attaches model instances. API processes that only
	// enqueue jobs can leave it off.
	WithLocalEngine bool
}

func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, opts Options) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: metrics.NewCollector(opts.Registerer)}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
		rt.closers = append(rt.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, logger.With().Str("component", "sql").Logger()).WithObserver(rt.Metrics)
		rt.Credentials = credentials.NewStore(runner)
		rt.Ledger = repo.NewGenerationRepository(runner)
	} else {
		logger.Warn().Msg("bootstrap: DATABASE_URL not set, ledger and stored vendor keys disabled")
	}

	artifacts, err := buildArtifacts(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Artifacts = artifacts

	if cfg.RedisURL != "" {
		reg, err := jobs.NewRedisRegistry(ctx, cfg.RedisURL, jobs.RedisOptions{TTL: cfg.JobTTL})
		if err != nil {
			return nil, err
		}
		rt.Registry = reg
		rt.closers = append(rt.closers, func() { _ = reg.Close() })
	} else {
		rt.Registry = jobs.NewMemoryRegistry(jobs.MemoryOptions{TTL: cfg.JobTTL})
	}

	presets, err := loadPresets(cfg)
	if err != nil {
		return nil, err
	}
	rt.Presets = presets

	svc, err := buildService(cfg, logger, rt, opts.WithLocalEngine)
	if err != nil {
		return nil, err
	}
	rt.Service = svc

	rt.Manager, err = jobs.NewManager(jobs.ManagerOptions{
		Registry:  rt.Registry,
		Artifacts: rt.Artifacts,
		Logger:    infra.Component(logger, "jobs"),
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

// NewWorker builds a queue consumer over the runtime's service.
func (rt *Runtime) NewWorker() (*jobs.Worker, error) {
	return jobs.NewWorker(jobs.WorkerOptions{
		Registry:    rt.Registry,
		Artifacts:   rt.Artifacts,
		Generator:   rt.Service,
		Concurrency: rt.Config.WorkerConcurrency,
		JobTimeout:  rt.Config.JobTimeout,
		Metrics:     rt.Metrics,
		Logger:      infra.Component(rt.Logger, "worker"),
	})
}

// Close releases connections in reverse order of creation.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func buildArtifacts(ctx context.Context, cfg *infra.Config) (storage.Store, error) {
	if cfg.StorageDriver == infra.StorageS3 {
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	}
	path := cfg.StoragePath
	if path == "" {
		path = "./storage"
	}
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return storage.NewFileStore(path)
}

func loadPresets(cfg *infra.Config) (*pipeline.Registry, error) {
	var extra map[string]pipeline.PipelineConfig
	if cfg.PipelinePresetsPath != "" {
		var err error
		if extra, err = pipeline.LoadPresets(cfg.PipelinePresetsPath); err != nil {
			return nil, err
		}
	}
	reg, err := pipeline.NewRegistry(extra)
	if err != nil {
		return nil, err
	}
	if _, ok := reg.Get(cfg.PipelinePreset); !ok {
		return nil, fmt.Errorf("PIPELINE_PRESET %q is not one of %v", cfg.PipelinePreset, reg.Names())
	}
	return reg, nil
}

func buildModels(cfg *infra.Config, preset pipeline.PipelineConfig, logger zerolog.Logger) ([]diffusion.Model, error) {
	models := make([]diffusion.Model, 0, cfg.AcceleratorSlots)
	for i := 0; i < cfg.AcceleratorSlots; i++ {
		l := logger.With().Str("component", "model").Int("slot", i).Logger()
		if cfg.ModelRuntime == infra.RuntimeRemote {
			m, err := diffusion.NewRemote(diffusion.RemoteOptions{
				BaseURL: cfg.ModelRuntimeURL,
				Token:   cfg.ModelRuntimeToken,
				Logger:  &l,
			})
			if err != nil {
				return nil, err
			}
			models = append(models, m)
			continue
		}
		models = append(models, diffusion.NewSynthetic(diffusion.SyntheticOptions{WithAudio: preset.WithAudio, Logger: &l}))
	}
	return models, nil
}

func buildService(cfg *infra.Config, logger zerolog.Logger, rt *Runtime, withLocal bool) (*generation.Service, error) {
	tool := ffmpeg.New(ffmpeg.Options{
		FFmpegBin:  cfg.FFmpegBin,
		FFprobeBin: cfg.FFprobeBin,
		Timeout:    cfg.MediaTimeout,
		Logger:     infra.Component(logger, "ffmpeg"),
	})
	guard, err := audio.NewGuard(audio.Options{Media: tool, Logger: infra.Component(logger, "audio")})
	if err != nil {
		return nil, err
	}

	var pool *diffusion.Pool
	if withLocal {
		preset, _ := rt.Presets.Get(cfg.PipelinePreset)
		models, err := buildModels(cfg, preset, logger)
		if err != nil {
			return nil, err
		}
		if pool, err = diffusion.NewPool(models...); err != nil {
			return nil, err
		}
		rt.Metrics.SetAcceleratorIdle(pool.Idle())
	}

	vendorHTTP := &http.Client{Timeout: cfg.VendorRequestTimeout}
	client := func(key, base, name string) video.ClientOptions {
		o := video.ClientOptions{
			APIKey:         key,
			BaseURL:        base,
			HTTPClient:     vendorHTTP,
			RequestTimeout: cfg.VendorRequestTimeout,
			Logger:         infra.Component(logger, name),
		}
		if rt.Credentials != nil {
			o.Keys = rt.Credentials
		}
		return o
	}
	vendors := video.NewRegistry(
		video.NewBytePlus(video.BytePlusOptions{
			ClientOptions: client(cfg.BytePlusAPIKey, cfg.BytePlusBaseURL, video.VendorBytePlus),
			ModelOverride: cfg.BytePlusModelID,
		}),
		video.NewRunware(video.RunwareOptions{
			ClientOptions: client(cfg.RunwareAPIKey, cfg.RunwareBaseURL, video.VendorRunware),
			Enabled:       cfg.RunwareEnabled,
		}),
		video.NewEvolink(client(cfg.EvolinkAPIKey, cfg.EvolinkBaseURL, video.VendorEvolink)),
	)

	opts := generation.Options{
		Presets:          rt.Presets,
		DefaultPreset:    cfg.PipelinePreset,
		HardBudget:       cfg.HardBudget,
		Stage1Timeout:    cfg.Stage1Timeout,
		MinStage2bBudget: cfg.MinStage2bBudget,
		Pool:             pool,
		Vendors:          vendors,
		Poll:             video.PollOptions{Interval: cfg.VendorPollInterval, MaxWait: cfg.VendorMaxWait},
		Images: imageprep.NewLoader(imageprep.LoaderOptions{
			FetchTimeout: cfg.ImageFetchTimeout,
			MaxBytes:     cfg.ImageMaxBytes,
			AllowedHosts: cfg.ImageSourceAllowlist,
			Logger:       infra.Component(logger, "imageprep"),
		}),
		Media:   tool,
		Audio:   guard,
		Metrics: rt.Metrics,
		Logger:  infra.Component(logger, "generation"),
	}
	if rt.Ledger != nil {
		opts.Ledger = rt.Ledger
	}
	return generation.NewService(opts)
}
