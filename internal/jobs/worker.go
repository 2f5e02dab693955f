package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"clipgen/internal/domain"
	"clipgen/internal/infra"
	"clipgen/internal/metrics"
	"clipgen/internal/storage"
)

// Generator runs one request. *generation.Service satisfies it.
type Generator interface {
	Generate(ctx context.Context, jobID string, req domain.GenerationRequest, progress func(string)) (*domain.VideoArtifact, error)
}

type WorkerOptions struct {
	Registry  Registry
	Artifacts storage.Store
	Generator Generator
	// Concurrency is the number of jobs processed at once. It should not
	// exceed the accelerator slots of the process.
	Concurrency int
	// JobTimeout bounds a single job. Zero means no bound.
	JobTimeout time.Duration
	Metrics    *metrics.Collector
	Now        func() time.Time
	Logger     *infra.Logger
}

type Worker struct {
	registry    Registry
	artifacts   storage.Store
	gen         Generator
	concurrency int
	jobTimeout  time.Duration
	metrics     *metrics.Collector
	now         func() time.Time
	logger      *infra.Logger
}

func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Registry == nil || opts.Artifacts == nil || opts.Generator == nil {
		return nil, errors.New("jobs: worker needs a registry, an artifact store and a generator")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Worker{
		registry:    opts.Registry,
		artifacts:   opts.Artifacts,
		gen:         opts.Generator,
		concurrency: concurrency,
		jobTimeout:  opts.JobTimeout,
		metrics:     opts.Metrics,
		now:         now,
		logger:      logger,
	}, nil
}

// Run drains the queue until ctx is done. It returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		slot := i
		g.Go(func() error {
			return w.loop(ctx, slot)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	w.logger.Info().Int("slot", slot).Msg("worker: started")
	for {
		id, err := w.registry.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Int("slot", slot).Msg("worker: dequeue failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		w.Process(ctx, id)
	}
}

// Process runs one job to a terminal state. Failures are recorded on the
// job, never returned.
func (w *Worker) Process(ctx context.Context, id string) {
	log := w.logger.With().Str("job_id", id).Logger()
	job, err := w.registry.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("worker: job vanished before processing")
		return
	}
	if job.Status.Terminal() {
		log.Warn().Str("status", string(job.Status)).Msg("worker: job already finished")
		return
	}
	w.metrics.JobStarted()
	defer w.metrics.JobFinished()

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	req := job.Request
	if job.InputKey != "" {
		data, err := w.artifacts.Read(jobCtx, job.InputKey)
		if err != nil {
			w.fail(ctx, id, fmt.Errorf("worker: input image: %v: %w", err, domain.ErrInvalidInput), &log)
			return
		}
		req.Image.Data = data
	}

	progress := func(stage string) {
		if _, err := w.registry.Update(ctx, id, func(j *domain.Job) {
			j.Stage = stage
			j.UpdatedAt = w.now().UTC()
		}); err != nil {
			log.Debug().Err(err).Str("stage", stage).Msg("worker: progress update failed")
		}
	}
	art, err := w.gen.Generate(jobCtx, id, req, progress)
	if err != nil {
		w.fail(ctx, id, err, &log)
		return
	}
	// A finished clip is kept even when shutdown began meanwhile.
	finishCtx := context.WithoutCancel(ctx)
	key, err := w.artifacts.Write(finishCtx, storage.OutputKey(id), art.Data)
	if err != nil {
		w.fail(ctx, id, fmt.Errorf("worker: store result: %w", err), &log)
		return
	}
	meta := art.ArtifactMeta
	if _, err := w.registry.Update(finishCtx, id, func(j *domain.Job) {
		j.Status = domain.JobStatusComplete
		j.Stage = domain.StageDone
		j.ResultKey = key
		j.Artifact = &meta
		j.UpdatedAt = w.now().UTC()
	}); err != nil {
		log.Error().Err(err).Msg("worker: mark complete failed")
		_ = w.artifacts.Delete(finishCtx, key)
		return
	}
	log.Info().Str("result_key", key).Msg("worker: job complete")
}

func (w *Worker) fail(ctx context.Context, id string, cause error, log *infra.Logger) {
	ctx = context.WithoutCancel(ctx)
	code := domain.ErrorCode(cause)
	log.Error().Err(cause).Str("code", code).Msg("worker: job failed")
	if _, err := w.registry.Update(ctx, id, func(j *domain.Job) {
		j.Status = domain.JobStatusError
		j.ErrorCode = code
		j.Error = domain.PublicMessage(cause)
		j.UpdatedAt = w.now().UTC()
	}); err != nil {
		log.Error().Err(err).Msg("worker: recording failure failed")
	}
}
