// Package generation turns an accepted request into a finished clip, either
// on the local staged pipeline or through a hosted vendor.
package generation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clipgen/internal/domain"
	"clipgen/internal/imageprep"
	"clipgen/internal/infra"
	"clipgen/internal/media/ffmpeg"
	"clipgen/internal/metrics"
	"clipgen/internal/pipeline"
	"clipgen/internal/prompt"
	"clipgen/internal/providers/diffusion"
	"clipgen/internal/providers/video"
)

// Media encodes frames and inspects finished files. *ffmpeg.Tool
// satisfies it.
type Media interface {
	Encode(ctx context.Context, frames []*image.NRGBA, fps int, audio *diffusion.Waveform, outPath string) error
	Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error)
}

// AudioGuard makes sure a file carries a usable audio track. *audio.Guard
// satisfies it.
type AudioGuard interface {
	Ensure(ctx context.Context, videoPath string) string
}

// Ledger records every finished request.
type Ledger interface {
	Record(ctx context.Context, rec domain.GenerationRecord) error
}

// ImageLoader resolves a request's reference image.
type ImageLoader interface {
	Load(ctx context.Context, src domain.SourceImage) (image.Image, error)
}

type Options struct {
	Presets       *pipeline.Registry
	DefaultPreset string
	// Budget overrides applied on top of every preset; zero keeps the
	// preset value.
	HardBudget       time.Duration
	Stage1Timeout    time.Duration
	MinStage2bBudget time.Duration

	// Pool backs the local engine. Nil disables it.
	Pool    *diffusion.Pool
	Vendors *video.Registry
	Poll    video.PollOptions

	Images  ImageLoader
	Media   Media
	Audio   AudioGuard
	Ledger  Ledger
	Metrics *metrics.Collector

	// WorkDir holds per-request scratch files. Empty means os.TempDir.
	WorkDir string
	// Seeds feeds stage 1 retries; nil uses a clock-seeded source.
	Seeds  func() int64
	Clock  pipeline.Clock
	Logger *infra.Logger
}

type Service struct {
	presets       *pipeline.Registry
	defaultPreset string
	hardBudget    time.Duration
	stage1Timeout time.Duration
	minStage2b    time.Duration
	pool          *diffusion.Pool
	vendors       *video.Registry
	poll          video.PollOptions
	images        ImageLoader
	media         Media
	audio         AudioGuard
	ledger        Ledger
	metrics       *metrics.Collector
	workDir       string
	seeds         func() int64
	clock         pipeline.Clock
	logger        *infra.Logger
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func NewService(opts Options) (*Service, error) {
	if opts.Media == nil {
		return nil, errors.New("generation: media tool is required")
	}
	if opts.Audio == nil {
		return nil, errors.New("generation: audio guard is required")
	}
	if opts.Images == nil {
		return nil, errors.New("generation: image loader is required")
	}
	presets := opts.Presets
	if presets == nil {
		var err error
		presets, err = pipeline.NewRegistry(nil)
		if err != nil {
			return nil, err
		}
	}
	defaultPreset := opts.DefaultPreset
	if defaultPreset == "" {
		defaultPreset = pipeline.DefaultPreset
	}
	if _, ok := presets.Get(defaultPreset); !ok {
		return nil, fmt.Errorf("generation: unknown default preset %q", defaultPreset)
	}
	vendors := opts.Vendors
	if vendors == nil {
		vendors = video.NewRegistry()
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Service{
		presets:       presets,
		defaultPreset: defaultPreset,
		hardBudget:    opts.HardBudget,
		stage1Timeout: opts.Stage1Timeout,
		minStage2b:    opts.MinStage2bBudget,
		pool:          opts.Pool,
		vendors:       vendors,
		poll:          opts.Poll,
		images:        opts.Images,
		media:         opts.Media,
		audio:         opts.Audio,
		ledger:        opts.Ledger,
		metrics:       opts.Metrics,
		workDir:       opts.WorkDir,
		seeds:         opts.Seeds,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Preset resolves name, falling back to the service default.
func (s *Service) Preset(name string) (pipeline.PipelineConfig, error) {
	if name == "" {
		name = s.defaultPreset
	}
	cfg, ok := s.presets.Get(name)
	if !ok {
		return pipeline.PipelineConfig{}, fmt.Errorf("generation: unknown preset %q: %w", name, domain.ErrInvalidInput)
	}
	return cfg.WithBudgetOverrides(s.hardBudget, s.stage1Timeout, s.minStage2b), nil
}

func (s *Service) DefaultPreset() string {
	return s.defaultPreset
}

// LocalEnabled reports whether an accelerator pool is attached.
func (s *Service) LocalEnabled() bool {
	return s.pool != nil
}

// Engines lists the engine names this service accepts.
func (s *Service) Engines() []string {
	var out []string
	if s.pool != nil {
		out = append(out, domain.EngineLocal)
	}
	return append(out, s.vendors.Names()...)
}

// Generate runs req to completion. jobID may be empty for synchronous
// requests; it is only used for the ledger. progress receives coarse stage
// names: pipeline states verbatim, otherwise domain.Stage* values.
func (s *Service) Generate(ctx context.Context, jobID string, req domain.GenerationRequest, progress func(string)) (*domain.VideoArtifact, error) {
	if progress == nil {
		progress = func(string) {}
	}
	start := s.clock.Now()
	sp := prompt.Sanitize(req.SceneDescription, req.Dialogue)
	log := s.logger.With().Str("engine", req.Engine).Str("job_id", jobID).Logger()
	if sp.Fallback {
		log.Warn().Msg("generation: prompt replaced by fallback")
	}
	if removed := sp.RemovedTerms(); len(removed) > 0 {
		log.Info().Strs("removed", removed).Msg("generation: banned terms stripped")
	}

	var (
		art *domain.VideoArtifact
		err error
	)
	if req.Engine == "" || req.Engine == domain.EngineLocal {
		art, err = s.generateLocal(ctx, req, sp, progress, &log)
	} else {
		art, err = s.generateVendor(ctx, req, sp, progress, &log)
	}
	elapsed := s.clock.Now().Sub(start)
	if art != nil {
		if req.Engine == "" || req.Engine == domain.EngineLocal {
			art.CostUSD = LocalCost(elapsed)
		}
	}
	s.record(ctx, jobID, req, art, err, elapsed)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("generation: failed")
		return nil, err
	}
	progress(domain.StageDone)
	log.Info().
		Dur("elapsed", elapsed).
		Float64("cost_usd", art.CostUSD).
		Str("audio", art.Report.Audio).
		Str("stage2b", art.Report.Stage2b).
		Msg("generation: complete")
	return art, nil
}

func (s *Service) record(ctx context.Context, jobID string, req domain.GenerationRequest, art *domain.VideoArtifact, genErr error, elapsed time.Duration) {
	engine := req.Engine
	if engine == "" {
		engine = domain.EngineLocal
	}
	outcome := "ok"
	if genErr != nil {
		outcome = domain.ErrorCode(genErr)
	}
	rec := domain.GenerationRecord{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Engine:     engine,
		Preset:     req.Preset,
		Status:     domain.RecordSucceeded,
		Seed:       req.Seed,
		FrameCount: req.FrameCount,
		FPS:        req.FPS,
		CreatedAt:  s.clock.Now().UTC(),
	}
	var cost float64
	if genErr != nil {
		rec.Status = domain.RecordFailed
		rec.ErrorCode = outcome
	}
	if art != nil {
		cost = art.CostUSD
		if art.Preset != "" {
			rec.Preset = art.Preset
		}
		rec.Seed = art.Seed
		rec.Stage2b = art.Report.Stage2b
		rec.FidelityVerdict = art.Report.FidelityVerdict
		rec.FidelityMaxDiff = art.Report.FidelityMaxDiff
		rec.Audio = art.Report.Audio
		rec.FrameCount = art.FrameCount
		rec.FPS = art.FPS
		rec.DurationMS = art.DurationMS
		rec.CostUSD = art.CostUSD
	}
	s.metrics.RecordGeneration(engine, outcome, elapsed, cost)
	if s.ledger == nil {
		return
	}
	// The request context may already be cancelled; the ledger row is
	// still worth writing.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.ledger.Record(writeCtx, rec); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("generation: ledger write failed")
	}
}

// scratch creates a per-request directory and returns its cleanup.
func (s *Service) scratch() (string, func(), error) {
	dir, err := os.MkdirTemp(s.workDir, "clipgen-*")
	if err != nil {
		return "", nil, fmt.Errorf("generation: scratch dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func (s *Service) loadImage(ctx context.Context, src domain.SourceImage) (image.Image, error) {
	img, err := s.images.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("generation: reference image is empty: %w", domain.ErrInvalidInput)
	}
	return img, nil
}

var _ ImageLoader = (*imageprep.Loader)(nil)
