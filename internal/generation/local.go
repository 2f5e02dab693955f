package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clipgen/internal/domain"
	"clipgen/internal/fidelity"
	"clipgen/internal/imageprep"
	"clipgen/internal/infra"
	"clipgen/internal/pipeline"
	"clipgen/internal/prompt"
)

func (s *Service) generateLocal(ctx context.Context, req domain.GenerationRequest, sp prompt.SanitizedPrompt, progress func(string), log *infra.Logger) (*domain.VideoArtifact, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("generation: local engine is not configured: %w", domain.ErrVendorDisabled)
	}
	cfg, err := s.Preset(req.Preset)
	if err != nil {
		return nil, err
	}
	frames := req.FrameCount
	if frames > cfg.MaxFrames {
		frames = cfg.MaxFrames
	}
	if frames <= 0 || req.FPS <= 0 {
		return nil, fmt.Errorf("generation: frame count and fps must be positive: %w", domain.ErrInvalidInput)
	}

	progress(domain.StagePreparing)
	img, err := s.loadImage(ctx, req.Image)
	if err != nil {
		return nil, err
	}
	stage1Ref := imageprep.Precondition(img, cfg.Stage1Width, cfg.Stage1Height)
	targetRef := imageprep.Precondition(img, cfg.TargetWidth, cfg.TargetHeight)

	orch, err := pipeline.NewOrchestrator(pipeline.Options{Config: cfg, Clock: s.clock, Seeds: s.seeds, Logger: log})
	if err != nil {
		return nil, err
	}

	stageStart := s.clock.Now()
	out, runErr := s.runPipeline(ctx, orch, pipeline.Request{
		Image:            stage1Ref,
		TargetImage:      targetRef,
		Prompt:           sp.Positive,
		NegativePrompt:   sp.Negative,
		Frames:           frames,
		FPS:              req.FPS,
		Seed:             req.Seed,
		EnableRefinement: req.EnableRefinement,
	}, progress)
	if runErr != nil {
		var fatal *pipeline.FatalError
		if errors.As(runErr, &fatal) {
			log.Error().Str("stage", string(fatal.Stage)).Int("attempts", fatal.Attempts).Err(fatal.Err).Msg("generation: pipeline failed")
		}
		return nil, runErr
	}
	for stage, d := range out.Timings {
		s.metrics.RecordStage(string(stage), d)
	}
	s.metrics.RecordStage2b(out.Stage2b, out.Stage2bReason)
	log.Debug().Dur("pipeline", s.clock.Now().Sub(stageStart)).Int("frames", len(out.Frames)).Msg("generation: pipeline finished")

	guard := fidelity.NewGuard(fidelity.Options{
		PassThreshold:     cfg.FidelityPass,
		FailThreshold:     cfg.FidelityFail,
		SkipColorTransfer: !req.ToneFix,
		Logger:            log,
	})
	corrected, fid := guard.CheckAndCorrect(out.Frames, targetRef)
	s.metrics.RecordFidelity(string(fid.Verdict), fid.Replaced, fid.Max)

	dir, cleanup, err := s.scratch()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	outPath := filepath.Join(dir, "clip.mp4")

	progress(domain.StageEncoding)
	if err := s.media.Encode(ctx, corrected, req.FPS, out.Audio, outPath); err != nil {
		return nil, fmt.Errorf("generation: encode: %v: %w", err, domain.ErrGenerationFailed)
	}

	progress(domain.StageAudioCheck)
	audioOutcome := s.audio.Ensure(ctx, outPath)
	s.metrics.RecordAudio(audioOutcome)

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("generation: read encoded clip: %w", err)
	}

	report := domain.GenerationReport{
		Prompt:          sp.Positive,
		NegativePrompt:  sp.Negative,
		PromptFallback:  sp.Fallback,
		Motion:          sp.Motion.Name(),
		Stage1Attempts:  out.Attempts,
		Stage2b:         out.Stage2b,
		Stage2bReason:   out.Stage2bReason,
		FidelityVerdict: string(fid.Verdict),
		FidelityMaxDiff: fid.Max,
		FrameReplaced:   fid.Replaced,
		Audio:           audioOutcome,
	}
	for _, d := range out.Degraded {
		log.Warn().Err(d.Err).Str("stage", string(d.Stage)).Msg("generation: degraded")
		report.Degraded = append(report.Degraded, string(d.Stage))
	}
	duration := time.Duration(float64(len(corrected)) / float64(req.FPS) * float64(time.Second))
	return &domain.VideoArtifact{
		ArtifactMeta: domain.ArtifactMeta{
			Width:      cfg.TargetWidth,
			Height:     cfg.TargetHeight,
			FrameCount: len(corrected),
			FPS:        req.FPS,
			DurationMS: duration.Milliseconds(),
			Seed:       out.Seed,
			Engine:     domain.EngineLocal,
			Preset:     cfg.Name,
			Report:     report,
		},
		Data: data,
	}, nil
}

// runPipeline holds an accelerator slot for the duration of one orchestrator
// run. The slot is returned even when the model runtime panics.
func (s *Service) runPipeline(ctx context.Context, orch *pipeline.Orchestrator, req pipeline.Request, progress func(string)) (*pipeline.Output, error) {
	model, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("generation: waiting for accelerator: %w", err)
	}
	s.metrics.SetAcceleratorIdle(s.pool.Idle())
	defer func() {
		s.pool.Release(model)
		s.metrics.SetAcceleratorIdle(s.pool.Idle())
	}()
	return orch.Run(ctx, model, req, func(st pipeline.State) {
		progress(string(st))
	})
}
