package generation

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"clipgen/internal/domain"
	"clipgen/internal/imageprep"
	"clipgen/internal/infra"
	"clipgen/internal/prompt"
	"clipgen/internal/providers/video"
)

// vendorSeconds maps a requested clip length onto the 5 or 10 second
// durations hosted models accept.
func vendorSeconds(req domain.GenerationRequest) int {
	secs := int(math.Round(req.Duration().Seconds()))
	if secs <= 5 {
		return 5
	}
	return 10
}

func (s *Service) generateVendor(ctx context.Context, req domain.GenerationRequest, sp prompt.SanitizedPrompt, progress func(string), log *infra.Logger) (*domain.VideoArtifact, error) {
	gen, err := s.vendors.Get(req.Engine)
	if err != nil {
		return nil, err
	}
	art, err := s.runVendor(ctx, gen, req, sp, progress, log)
	if err != nil {
		s.metrics.RecordVendorError(gen.Name(), domain.ErrorCode(err))
	}
	return art, err
}

func (s *Service) runVendor(ctx context.Context, gen video.Generator, req domain.GenerationRequest, sp prompt.SanitizedPrompt, progress func(string), log *infra.Logger) (*domain.VideoArtifact, error) {
	progress(domain.StagePreparing)
	img, err := s.loadImage(ctx, req.Image)
	if err != nil {
		return nil, err
	}
	w, h := gen.Size()
	ref, err := imageprep.EncodeJPEG(imageprep.Precondition(img, w, h))
	if err != nil {
		return nil, err
	}
	seconds := vendorSeconds(req)

	progress(domain.StageVendor)
	taskID, err := gen.CreateTask(ctx, video.TaskRequest{
		Model:           req.VendorModel,
		Prompt:          sp.Positive,
		NegativePrompt:  sp.Negative,
		Image:           ref,
		ImageMIME:       "image/jpeg",
		Width:           w,
		Height:          h,
		DurationSeconds: seconds,
		Frames:          req.FrameCount,
		FPS:             req.FPS,
		Seed:            req.Seed,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("vendor", gen.Name()).Str("task_id", taskID).Msg("generation: vendor task created")

	pollOpts := s.poll
	pollOpts.OnStatus = func(t video.Task) {
		log.Debug().Str("task_id", t.ID).Str("status", string(t.Status)).Msg("generation: vendor poll")
	}
	task, err := video.Poll(ctx, gen, taskID, pollOpts)
	if err != nil {
		return nil, err
	}
	data, err := gen.Download(ctx, task.ResultURL)
	if err != nil {
		return nil, err
	}

	dir, cleanup, err := s.scratch()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	outPath := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("generation: write vendor clip: %w", err)
	}

	progress(domain.StageAudioCheck)
	audioOutcome := s.audio.Ensure(ctx, outPath)
	s.metrics.RecordAudio(audioOutcome)
	if audioOutcome == domain.AudioSynthesized {
		if data, err = os.ReadFile(outPath); err != nil {
			return nil, fmt.Errorf("generation: read muxed clip: %w", err)
		}
	}

	clip := time.Duration(seconds) * time.Second
	meta := domain.ArtifactMeta{
		Width:      w,
		Height:     h,
		FrameCount: seconds * req.FPS,
		FPS:        req.FPS,
		DurationMS: clip.Milliseconds(),
		Seed:       req.Seed,
		Engine:     gen.Name(),
		Report: domain.GenerationReport{
			Prompt:         sp.Positive,
			NegativePrompt: sp.Negative,
			PromptFallback: sp.Fallback,
			Motion:         sp.Motion.Name(),
			Audio:          audioOutcome,
			VendorTaskID:   taskID,
		},
	}
	if probe, err := s.media.Probe(ctx, outPath); err == nil && probe.HasVideo {
		meta.Width, meta.Height = probe.Width, probe.Height
		if probe.VideoDuration > 0 {
			clip = time.Duration(probe.VideoDuration * float64(time.Second))
			meta.DurationMS = clip.Milliseconds()
			meta.FrameCount = int(math.Round(probe.VideoDuration * float64(req.FPS)))
		}
	} else if err != nil {
		log.Warn().Err(err).Msg("generation: probe of vendor clip failed")
	}
	meta.CostUSD = VendorCost(clip)
	if task.CostUSD > 0 {
		meta.CostUSD = task.CostUSD
	}
	return &domain.VideoArtifact{ArtifactMeta: meta, Data: data}, nil
}
