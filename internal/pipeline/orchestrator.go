package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clipgen/internal/infra"
	"clipgen/internal/providers/diffusion"
)

// State is a step of the orchestrator state machine.
type State string

const (
	StateStage1Running  State = "stage1_running"
	StateStage1Done     State = "stage1_done"
	StateStage2aRunning State = "stage2a_running"
	StateStage2aDone    State = "stage2a_done"
	StateStage2bRunning State = "stage2b_running"
	StateStage2bDone    State = "stage2b_done"
	StateStage2bSkipped State = "stage2b_skipped"
	StateDecodeRunning  State = "decode_running"
	StateDecodeDone     State = "decode_done"
)

// Observer receives every state transition of one run.
type Observer func(State)

// Clock abstracts wall time for budget decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stage2b outcomes reported in Output.
const (
	Stage2bRan     = "ran"
	Stage2bSkipped = "skipped"
	Stage2bFailed  = "failed"
)

// Request is one run of the staged pipeline. Image must already be
// preconditioned to the preset's stage 1 size; TargetImage, when set, is the
// same reference at target size and seeds image-initialised refinement.
type Request struct {
	Image            image.Image
	TargetImage      image.Image
	Prompt           string
	NegativePrompt   string
	Frames           int
	FPS              int
	Seed             int64
	EnableRefinement bool
}

// Output is the decoded clip plus what happened on the way.
type Output struct {
	Frames        []*image.NRGBA
	Audio         *diffusion.Waveform
	Seed          int64
	Attempts      int
	Budget        TimeBudget
	Stage2b       string
	Stage2bReason string
	Degraded      []*DegradedError
	Timings       map[Stage]time.Duration
}

type Options struct {
	Config PipelineConfig
	Clock  Clock
	// Seeds draws a fresh seed for every stage 1 attempt after the first.
	Seeds  func() int64
	Logger *infra.Logger
}

type Orchestrator struct {
	cfg    PipelineConfig
	clock  Clock
	seeds  func() int64
	logger *infra.Logger
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	seeds := opts.Seeds
	if seeds == nil {
		var mu sync.Mutex
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		seeds = func() int64 {
			mu.Lock()
			defer mu.Unlock()
			return rng.Int63n(math.MaxInt32) + 1
		}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Orchestrator{cfg: opts.Config, clock: clock, seeds: seeds, logger: logger}, nil
}

func (o *Orchestrator) Config() PipelineConfig {
	return o.cfg
}

// Run drives one request through every stage on model. The model must not
// be shared with another run while this one is in flight.
func (o *Orchestrator) Run(ctx context.Context, model diffusion.Model, req Request, observe Observer) (*Output, error) {
	if model == nil {
		return nil, errors.New("pipeline: model is required")
	}
	if req.Image == nil {
		return nil, errors.New("pipeline: conditioning image is required")
	}
	if observe == nil {
		observe = func(State) {}
	}
	out := &Output{Timings: make(map[Stage]time.Duration, 4)}

	observe(StateStage1Running)
	start := o.clock.Now()
	s1, seed, attempts, fatal := o.stage1(ctx, model, req)
	out.Attempts = attempts
	out.Timings[Stage1] = o.clock.Now().Sub(start)
	if fatal != nil {
		return nil, fatal
	}
	out.Seed = seed
	out.Budget = NewTimeBudget(o.cfg, out.Timings[Stage1])
	observe(StateStage1Done)

	observe(StateStage2aRunning)
	mark := o.clock.Now()
	s2a, fatal := o.stage2a(ctx, model, s1)
	out.Timings[Stage2a] = o.clock.Now().Sub(mark)
	if fatal != nil {
		return nil, fatal
	}
	observe(StateStage2aDone)

	final := s2a
	run, reason, detail := out.Budget.AllowStage2b(req.EnableRefinement)
	if run {
		observe(StateStage2bRunning)
		mark = o.clock.Now()
		refined, degraded := o.stage2b(ctx, model, req, s2a, seed)
		out.Timings[Stage2b] = o.clock.Now().Sub(mark)
		if degraded != nil {
			out.Stage2b = Stage2bFailed
			out.Stage2bReason = ReasonRefineFailed
			out.Degraded = append(out.Degraded, degraded)
			o.logger.Warn().Err(degraded.Err).Msg("orchestrator: stage2b failed, using stage2a output")
			observe(StateStage2bSkipped)
		} else {
			s2a.Release()
			final = refined
			out.Stage2b = Stage2bRan
			observe(StateStage2bDone)
		}
	} else {
		out.Stage2b = Stage2bSkipped
		out.Stage2bReason = reason
		ev := o.logger.Info()
		if reason != ReasonNotRequested {
			ev = o.logger.Warn()
		}
		ev.Str("reason", reason).Dur("stage1_elapsed", out.Budget.Stage1Elapsed).Msg("orchestrator: stage2b skipped: " + detail)
		observe(StateStage2bSkipped)
	}

	observe(StateDecodeRunning)
	mark = o.clock.Now()
	frames, audio, fatal := o.decode(ctx, model, final)
	out.Timings[Decode] = o.clock.Now().Sub(mark)
	if fatal != nil {
		return nil, fatal
	}
	out.Frames = frames
	out.Audio = audio
	observe(StateDecodeDone)

	o.logger.Info().
		Int64("seed", out.Seed).
		Int("attempts", out.Attempts).
		Str("stage2b", out.Stage2b).
		Int("frames", len(frames)).
		Dur("stage1", out.Timings[Stage1]).
		Msg("orchestrator: run complete")
	return out, nil
}

func (o *Orchestrator) stage1(ctx context.Context, model diffusion.Model, req Request) (StageResult, int64, int, *FatalError) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < o.cfg.Stage1Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return StageResult{}, 0, attempts, &FatalError{Stage: Stage1, Attempts: attempts, Err: err}
		}
		seed := o.seeds()
		if attempt == 0 && req.Seed != 0 {
			seed = req.Seed
		}
		attempts++
		latent, err := model.GenerateLatent(ctx, diffusion.Stage1Params{
			Image:          req.Image,
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Width:          o.cfg.Stage1Width,
			Height:         o.cfg.Stage1Height,
			Frames:         req.Frames,
			FPS:            req.FPS,
			Seed:           seed,
			Schedule:       o.cfg.Stage1Schedule(),
			WithAudio:      o.cfg.WithAudio,
		})
		if err == nil {
			return LatentResult(latent), seed, attempts, nil
		}
		lastErr = err
		o.logger.Warn().Err(err).Int("attempt", attempts).Int64("seed", seed).Msg("orchestrator: stage1 attempt failed")
	}
	return StageResult{}, 0, attempts, &FatalError{Stage: Stage1, Attempts: attempts, Err: lastErr}
}

func (o *Orchestrator) stage2a(ctx context.Context, model diffusion.Model, in StageResult) (StageResult, *FatalError) {
	defer in.Release()
	if err := ctx.Err(); err != nil {
		return StageResult{}, &FatalError{Stage: Stage2a, Err: err}
	}
	latent, ok := in.Latent()
	if !ok {
		return StageResult{}, &FatalError{Stage: Stage2a, Err: errors.New("stage1 produced no latent")}
	}
	up, err := model.LoadUpsampler(ctx)
	if err != nil {
		return StageResult{}, &FatalError{Stage: Stage2a, Err: fmt.Errorf("load upsampler: %w", err)}
	}
	defer func() {
		if err := up.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("orchestrator: upsampler close failed")
		}
	}()
	upscaled, err := up.Upsample(ctx, latent)
	if err != nil {
		return StageResult{}, &FatalError{Stage: Stage2a, Err: err}
	}
	return LatentResult(upscaled), nil
}

func (o *Orchestrator) stage2b(ctx context.Context, model diffusion.Model, req Request, in StageResult, seed int64) (StageResult, *DegradedError) {
	if err := ctx.Err(); err != nil {
		return StageResult{}, &DegradedError{Stage: Stage2b, Err: err}
	}
	latent, _ := in.Latent()
	var input diffusion.Stage2Input = diffusion.LatentContinuation{Latent: latent, NoiseScale: o.cfg.Stage2NoiseScale}
	if o.cfg.Stage2Init == InitImage {
		img := req.TargetImage
		if img == nil {
			img = req.Image
		}
		input = diffusion.ImageInit{Image: img, Strength: o.cfg.Stage2Strength}
	}
	w, h := o.cfg.DecodedSize()
	refined, err := model.Refine(ctx, diffusion.RefineParams{
		Input:          input,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          w,
		Height:         h,
		Frames:         req.Frames,
		FPS:            req.FPS,
		Seed:           seed,
		Schedule:       o.cfg.Stage2Schedule(),
	})
	if err != nil {
		return StageResult{}, &DegradedError{Stage: Stage2b, Err: err}
	}
	return LatentResult(refined), nil
}

func (o *Orchestrator) decode(ctx context.Context, model diffusion.Model, in StageResult) ([]*image.NRGBA, *diffusion.Waveform, *FatalError) {
	defer in.Release()
	if err := ctx.Err(); err != nil {
		return nil, nil, &FatalError{Stage: Decode, Err: err}
	}
	latent, ok := in.Latent()
	if !ok {
		return nil, nil, &FatalError{Stage: Decode, Err: errors.New("no latent to decode")}
	}
	pixels, err := model.Decode(ctx, latent)
	if err != nil {
		return nil, nil, &FatalError{Stage: Decode, Err: err}
	}
	frames, err := ToFrames(pixels, o.cfg.TargetWidth, o.cfg.TargetHeight)
	if err != nil {
		return nil, nil, &FatalError{Stage: Decode, Err: err}
	}
	return frames, pixels.Audio, nil
}

// ToFrames rescales native [-1, 1] pixels to 8-bit frames and removes decoder
// padding with a centre crop to w x h. Source frames are dropped as they are
// converted.
func ToFrames(p *diffusion.PixelTensor, w, h int) ([]*image.NRGBA, error) {
	if p == nil || len(p.Frames) == 0 {
		return nil, errors.New("decoder returned no frames")
	}
	if p.Width < w || p.Height < h {
		return nil, fmt.Errorf("decoded %dx%d is smaller than target %dx%d", p.Width, p.Height, w, h)
	}
	x0, y0 := (p.Width-w)/2, (p.Height-h)/2
	out := make([]*image.NRGBA, len(p.Frames))
	for i, src := range p.Frames {
		if len(src) != p.Width*p.Height*3 {
			return nil, fmt.Errorf("frame %d has %d values, want %d", i, len(src), p.Width*p.Height*3)
		}
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			row := src[((y+y0)*p.Width+x0)*3:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				dst[x*4] = quantize(row[x*3])
				dst[x*4+1] = quantize(row[x*3+1])
				dst[x*4+2] = quantize(row[x*3+2])
				dst[x*4+3] = 255
			}
		}
		out[i] = img
		p.Frames[i] = nil
	}
	return out, nil
}

func quantize(v float32) uint8 {
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	unit := (float64(v) + 1) / 2
	return uint8(math.Round(unit * 255))
}
