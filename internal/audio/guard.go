// Package audio guarantees every delivered clip carries a usable audio
// track.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"clipgen/internal/domain"
	"clipgen/internal/infra"
	"clipgen/internal/media/ffmpeg"
	"clipgen/internal/media/wav"
)

const (
	DefaultTolerance     = 200 * time.Millisecond
	DefaultMinMeanVolume = -60.0
)

// Media is the subset of the ffmpeg tool the guard needs.
type Media interface {
	Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error)
	MeanVolume(ctx context.Context, path string) (float64, error)
	ReplaceAudio(ctx context.Context, videoPath, audioPath, outPath string) error
}

type Options struct {
	Media         Media
	Tolerance     time.Duration
	MinMeanVolume float64
	// Seed drives the ambience noise. Zero uses the clock.
	Seed   int64
	Logger *infra.Logger
}

type Guard struct {
	media     Media
	tolerance time.Duration
	minVolume float64
	seed      int64
	logger    *infra.Logger
}

func NewGuard(opts Options) (*Guard, error) {
	if opts.Media == nil {
		return nil, errors.New("audio: media tool is required")
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	minVolume := opts.MinMeanVolume
	if minVolume == 0 {
		minVolume = DefaultMinMeanVolume
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Guard{media: opts.Media, tolerance: tol, minVolume: minVolume, seed: opts.Seed, logger: logger}, nil
}

// Check is the outcome of the three verification gates.
type Check struct {
	HasAudio      bool
	VideoDuration float64
	AudioDuration float64
	MeanVolume    float64
	Reason        string
}

func (c Check) OK() bool {
	return c.Reason == ""
}

// Verify probes path for an audio stream, its duration and its loudness.
func (g *Guard) Verify(ctx context.Context, path string) (Check, error) {
	var (
		probe     ffmpeg.ProbeResult
		volume    float64
		volumeErr error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		probe, err = g.media.Probe(egCtx, path)
		return err
	})
	eg.Go(func() error {
		volume, volumeErr = g.media.MeanVolume(egCtx, path)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return Check{}, fmt.Errorf("audio: probe %s: %w", filepath.Base(path), err)
	}

	c := Check{HasAudio: probe.HasAudio, VideoDuration: probe.VideoDuration, AudioDuration: probe.AudioDuration, MeanVolume: volume}
	if c.VideoDuration == 0 {
		c.VideoDuration = probe.Duration
	}
	switch {
	case !probe.HasAudio || errors.Is(volumeErr, ffmpeg.ErrNoAudio):
		c.HasAudio = false
		c.Reason = "no audio stream"
	case c.AudioDuration < c.VideoDuration-g.tolerance.Seconds():
		c.Reason = fmt.Sprintf("audio %.2fs shorter than video %.2fs", c.AudioDuration, c.VideoDuration)
	case volumeErr != nil:
		c.Reason = "loudness unavailable: " + volumeErr.Error()
	case volume < g.minVolume:
		c.Reason = fmt.Sprintf("mean volume %.1f dB below %.1f dB", volume, g.minVolume)
	}
	return c, nil
}

// Ensure verifies the clip at videoPath and, when any gate fails, replaces
// its audio with synthesized ambience. It never fails the request: when
// the fallback itself fails the file is left unchanged and the outcome is
// silent.
func (g *Guard) Ensure(ctx context.Context, videoPath string) string {
	check, err := g.Verify(ctx, videoPath)
	if err != nil {
		g.logger.Warn().Err(err).Msg("audio: verification failed, shipping unchanged")
		return domain.AudioSilent
	}
	if check.OK() {
		return domain.AudioOriginal
	}
	g.logger.Info().Str("reason", check.Reason).Float64("video_seconds", check.VideoDuration).Msg("audio: check failed, synthesizing ambience")

	if err := g.replaceWithAmbience(ctx, videoPath, check.VideoDuration); err != nil {
		g.logger.Warn().Err(err).Msg("audio: fallback ambience failed, shipping silent")
		return domain.AudioSilent
	}
	g.logger.Info().Msg("audio: fallback ambience muxed")
	return domain.AudioSynthesized
}

func (g *Guard) replaceWithAmbience(ctx context.Context, videoPath string, seconds float64) error {
	if seconds <= 0 {
		return errors.New("audio: video duration unknown")
	}
	dir := filepath.Dir(videoPath)
	seed := g.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	wavFile, err := os.CreateTemp(dir, "ambience-*.wav")
	if err != nil {
		return fmt.Errorf("audio: create ambience file: %w", err)
	}
	defer os.Remove(wavFile.Name())
	if err := wav.Encode(wavFile, Ambience(seconds, AmbienceSampleRate, seed), AmbienceSampleRate); err != nil {
		wavFile.Close()
		return fmt.Errorf("audio: write ambience: %w", err)
	}
	if err := wavFile.Close(); err != nil {
		return fmt.Errorf("audio: write ambience: %w", err)
	}

	muxed := filepath.Join(dir, "muxed-"+filepath.Base(videoPath))
	defer os.Remove(muxed)
	if err := g.media.ReplaceAudio(ctx, videoPath, wavFile.Name(), muxed); err != nil {
		return err
	}
	recheck, err := g.Verify(ctx, muxed)
	if err != nil {
		return err
	}
	if !recheck.OK() {
		return fmt.Errorf("audio: muxed output still failing: %s", recheck.Reason)
	}
	if err := os.Rename(muxed, videoPath); err != nil {
		return fmt.Errorf("audio: replace output: %w", err)
	}
	return nil
}
