package pipeline

import (
	"fmt"

	"clipgen/internal/domain"
	"clipgen/internal/providers/diffusion"
)

// Stage names one step of the staged pipeline.
type Stage string

const (
	Stage1  Stage = "stage1"
	Stage2a Stage = "stage2a"
	Stage2b Stage = "stage2b"
	Decode  Stage = "decode"
)

// FatalError aborts a generation. It matches domain.ErrGenerationFailed and
// the underlying cause under errors.Is.
type FatalError struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("pipeline: %s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
	}
	return fmt.Sprintf("pipeline: %s failed: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() []error {
	return []error{domain.ErrGenerationFailed, e.Err}
}

// DegradedError records a stage that failed without failing the request.
type DegradedError struct {
	Stage Stage
	Err   error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("pipeline: %s degraded: %v", e.Stage, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// StageResult carries either a latent or decoded pixels between stages.
type StageResult struct {
	latent *diffusion.Latent
	pixels *diffusion.PixelTensor
}

func LatentResult(l *diffusion.Latent) StageResult {
	return StageResult{latent: l}
}

func PixelResult(p *diffusion.PixelTensor) StageResult {
	return StageResult{pixels: p}
}

func (r StageResult) Latent() (*diffusion.Latent, bool) {
	return r.latent, r.latent != nil
}

func (r StageResult) Pixels() (*diffusion.PixelTensor, bool) {
	return r.pixels, r.pixels != nil
}

// Release frees a held latent. Pixel results are garbage collected.
func (r StageResult) Release() {
	if r.latent != nil {
		r.latent.Release()
	}
}
