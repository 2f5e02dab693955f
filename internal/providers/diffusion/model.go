// Package diffusion defines the contract of the black-box video model and
// the runtimes that implement it.
package diffusion

import (
	"context"
	"image"
	"sync"
)

// Latent is a video latent owned by exactly one stage at a time. Frames is
// the pixel frame count the latent decodes to; Height and Width are the
// latent grid size.
type Latent struct {
	Frames   int
	Height   int
	Width    int
	Channels int
	FPS      int
	HasAudio bool

	// Handle identifies latents that live inside a remote runtime.
	Handle string
	// Data holds latents produced by in-process runtimes, frame-major.
	Data []float32

	once    sync.Once
	release func()
}

// NewLatent builds a latent whose Release runs release once.
func NewLatent(frames, height, width, channels int, release func()) *Latent {
	return &Latent{Frames: frames, Height: height, Width: width, Channels: channels, release: release}
}

// Release drops the latent's backing memory. It is safe to call more than
// once and on nil.
func (l *Latent) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
		l.Data = nil
	})
}

// Waveform is decoded mono audio in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// PixelTensor is decoder output in the model's native [-1, 1] range. Each
// frame is Height*Width*3 interleaved RGB values.
type PixelTensor struct {
	Frames [][]float32
	Height int
	Width  int
	Audio  *Waveform
}

// Schedule is a denoising schedule.
type Schedule struct {
	Steps    int
	Guidance float64
}

// Stage1Params drives low resolution latent generation.
type Stage1Params struct {
	Image          image.Image
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Frames         int
	FPS            int
	Seed           int64
	Schedule       Schedule
	WithAudio      bool
}

// Stage2Input selects how refinement is initialised. It is one of
// LatentContinuation or ImageInit.
type Stage2Input interface {
	stage2Input()
}

// LatentContinuation continues denoising from an upscaled latent.
type LatentContinuation struct {
	Latent     *Latent
	NoiseScale float64
}

// ImageInit starts refinement from a fresh image-conditioned latent.
type ImageInit struct {
	Image    image.Image
	Strength float64
}

func (LatentContinuation) stage2Input() {}
func (ImageInit) stage2Input()          {}

// RefineParams drives the optional high resolution refinement pass.
type RefineParams struct {
	Input          Stage2Input
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Frames         int
	FPS            int
	Seed           int64
	Schedule       Schedule
}

// Model is one accelerator-resident model instance.
type Model interface {
	GenerateLatent(ctx context.Context, p Stage1Params) (*Latent, error)
	LoadUpsampler(ctx context.Context) (Upsampler, error)
	Refine(ctx context.Context, p RefineParams) (*Latent, error)
	Decode(ctx context.Context, l *Latent) (*PixelTensor, error)
}

// Upsampler doubles the spatial size of a latent. Close unloads it.
type Upsampler interface {
	Upsample(ctx context.Context, l *Latent) (*Latent, error)
	Close() error
}
