package diffusion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"clipgen/internal/infra"
)

// SpatialScale is the pixel size of one latent cell.
const SpatialScale = 8

// SyntheticOptions configures the deterministic CPU runtime.
type SyntheticOptions struct {
	// Drift is the brightness offset, in native units, reached by the last
	// frame. It stands in for identity drift over a clip.
	Drift float64
	// WithAudio makes Decode return a soft tone track.
	WithAudio bool
	Logger    *infra.Logger
}

// Synthetic is a deterministic stand-in for an accelerator runtime. Latents
// are low resolution RGB snapshots of the conditioning image, so decoded
// clips resemble the reference and exercise every downstream guard.
type Synthetic struct {
	drift     float64
	withAudio bool
	logger    *infra.Logger
}

func NewSynthetic(opts SyntheticOptions) *Synthetic {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	drift := opts.Drift
	if drift == 0 {
		drift = 0.04
	}
	return &Synthetic{drift: drift, withAudio: opts.WithAudio, logger: logger}
}

var _ Model = (*Synthetic)(nil)

func (s *Synthetic) GenerateLatent(ctx context.Context, p Stage1Params) (*Latent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Image == nil {
		return nil, errors.New("diffusion: conditioning image is required")
	}
	if p.Width < SpatialScale || p.Height < SpatialScale || p.Frames <= 0 {
		return nil, fmt.Errorf("diffusion: invalid stage1 geometry %dx%d@%d", p.Width, p.Height, p.Frames)
	}
	gw, gh := ceilDiv(p.Width, SpatialScale), ceilDiv(p.Height, SpatialScale)
	l := latentFromImage(p.Image, p.Frames, gw, gh)
	rng := rand.New(rand.NewSource(p.Seed))
	perFrame := gw * gh * 3
	for f := 0; f < p.Frames; f++ {
		offset := s.drift * float64(f) / float64(maxInt(p.Frames-1, 1))
		base := f * perFrame
		for i := 0; i < perFrame; i++ {
			noise := (rng.Float64() - 0.5) * 0.01
			l.Data[base+i] = clampNative(l.Data[base+i] + float32(offset+noise))
		}
	}
	l.HasAudio = p.WithAudio && s.withAudio
	l.FPS = p.FPS
	s.logger.Debug().Int("grid_w", gw).Int("grid_h", gh).Int("frames", p.Frames).Int64("seed", p.Seed).Msg("diffusion: synthetic stage1 latent")
	return l, nil
}

func (s *Synthetic) LoadUpsampler(ctx context.Context) (Upsampler, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return syntheticUpsampler{}, nil
}

func (s *Synthetic) Refine(ctx context.Context, p RefineParams) (*Latent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch in := p.Input.(type) {
	case LatentContinuation:
		if in.Latent == nil || in.Latent.Data == nil {
			return nil, errors.New("diffusion: continuation latent is empty")
		}
		out := NewLatent(in.Latent.Frames, in.Latent.Height, in.Latent.Width, in.Latent.Channels, nil)
		out.HasAudio = in.Latent.HasAudio
		out.FPS = in.Latent.FPS
		out.Data = make([]float32, len(in.Latent.Data))
		rng := rand.New(rand.NewSource(p.Seed))
		for i, v := range in.Latent.Data {
			out.Data[i] = clampNative(v + float32((rng.Float64()-0.5)*in.NoiseScale*0.01))
		}
		return out, nil
	case ImageInit:
		if in.Image == nil {
			return nil, errors.New("diffusion: init image is required")
		}
		l := latentFromImage(in.Image, p.Frames, ceilDiv(p.Width, SpatialScale), ceilDiv(p.Height, SpatialScale))
		l.FPS = p.FPS
		return l, nil
	default:
		return nil, fmt.Errorf("diffusion: unsupported stage2 input %T", p.Input)
	}
}

func (s *Synthetic) Decode(ctx context.Context, l *Latent) (*PixelTensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l == nil || l.Data == nil {
		return nil, errors.New("diffusion: latent is empty")
	}
	w, h := l.Width*SpatialScale, l.Height*SpatialScale
	out := &PixelTensor{Frames: make([][]float32, l.Frames), Width: w, Height: h}
	perFrame := l.Width * l.Height * 3
	for f := 0; f < l.Frames; f++ {
		grid := gridImage(l.Data[f*perFrame:(f+1)*perFrame], l.Width, l.Height)
		up := imaging.Resize(grid, w, h, imaging.Linear)
		out.Frames[f] = nativeFromNRGBA(up)
	}
	if l.HasAudio && l.FPS > 0 {
		out.Audio = toneTrack(l.Frames, l.FPS)
	}
	return out, nil
}

type syntheticUpsampler struct{}

func (syntheticUpsampler) Upsample(ctx context.Context, l *Latent) (*Latent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l == nil || l.Data == nil {
		return nil, errors.New("diffusion: latent is empty")
	}
	w, h := l.Width*2, l.Height*2
	out := NewLatent(l.Frames, h, w, l.Channels, nil)
	out.HasAudio = l.HasAudio
	out.FPS = l.FPS
	out.Data = make([]float32, l.Frames*w*h*l.Channels)
	for f := 0; f < l.Frames; f++ {
		src := f * l.Width * l.Height * l.Channels
		dst := f * w * h * l.Channels
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				si := src + ((y/2)*l.Width+(x/2))*l.Channels
				di := dst + (y*w+x)*l.Channels
				copy(out.Data[di:di+l.Channels], l.Data[si:si+l.Channels])
			}
		}
	}
	return out, nil
}

func (syntheticUpsampler) Close() error { return nil }

func latentFromImage(img image.Image, frames, gw, gh int) *Latent {
	small := imaging.Resize(img, gw, gh, imaging.Box)
	frame := nativeFromNRGBA(small)
	l := NewLatent(frames, gh, gw, 3, nil)
	l.Data = make([]float32, 0, frames*len(frame))
	for f := 0; f < frames; f++ {
		l.Data = append(l.Data, frame...)
	}
	return l
}

func nativeFromNRGBA(img *image.NRGBA) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy()*3)
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4:]
			out = append(out, float32(p[0])/127.5-1, float32(p[1])/127.5-1, float32(p[2])/127.5-1)
		}
	}
	return out
}

func gridImage(data []float32, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[i*4] = toByte(data[i*3])
		img.Pix[i*4+1] = toByte(data[i*3+1])
		img.Pix[i*4+2] = toByte(data[i*3+2])
		img.Pix[i*4+3] = 255
	}
	return img
}

func toneTrack(frames, fps int) *Waveform {
	const rate = 48000
	n := frames * rate / fps
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.05 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	return &Waveform{Samples: samples, SampleRate: rate}
}

func toByte(v float32) uint8 {
	return uint8(math.Round(float64(clampNative(v)+1) * 127.5))
}

func clampNative(v float32) float32 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
