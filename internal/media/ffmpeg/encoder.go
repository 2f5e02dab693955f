package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"

	"clipgen/internal/media/wav"
	"clipgen/internal/providers/diffusion"
)

// CRF is the x264 constant rate factor used for every clip.
const CRF = 18

// Encode writes frames as an H.264 MP4 at fps with BT.709 colour tags. When
// audio is non-nil it is muxed as AAC.
func (t *Tool) Encode(ctx context.Context, frames []*image.NRGBA, fps int, audio *diffusion.Waveform, outPath string) error {
	if len(frames) == 0 {
		return errors.New("ffmpeg: no frames to encode")
	}
	if fps <= 0 {
		return fmt.Errorf("ffmpeg: invalid fps %d", fps)
	}
	b := frames[0].Bounds()
	w, h := b.Dx(), b.Dy()
	if w%2 != 0 || h%2 != 0 {
		return fmt.Errorf("ffmpeg: yuv420p needs even dimensions, got %dx%d", w, h)
	}
	for i, f := range frames {
		if f.Bounds().Dx() != w || f.Bounds().Dy() != h {
			return fmt.Errorf("ffmpeg: frame %d is %v, want %dx%d", i, f.Bounds().Size(), w, h)
		}
	}

	var audioPath string
	if audio != nil && len(audio.Samples) > 0 {
		f, err := os.CreateTemp(t.tempDir, "clipgen-audio-*.wav")
		if err != nil {
			return fmt.Errorf("ffmpeg: create audio temp: %w", err)
		}
		audioPath = f.Name()
		defer os.Remove(audioPath)
		if err := wav.Encode(f, audio.Samples, audio.SampleRate); err != nil {
			f.Close()
			return fmt.Errorf("ffmpeg: write audio: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("ffmpeg: write audio: %w", err)
		}
	}

	args := EncodeArgs(w, h, fps, audioPath, outPath)
	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		err := writeFrames(pw, frames, w, h)
		pw.CloseWithError(err)
		written <- err
	}()
	_, _, err := t.runner.Run(ctx, t.ffmpeg, args, pr)
	pr.Close()
	werr := <-written
	if err != nil {
		return err
	}
	if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
		return fmt.Errorf("ffmpeg: stream frames: %w", werr)
	}
	t.logger.Debug().Int("frames", len(frames)).Int("fps", fps).Bool("audio", audioPath != "").Str("out", outPath).Msg("ffmpeg: encoded clip")
	return nil
}

// EncodeArgs builds the ffmpeg argument list for a raw RGBA stdin encode.
func EncodeArgs(w, h, fps int, audioPath, outPath string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", strconv.Itoa(w) + "x" + strconv.Itoa(h),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args, "-map", "0:v:0")
	if audioPath != "" {
		args = append(args, "-map", "1:a:0")
	}
	args = append(args,
		"-c:v", "libx264", "-preset", "medium", "-crf", strconv.Itoa(CRF),
		"-pix_fmt", "yuv420p",
		"-colorspace", "bt709", "-color_primaries", "bt709", "-color_trc", "bt709", "-color_range", "tv",
	)
	if audioPath != "" {
		args = append(args, "-c:a", "aac", "-b:a", "192k", "-ar", "48000")
	}
	return append(args, "-movflags", "+faststart", outPath)
}

func writeFrames(w io.Writer, frames []*image.NRGBA, width, height int) error {
	for i, f := range frames {
		b := f.Bounds()
		if b.Dx() != width || b.Dy() != height {
			return fmt.Errorf("ffmpeg: frame %d is %dx%d, want %dx%d", i, b.Dx(), b.Dy(), width, height)
		}
		for y := 0; y < height; y++ {
			off := f.PixOffset(b.Min.X, b.Min.Y+y)
			if _, err := w.Write(f.Pix[off : off+width*4]); err != nil {
				return err
			}
		}
	}
	return nil
}
