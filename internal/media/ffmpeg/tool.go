package ffmpeg

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"clipgen/internal/infra"
)

type Options struct {
	FFmpegBin  string
	FFprobeBin string
	Runner     Runner
	Timeout    time.Duration
	// TempDir holds intermediate audio files. Empty means os.TempDir.
	TempDir string
	Logger  *infra.Logger
}

// Tool wraps the ffmpeg binaries.
type Tool struct {
	ffmpeg  string
	ffprobe string
	runner  Runner
	tempDir string
	logger  *infra.Logger
}

func New(opts Options) *Tool {
	ffmpegBin := opts.FFmpegBin
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	ffprobeBin := opts.FFprobeBin
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	runner := opts.Runner
	if runner == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		runner = ExecRunner{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Tool{ffmpeg: ffmpegBin, ffprobe: ffprobeBin, runner: runner, tempDir: opts.TempDir, logger: logger}
}
