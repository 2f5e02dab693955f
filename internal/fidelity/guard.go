// Package fidelity keeps generated clips anchored to their reference image.
package fidelity

import (
	"image"
	"io"

	"github.com/rs/zerolog"

	"clipgen/internal/imageprep"
	"clipgen/internal/infra"
)

type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

const (
	DefaultPassThreshold = 20.0
	DefaultFailThreshold = 30.0
)

type Checkpoint struct {
	Index int     `json:"index"`
	Diff  float64 `json:"diff"`
}

type Report struct {
	Checkpoints    []Checkpoint `json:"checkpoints"`
	Max            float64      `json:"max"`
	Avg            float64      `json:"avg"`
	Verdict        Verdict      `json:"verdict"`
	Replaced       bool         `json:"replaced"`
	ColorCorrected bool         `json:"color_corrected"`
	SimilarityL1   float64      `json:"similarity_l1"`
}

type Options struct {
	PassThreshold float64
	FailThreshold float64
	// SkipColorTransfer disables the global colour correction.
	SkipColorTransfer bool
	Logger            *infra.Logger
}

type Guard struct {
	pass, fail    float64
	colorTransfer bool
	logger        *infra.Logger
}

func NewGuard(opts Options) *Guard {
	pass, fail := opts.PassThreshold, opts.FailThreshold
	if pass <= 0 {
		pass = DefaultPassThreshold
	}
	if fail < pass {
		fail = DefaultFailThreshold
		if fail < pass {
			fail = pass
		}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Guard{pass: pass, fail: fail, colorTransfer: !opts.SkipColorTransfer, logger: logger}
}

// Classify maps a checkpoint difference to a verdict.
func (g *Guard) Classify(diff float64) Verdict {
	switch {
	case diff < g.pass:
		return VerdictPass
	case diff <= g.fail:
		return VerdictWarn
	default:
		return VerdictFail
	}
}

// CheckpointIndices returns the first, quarter, half, three-quarter and last
// frame indices of an n frame clip without duplicates.
func CheckpointIndices(n int) []int {
	if n <= 0 {
		return nil
	}
	raw := []int{0, n / 4, n / 2, 3 * n / 4, n - 1}
	out := raw[:0]
	seen := make(map[int]bool, len(raw))
	for _, i := range raw {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}

// CheckAndCorrect colour corrects frames towards reference, scores the
// checkpoints and, when the worst checkpoint reaches the warn threshold,
// replaces frame 0 with the reference. Frames are modified in place. Only
// frame 0 is ever replaced.
func (g *Guard) CheckAndCorrect(frames []*image.NRGBA, reference image.Image) ([]*image.NRGBA, Report) {
	var report Report
	if len(frames) == 0 || reference == nil {
		report.Verdict = VerdictPass
		return frames, report
	}
	b := frames[0].Bounds()
	ref := imageprep.Precondition(reference, b.Dx(), b.Dy())

	if g.colorTransfer {
		report.ColorCorrected = TransferColor(frames, Stats(ref))
	}

	var sum float64
	for _, idx := range CheckpointIndices(len(frames)) {
		diff := MeanAbsDiff(frames[idx], ref)
		report.Checkpoints = append(report.Checkpoints, Checkpoint{Index: idx, Diff: diff})
		sum += diff
		if diff > report.Max {
			report.Max = diff
		}
	}
	report.Avg = sum / float64(len(report.Checkpoints))
	report.Verdict = g.Classify(report.Max)
	report.SimilarityL1 = ThumbnailL1(ref, frames[0])

	if report.Max >= g.pass {
		copy(frames[0].Pix, ref.Pix)
		report.Replaced = true
		ev := g.logger.Warn()
		if report.Verdict == VerdictFail {
			ev = g.logger.Error()
		}
		ev.Float64("max_diff", report.Max).Str("verdict", string(report.Verdict)).Msg("fidelity: frame 0 replaced with reference")
		if report.Verdict == VerdictFail {
			g.logger.Warn().Msg("fidelity: conditioning too weak, identity drift above fail threshold")
		}
	}

	g.logger.Debug().
		Float64("max_diff", report.Max).
		Float64("avg_diff", report.Avg).
		Float64("similarity_l1", report.SimilarityL1).
		Bool("color_corrected", report.ColorCorrected).
		Msg("fidelity: checkpoints scored")
	return frames, report
}
