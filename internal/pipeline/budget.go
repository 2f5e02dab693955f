package pipeline

import (
	"fmt"
	"time"
)

// Stage2b skip reasons.
const (
	ReasonNotRequested       = "not_requested"
	ReasonStage1Timeout      = "stage1_timeout"
	ReasonInsufficientBudget = "insufficient_budget"
	ReasonRefineFailed       = "refine_failed"
)

// TimeBudget is fixed once stage 1 completes and only gates stage 2b.
type TimeBudget struct {
	Stage1Elapsed    time.Duration
	HardBudget       time.Duration
	Stage1Timeout    time.Duration
	MinStage2bBudget time.Duration
}

func NewTimeBudget(cfg PipelineConfig, stage1Elapsed time.Duration) TimeBudget {
	return TimeBudget{
		Stage1Elapsed:    stage1Elapsed,
		HardBudget:       cfg.HardBudget,
		Stage1Timeout:    cfg.Stage1Timeout,
		MinStage2bBudget: cfg.MinStage2bBudget,
	}
}

func (b TimeBudget) Remaining() time.Duration {
	return b.HardBudget - b.Stage1Elapsed
}

// AllowStage2b reports whether refinement may run and, when it may not, the
// reason code plus a human readable detail.
func (b TimeBudget) AllowStage2b(requested bool) (bool, string, string) {
	if !requested {
		return false, ReasonNotRequested, "refinement not requested"
	}
	if b.Stage1Elapsed > b.Stage1Timeout {
		return false, ReasonStage1Timeout, fmt.Sprintf("stage1 took %s, over the %s timeout", b.Stage1Elapsed, b.Stage1Timeout)
	}
	if b.Remaining() < b.MinStage2bBudget {
		return false, ReasonInsufficientBudget, fmt.Sprintf("%s left of %s, refinement needs %s", b.Remaining(), b.HardBudget, b.MinStage2bBudget)
	}
	return true, "", ""
}
