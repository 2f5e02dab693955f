package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"clipgen/internal/domain"
)

type PollOptions struct {
	Interval time.Duration
	MaxWait  time.Duration
	// MaxErrors is how many consecutive retryable errors are tolerated.
	MaxErrors int
	// OnStatus is called after every successful poll.
	OnStatus func(Task)
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 180 * time.Second
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = 3
	}
	return o
}

// Poll waits for a task to reach a terminal status. Polls are paced by a
// token bucket at one per interval and bounded by MaxWait. A failed task is
// reported as domain.ErrGenerationFailed; running out of time or of retries
// as domain.ErrVendorUnavailable.
func Poll(ctx context.Context, gen Generator, taskID string, opts PollOptions) (Task, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.MaxWait)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(opts.Interval), 1)
	failures := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return Task{}, pollTimeout(ctx, gen, taskID, err)
		}
		task, err := gen.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, pollTimeout(ctx, gen, taskID, err)
			}
			if !IsRetryable(err) {
				return Task{}, err
			}
			failures++
			if failures >= opts.MaxErrors {
				return Task{}, fmt.Errorf("%s: task %s: %d consecutive poll failures: %w", gen.Name(), taskID, failures, err)
			}
			continue
		}
		failures = 0
		if opts.OnStatus != nil {
			opts.OnStatus(task)
		}
		switch task.Status {
		case StatusSucceeded:
			if task.ResultURL == "" {
				return task, fmt.Errorf("%s: task %s succeeded without a result url: %w", gen.Name(), taskID, domain.ErrVendorUnavailable)
			}
			return task, nil
		case StatusFailed:
			return task, fmt.Errorf("%s: task %s failed: %s: %w", gen.Name(), taskID, task.Error, domain.ErrGenerationFailed)
		}
	}
}

// pollTimeout also covers the limiter refusing a wait that would overrun
// the deadline, which happens before ctx itself expires.
func pollTimeout(ctx context.Context, gen Generator, taskID string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%s: task %s did not finish in time: %v: %w", gen.Name(), taskID, err, domain.ErrVendorUnavailable)
}
