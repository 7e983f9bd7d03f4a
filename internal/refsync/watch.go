package refsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTooManyErrors stops a watch after consecutive failed polls.
var ErrTooManyErrors = errors.New("too many consecutive watch errors")

// DefaultMaxConsecutiveErrors is the failed-poll limit of a watch.
const DefaultMaxConsecutiveErrors = 10

// WatchOptions configure Watch.
type WatchOptions struct {
	Interval     time.Duration
	InitialDelay time.Duration
	// StartupSync runs onChange after the first successful poll.
	StartupSync          bool
	MaxConsecutiveErrors int
	Logger               *slog.Logger
}

// PollFunc returns the current change timestamp, nil while none exists.
type PollFunc func(ctx context.Context) (*int64, error)

// Watch polls until ctx is done and calls onChange whenever the timestamp
// moves forward. The first successful poll only records the timestamp,
// unless StartupSync is set. onChange failures are logged and the watch
// goes on; failed polls are not, and MaxConsecutiveErrors of them in a row
// end the watch with ErrTooManyErrors. Cancelling ctx returns nil.
func Watch(ctx context.Context, poll PollFunc, onChange func(context.Context) error, opts WatchOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.MaxConsecutiveErrors < 1 {
		opts.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Watch started",
		"interval", opts.Interval,
		"initial_delay", opts.InitialDelay,
		"startup_sync", opts.StartupSync)
	if !sleep(ctx, opts.InitialDelay) {
		return nil
	}

	var (
		initialized bool
		last        *int64
		failures    int
	)
	for {
		ts, err := poll(ctx)
		switch {
		case ctx.Err() != nil:
			logger.Info("Watch stopped")
			return nil
		case err != nil:
			failures++
			logger.Error("Failed to poll for changes",
				"error", err,
				"consecutive_errors", failures,
				"max_errors", opts.MaxConsecutiveErrors)
			if failures >= opts.MaxConsecutiveErrors {
				return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyErrors, failures, err)
			}
		default:
			if failures > 0 {
				logger.Info("Polling recovered", "after_errors", failures)
				failures = 0
			}
			changed := false
			switch {
			case !initialized:
				initialized = true
				last = ts
				changed = opts.StartupSync
				logger.Info("Initial timestamp recorded", "last_updated", formatTimestamp(ts))
			case ts != nil && (last == nil || *ts > *last):
				logger.Info("Change detected",
					"previous", formatTimestamp(last),
					"last_updated", *ts)
				last = ts
				changed = true
			}
			if changed {
				if err := onChange(ctx); err != nil {
					logger.Error("Sync after change failed", "error", err)
				}
			}
		}
		if !sleep(ctx, opts.Interval) {
			logger.Info("Watch stopped")
			return nil
		}
	}
}

func formatTimestamp(ts *int64) any {
	if ts == nil {
		return "none"
	}
	return *ts
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
