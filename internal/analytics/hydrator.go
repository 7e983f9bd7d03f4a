package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Hydratable recomputes and stores its cached results.
type Hydratable interface {
	Hydrate(ctx context.Context) error
}

// HydrationTarget names a Hydratable for logs and metrics.
type HydrationTarget struct {
	Name   string
	Target Hydratable
}

// Hydrator periodically recomputes cached analytics so callers are served
// from cache while a stale entry is replaced.
type Hydrator struct {
	targets      []HydrationTarget
	interval     time.Duration
	startupDelay time.Duration
	logger       *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewHydrator creates a hydrator. The interval should be shorter than the
// caches' stale TTL.
func NewHydrator(interval, startupDelay time.Duration, logger *slog.Logger, targets ...HydrationTarget) *Hydrator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hydrator{
		targets:      targets,
		interval:     interval,
		startupDelay: startupDelay,
		logger:       logger,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs hydration cycles until ctx is cancelled or Stop is called. It
// blocks; run it in its own goroutine.
func (h *Hydrator) Start(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)
	h.logger.Info("Cache hydration started", "interval", h.interval, "targets", len(h.targets))

	if h.startupDelay > 0 {
		select {
		case <-time.After(h.startupDelay):
		case <-h.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			h.RunOnce(ctx)
		case <-h.stopChan:
			h.logger.Info("Cache hydration stopped")
			return
		case <-ctx.Done():
			h.logger.Info("Cache hydration context cancelled")
			return
		}
	}
}

// Stop ends the loop and waits for the running cycle to finish, or for
// timeout to elapse.
func (h *Hydrator) Stop(timeout time.Duration) {
	h.stopOnce.Do(func() { close(h.stopChan) })
	if !h.started.Load() {
		return
	}
	select {
	case <-h.done:
	case <-time.After(timeout):
		h.logger.Warn("Cache hydration did not stop in time")
	}
}

// RunOnce hydrates every target once.
func (h *Hydrator) RunOnce(ctx context.Context) {
	for _, t := range h.targets {
		select {
		case <-h.stopChan:
			return
		default:
		}
		start := time.Now()
		if err := t.Target.Hydrate(ctx); err != nil {
			hydrations.WithLabelValues(t.Name, "error").Inc()
			h.logger.Warn("Cache hydration failed", "target", t.Name, "error", err)
			continue
		}
		hydrations.WithLabelValues(t.Name, "ok").Inc()
		h.logger.Debug("Cache hydrated", "target", t.Name, "duration", time.Since(start))
	}
}
