package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Runner drives a registry with a coarse ticker. Jobs run sequentially within
// a tick; a failing job is logged and never stops the loop.
type Runner struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewRunner(registry *Registry, tickInterval time.Duration, logger *slog.Logger) *Runner {
	if tickInterval <= 0 {
		tickInterval = time.Minute
	}
	return &Runner{
		registry: registry,
		interval: tickInterval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("scheduler started", "tick_interval", r.interval.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	for _, job := range r.registry.due(r.now()) {
		r.runJob(ctx, job)
	}
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	start := r.now()
	r.logger.Info("job start", "job", job.Name())

	if err := job.Run(ctx); err != nil {
		r.logger.Error("job failed",
			"job", job.Name(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return
	}

	r.logger.Info("job completed",
		"job", job.Name(),
		"duration_ms", time.Since(start).Milliseconds())
}
