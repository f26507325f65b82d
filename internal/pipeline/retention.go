// Package pipeline runs the background recording jobs: the recorder that
// samples live books and the retention pruner that trims old history.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pruner deletes rows older than a cutoff. The Postgres metrics and event
// stores implement it.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Retention trims recorded history in Postgres. Archived views in object
// storage are not touched.
type Retention struct {
	metrics       Pruner
	events        Pruner
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewRetention creates a Retention job. Either pruner may be nil.
func NewRetention(metrics, events Pruner, retentionDays int, logger *slog.Logger) *Retention {
	return &Retention{
		metrics:       metrics,
		events:        events,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "retention")),
		now:           time.Now,
	}
}

// Run executes a single pruning pass.
func (r *Retention) Run(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	r.logger.Info("starting retention run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", r.retentionDays),
	)

	var metricsDeleted, eventsDeleted int64
	if r.metrics != nil {
		n, err := r.metrics.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning metrics before %v: %w", cutoff, err)
		}
		metricsDeleted = n
	}
	if r.events != nil {
		n, err := r.events.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning events before %v: %w", cutoff, err)
		}
		eventsDeleted = n
	}

	r.logger.Info("retention run complete",
		slog.Int64("metrics_deleted", metricsDeleted),
		slog.Int64("events_deleted", eventsDeleted),
	)
	return nil
}

// RunCron runs the job on a 5-field cron schedule until ctx is cancelled.
// Example: "0 3 * * *" runs daily at 03:00 UTC.
func (r *Retention) RunCron(ctx context.Context, expr string) error {
	sched, err := parseSchedule(expr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	r.logger.Info("retention cron started", slog.String("cron", expr))

	for {
		next, err := sched.next(r.now().UTC())
		if err != nil {
			return fmt.Errorf("cron %q: %w", expr, err)
		}
		wait := time.Until(next)
		r.logger.Debug("retention waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error("retention run failed", slog.String("error", err.Error()))
			}
		}
	}
}
