package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived job that stops when its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the recorder and, when configured, the retention cron
// side by side.
type Orchestrator struct {
	recorder  Runner
	retention *Retention
	pruneCron string
	logger    *slog.Logger
}

// NewOrchestrator wires the recording jobs. retention may be nil.
func NewOrchestrator(recorder Runner, retention *Retention, pruneCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		recorder:  recorder,
		retention: retention,
		pruneCron: pruneCron,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every job in an errgroup. A job failing with anything other
// than cancellation stops the others and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("recording pipeline starting",
		slog.Bool("retention", o.retention != nil),
		slog.String("prune_cron", o.pruneCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.recorder.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("recorder: %w", err)
	})

	if o.retention != nil && o.pruneCron != "" {
		g.Go(func() error {
			err := o.retention.RunCron(ctx, o.pruneCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("retention: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("recording pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("recording pipeline stopped cleanly")
	return nil
}
