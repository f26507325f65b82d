package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/alanyoungcy/l2book/internal/marketdata"
	"github.com/alanyoungcy/l2book/internal/metrics"
	"github.com/alanyoungcy/l2book/internal/notify"
)

// RecorderLockKey is the lock that elects a single recorder.
const RecorderLockKey = "recorder"

// RecorderConfig controls sampling and flushing.
type RecorderConfig struct {
	SampleInterval time.Duration
	FlushInterval  time.Duration
	Depth          int // levels kept per archived view
	ImbalanceDepth int
	LockTTL        time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Minute
	}
	if c.Depth <= 0 {
		c.Depth = 20
	}
	if c.ImbalanceDepth <= 0 {
		c.ImbalanceDepth = 5
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

// RecorderDeps are the sinks and coordination primitives of a Recorder.
// Nil fields are skipped.
type RecorderDeps struct {
	Store    domain.MetricsStore
	Archiver domain.BookArchiver
	Locks    domain.LockManager
	Events   domain.EventStore
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// Recorder periodically samples every synced book. Metrics go to the
// metrics store on each sample, views are buffered in the archiver and
// flushed on a slower cadence.
type Recorder struct {
	registry *marketdata.Registry
	cfg      RecorderConfig
	deps     RecorderDeps
	logger   *slog.Logger

	mu      sync.Mutex
	samples int64
	flushed int64
}

// NewRecorder creates a Recorder over registry.
func NewRecorder(registry *marketdata.Registry, cfg RecorderConfig, deps RecorderDeps, logger *slog.Logger) *Recorder {
	return &Recorder{
		registry: registry,
		cfg:      cfg.withDefaults(),
		deps:     deps,
		logger:   logger.With(slog.String("component", "recorder")),
	}
}

// Run records until ctx is cancelled. With a lock manager it first waits
// to become the single active recorder.
func (r *Recorder) Run(ctx context.Context) error {
	if r.deps.Locks != nil {
		release, err := r.waitForLock(ctx)
		if err != nil {
			return err
		}
		defer release()
	}

	r.logger.Info("recorder started",
		slog.Duration("sample_interval", r.cfg.SampleInterval),
		slog.Duration("flush_interval", r.cfg.FlushInterval),
	)

	sample := time.NewTicker(r.cfg.SampleInterval)
	defer sample.Stop()
	flush := time.NewTicker(r.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finalFlush()
			r.logger.Info("recorder stopped")
			return ctx.Err()
		case <-sample.C:
			if err := r.SampleOnce(ctx); err != nil {
				r.reportError(ctx, "sample", err)
			}
		case <-flush.C:
			if _, err := r.Flush(ctx); err != nil {
				r.reportError(ctx, "flush", err)
			}
		}
	}
}

func (r *Recorder) waitForLock(ctx context.Context) (func(), error) {
	for {
		release, err := r.deps.Locks.Acquire(ctx, RecorderLockKey, r.cfg.LockTTL)
		if err == nil {
			r.logger.Info("recorder lock acquired")
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockNotAcquired) {
			r.logger.Warn("recorder lock error", slog.String("error", err.Error()))
		} else {
			r.logger.Debug("another recorder is active, standing by")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.LockTTL):
		}
	}
}

// SampleOnce captures the metrics and view of every synced book.
func (r *Recorder) SampleOnce(ctx context.Context) error {
	var batch []domain.BookMetrics
	for _, m := range r.registry.Managers() {
		if st := m.Stats(); !st.Synced || st.Updates == 0 {
			continue
		}
		batch = append(batch, m.Metrics(r.cfg.ImbalanceDepth))
		if r.deps.Archiver != nil {
			r.deps.Archiver.Add(m.View(r.cfg.Depth))
		}
	}
	if len(batch) == 0 {
		return nil
	}

	r.mu.Lock()
	r.samples += int64(len(batch))
	r.mu.Unlock()

	if r.deps.Store == nil {
		return nil
	}
	if err := r.deps.Store.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("recorder: insert %d samples: %w", len(batch), err)
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordRecorderRows("postgres", len(batch))
	}
	return nil
}

// Flush ships buffered views to the archiver.
func (r *Recorder) Flush(ctx context.Context) (int, error) {
	if r.deps.Archiver == nil {
		return 0, nil
	}
	n, err := r.deps.Archiver.Flush(ctx)
	if n > 0 {
		r.mu.Lock()
		r.flushed += int64(n)
		r.mu.Unlock()
		if r.deps.Metrics != nil {
			r.deps.Metrics.RecordRecorderRows("s3", n)
		}
		r.logger.Debug("flushed views", slog.Int("count", n))
	}
	if err != nil {
		return n, fmt.Errorf("recorder: flush: %w", err)
	}
	return n, nil
}

// Counts returns how many metric samples were taken and views flushed.
func (r *Recorder) Counts() (samples, flushed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples, r.flushed
}

// finalFlush drains the archiver after the run context is gone.
func (r *Recorder) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.Flush(ctx); err != nil {
		r.logger.Error("final flush failed", slog.String("error", err.Error()))
	}
}

func (r *Recorder) reportError(ctx context.Context, stage string, err error) {
	r.logger.ErrorContext(ctx, "recorder error",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	ev := domain.BookEvent{
		Kind:      domain.EventRecorderError,
		Detail:    map[string]any{"stage": stage, "error": err.Error()},
		CreatedAt: time.Now().UTC(),
	}
	if r.deps.Events != nil {
		if recErr := r.deps.Events.Record(ctx, ev); recErr != nil {
			r.logger.WarnContext(ctx, "record event failed", slog.String("error", recErr.Error()))
		}
	}
	if err := r.deps.Notifier.Notify(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}
