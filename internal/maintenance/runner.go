// Package maintenance runs scheduled copy and prune jobs over index families.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leonunix/floe/internal/backend"
	"github.com/leonunix/floe/internal/config"
	"github.com/leonunix/floe/internal/floe"
	"github.com/leonunix/floe/internal/metrics"
)

// Locker keeps several maintenance processes from running the same job.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Runner executes the configured maintenance jobs.
type Runner struct {
	engine           backend.Engine
	settings         floe.Settings
	cfg              config.MaintenanceConfig
	lock             Locker
	history          Recorder
	now              func() time.Time
	progressInterval time.Duration
}

// Option configures optional Runner behavior.
type Option func(*Runner)

// WithLock enables job locking across instances.
func WithLock(l Locker) Option {
	return func(r *Runner) { r.lock = l }
}

// WithHistory records every job outcome with rec.
func WithHistory(rec Recorder) Option {
	return func(r *Runner) { r.history = rec }
}

// WithClock sets the clock prune retention is measured against.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner. Each job gets its own floe.Client over engine,
// derived from settings; the engine itself is never closed by the Runner.
func NewRunner(engine backend.Engine, settings floe.Settings, cfg config.MaintenanceConfig, opts ...Option) *Runner {
	r := &Runner{
		engine:           sharedEngine{engine},
		settings:         settings,
		cfg:              cfg,
		now:              time.Now,
		progressInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// sharedEngine keeps per-job clients from closing the common connection.
type sharedEngine struct {
	backend.Engine
}

func (sharedEngine) Close() error { return nil }

func (r *Runner) clientFor(family string, log *slog.Logger) (*floe.Client, error) {
	s := r.settings
	s.DefaultIndex = family
	return floe.New(r.engine, s, floe.WithLogger(log))
}

// RunAll runs every configured job, at most cfg.Concurrency at a time. A
// failing job does not stop the others; all failures are returned joined.
func (r *Runner) RunAll(ctx context.Context) error {
	runID := uuid.NewString()
	log := slog.With("run_id", runID)
	log.Info("maintenance run starting", "copy_jobs", len(r.cfg.Copy), "prune_jobs", len(r.cfg.Prune))
	start := time.Now()

	limit := r.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	var mu sync.Mutex
	var errs []error
	record := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}

	for _, job := range r.cfg.Copy {
		job := job
		g.Go(func() error {
			record(r.runJob(ctx, log, runID, "copy", copyLockKey(job), func(ctx context.Context, log *slog.Logger) (int64, error) {
				return r.Copy(ctx, job, log)
			}))
			return nil
		})
	}
	for _, job := range r.cfg.Prune {
		job := job
		g.Go(func() error {
			record(r.runJob(ctx, log, runID, "prune", "prune-"+job.Family, func(ctx context.Context, log *slog.Logger) (int64, error) {
				deleted, err := r.Prune(ctx, job, log)
				return int64(len(deleted)), err
			}))
			return nil
		})
	}
	_ = g.Wait()

	log.Info("maintenance run finished",
		"failed_jobs", len(errs),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return errors.Join(errs...)
}

func copyLockKey(job config.CopyJob) string {
	return "copy-" + job.Source + "-" + job.Target
}

// runJob wraps fn with the job lock, metrics and history.
func (r *Runner) runJob(ctx context.Context, log *slog.Logger, runID, kind, key string, fn func(context.Context, *slog.Logger) (int64, error)) error {
	log = log.With("job", key)
	if r.lock != nil {
		acquired, err := r.lock.Acquire(ctx, key, r.cfg.LockTTL)
		if err != nil {
			metrics.MaintenanceRunsTotal.WithLabelValues(kind, "failed").Inc()
			return fmt.Errorf("acquiring lock for %s: %w", key, err)
		}
		if !acquired {
			log.Info("skipping job, lock held by another instance")
			metrics.MaintenanceRunsTotal.WithLabelValues(kind, "skipped").Inc()
			return nil
		}
		defer func() {
			if err := r.lock.Release(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("failed to release job lock", "error", err)
			}
		}()
	}

	start := time.Now()
	n, err := fn(ctx, log)
	if r.history != nil {
		if recErr := r.history.Record(context.WithoutCancel(ctx), newJobRecord(runID, kind, key, start, n, err)); recErr != nil {
			log.Warn("failed to record job history", "error", recErr)
		}
	}
	metrics.MaintenanceDocumentsTotal.WithLabelValues(kind).Add(float64(n))
	if err != nil {
		metrics.MaintenanceRunsTotal.WithLabelValues(kind, "failed").Inc()
		log.Error("maintenance job failed", "processed", n, "error", err)
		return fmt.Errorf("%s: %w", key, err)
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(kind, "success").Inc()
	return nil
}
