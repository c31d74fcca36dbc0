package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/leonunix/floe/internal/config"
	"github.com/leonunix/floe/internal/floe"
)

type progress struct {
	job       string
	copied    atomic.Int64
	startTime time.Time
}

// Copy streams every document of the source family (optionally only the last
// LastHours) into the target family through a scroll cursor and the bulk
// buffer. Document IDs are preserved, so a re-run overwrites rather than
// duplicates.
func (r *Runner) Copy(ctx context.Context, job config.CopyJob, log *slog.Logger) (int64, error) {
	c, err := r.clientFor(job.Source, log)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	p := &progress{job: job.Source + "->" + job.Target, startTime: time.Now()}
	stop := make(chan struct{})
	ticker := time.NewTicker(r.progressInterval)
	go reportProgress(log, p, stop, ticker.C)
	defer func() {
		close(stop)
		ticker.Stop()
	}()

	log.Info("copy starting", "source", job.Source, "target", job.Target, "last_hours", job.LastHours)

	s, page, err := floe.BeginScroll[floe.Doc](ctx, c, floe.ScrollQuery{
		Filter: floe.Filter{LastHours: job.LastHours},
		Index:  sourcePattern(job),
	})
	defer func() {
		if err := s.End(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to clear copy scroll", "error", err)
		}
	}()
	if err != nil {
		return 0, fmt.Errorf("opening source scroll: %w", err)
	}

	opts := []floe.WriteOption{floe.ToIndex(job.Target)}
	if job.AllowDuplicates {
		opts = append(opts, floe.AllowDuplicates())
	}

	for len(page) > 0 {
		for _, doc := range page {
			if err := c.Write(ctx, doc, opts...); err != nil {
				return p.copied.Load(), fmt.Errorf("writing to target: %w", err)
			}
		}
		p.copied.Add(int64(len(page)))

		page, err = s.Continue(ctx)
		if err != nil {
			return p.copied.Load(), fmt.Errorf("continuing source scroll: %w", err)
		}
	}
	if err := c.FlushRemaining(ctx, opts...); err != nil {
		return p.copied.Load(), fmt.Errorf("flushing target: %w", err)
	}

	copied := p.copied.Load()
	elapsed := time.Since(p.startTime)
	log.Info("copy completed",
		"copied", copied,
		"elapsed", elapsed.Round(time.Second).String(),
		"docs_per_sec", float64(copied)/elapsed.Seconds(),
	)
	return copied, nil
}

// sourcePattern excludes the target family when it shares the source's
// prefix, so a copy never reads its own output.
func sourcePattern(job config.CopyJob) string {
	if strings.HasPrefix(job.Target, job.Source) {
		return job.Source + "*,-" + job.Target
	}
	return job.Source
}

func reportProgress(log *slog.Logger, p *progress, stop <-chan struct{}, tick <-chan time.Time) {
	for {
		select {
		case <-stop:
			return
		case <-tick:
			copied := p.copied.Load()
			elapsed := time.Since(p.startTime)
			log.Info("copy progress",
				"job", p.job,
				"copied", copied,
				"elapsed", elapsed.Round(time.Second).String(),
				"docs_per_sec", int(float64(copied)/elapsed.Seconds()),
			)
		}
	}
}
