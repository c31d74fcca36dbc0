package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leonunix/floe/internal/config"
	"github.com/leonunix/floe/internal/util"
)

// Prune deletes the rolling-date members of job.Family dated more than
// KeepDays before today (UTC). Undated members are never touched.
func (r *Runner) Prune(ctx context.Context, job config.PruneJob, log *slog.Logger) ([]string, error) {
	c, err := r.clientFor(job.Family, log)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	names, err := c.Indices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing family: %w", err)
	}

	now := r.now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -job.KeepDays)

	var deleted []string
	for _, name := range names {
		date, ok := util.ParseDateSuffix(job.Family, name)
		if !ok || !date.Before(cutoff) {
			continue
		}
		if err := c.DeleteIndex(ctx, name); err != nil {
			return deleted, fmt.Errorf("deleting %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}
	log.Info("prune completed",
		"family", job.Family,
		"cutoff", cutoff.Format(util.DateLayout),
		"examined", len(names),
		"deleted", len(deleted),
	)
	return deleted, nil
}
