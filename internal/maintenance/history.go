package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/leonunix/floe/internal/backend"
	"github.com/leonunix/floe/internal/floe"
)

const historyIndex = ".floe-maintenance"

// JobRecord is the outcome of a single maintenance job run.
type JobRecord struct {
	Timestamp   time.Time `json:"@timestamp"`
	RunID       string    `json:"run_id"`
	Job         string    `json:"job"`
	Kind        string    `json:"kind"` // "copy" or "prune"
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationSec float64   `json:"duration_sec"`
	Processed   int64     `json:"processed"`
	Status      string    `json:"status"` // "success" or "failed"
	Error       string    `json:"error,omitempty"`
}

// DocumentID is deterministic so a retried record overwrites instead of
// duplicating.
func (r JobRecord) DocumentID() string {
	return fmt.Sprintf("%s-%s", r.RunID, r.Job)
}

func newJobRecord(runID, kind, job string, start time.Time, processed int64, err error) *JobRecord {
	now := time.Now().UTC()
	rec := &JobRecord{
		Timestamp:   now,
		RunID:       runID,
		Job:         job,
		Kind:        kind,
		StartedAt:   start.UTC(),
		CompletedAt: now,
		DurationSec: now.Sub(start).Seconds(),
		Processed:   processed,
		Status:      "success",
	}
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
	}
	return rec
}

// Recorder persists job records for later analysis.
type Recorder interface {
	Record(ctx context.Context, rec *JobRecord) error
}

// IndexHistory stores job records in the .floe-maintenance index.
type IndexHistory struct {
	client *floe.Client
}

// NewIndexHistory creates a history writer over engine. Records are written
// immediately, one bulk request each.
func NewIndexHistory(engine backend.Engine, settings floe.Settings) (*IndexHistory, error) {
	s := settings
	s.DefaultIndex = historyIndex
	s.RollingDate = false
	s.BatchSize = 0
	s.TimestampField = "@timestamp"
	c, err := floe.New(sharedEngine{engine}, s)
	if err != nil {
		return nil, err
	}
	return &IndexHistory{client: c}, nil
}

func (h *IndexHistory) Record(ctx context.Context, rec *JobRecord) error {
	return h.client.Write(ctx, rec)
}

// Recent returns the records of the last days days.
func (h *IndexHistory) Recent(ctx context.Context, days int) ([]JobRecord, error) {
	return floe.List[JobRecord](ctx, h.client, floe.Filter{LastDays: days})
}

var _ Recorder = (*IndexHistory)(nil)
