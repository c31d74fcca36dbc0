package floe

import (
	"context"

	"github.com/leonunix/floe/internal/backend"
	"github.com/leonunix/floe/internal/metrics"
)

// WriteOption adjusts a single Write or FlushRemaining call.
type WriteOption func(*writeOptions)

type writeOptions struct {
	index           string
	allowDuplicates bool
}

// ToIndex sends the flush triggered by this call to override instead of the
// default index. Rolling-date suffixes still apply.
func ToIndex(override string) WriteOption {
	return func(o *writeOptions) { o.index = override }
}

// AllowDuplicates submits identical documents as separate items.
func AllowDuplicates() WriteOption {
	return func(o *writeOptions) { o.allowDuplicates = true }
}

func (c *Client) writeOptions(opts []WriteOption) writeOptions {
	o := writeOptions{allowDuplicates: c.settings.AllowDuplicates}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Write appends doc to the buffer and flushes when the buffer reaches the
// batch size. A flush sends the whole buffer to this call's target index.
// On failure the buffer is kept, including doc.
func (c *Client) Write(ctx context.Context, doc interface{}, opts ...WriteOption) error {
	if c.isClosed() {
		return closedError("write")
	}
	e, err := encodeEntry(doc)
	if err != nil {
		return &OpError{Op: "write", Kind: ErrBulkWriteFailed, Diagnostic: err.Error(), Err: err}
	}
	o := c.writeOptions(opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = append(c.buffer, e)
	metrics.BufferDocuments.Inc()
	if len(c.buffer) < c.settings.BatchSize {
		return nil
	}
	return c.flushLocked(ctx, "write", o)
}

// FlushRemaining submits whatever is buffered. An empty buffer costs no
// round-trip.
func (c *Client) FlushRemaining(ctx context.Context, opts ...WriteOption) error {
	if c.isClosed() {
		return closedError("flush")
	}
	o := c.writeOptions(opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx, "flush", o)
}

// Buffered returns the number of documents waiting to be flushed.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// flushLocked must be called with c.mu held. The buffer is cleared only
// when every item was accepted.
func (c *Client) flushLocked(ctx context.Context, op string, o writeOptions) error {
	if len(c.buffer) == 0 {
		return nil
	}
	index := c.namer.WriteIndex(o.index)

	batch := c.buffer
	if !o.allowDuplicates {
		batch = distinct(batch)
	}
	items := make([]backend.BulkItem, len(batch))
	for i, e := range batch {
		items[i] = backend.BulkItem{ID: e.id, Source: e.source}
	}

	res, err := c.engine.Bulk(ctx, index, items)
	if err != nil {
		metrics.RecordFlush(len(items), err)
		c.log.Warn("bulk flush failed", "target", index, "documents", len(items), "error", err)
		return classify(op, index, ErrBulkWriteFailed, err)
	}
	if failed := res.FailedItems(); res.Errors || len(failed) > 0 {
		ferr := bulkError(op, index, len(items), failed)
		metrics.RecordFlush(len(items), ferr)
		c.log.Warn("bulk flush rejected items", "target", index, "documents", len(items), "failed", len(failed))
		return ferr
	}

	metrics.RecordFlush(len(items), nil)
	metrics.BufferDocuments.Sub(float64(len(c.buffer)))
	c.log.Debug("bulk flush", "target", index, "documents", len(items), "suppressed", len(c.buffer)-len(items))
	c.buffer = nil
	return nil
}
