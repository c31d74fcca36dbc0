package backend

import (
	"context"
	"encoding/json"
	"time"
)

// SearchResponse is the subset of a search response the client layer reads.
type SearchResponse struct {
	Took     int             `json:"took"`
	TimedOut bool            `json:"timed_out"`
	Shards   json.RawMessage `json:"_shards,omitempty"`
	Hits     HitsResult      `json:"hits"`
}

// HitsResult contains the search hits.
type HitsResult struct {
	Total    HitsTotal         `json:"total"`
	MaxScore *float64          `json:"max_score"`
	Hits     []json.RawMessage `json:"hits"`
}

// HitsTotal represents the total hit count.
type HitsTotal struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

// ScrollResult contains a batch of documents from a scroll operation.
type ScrollResult struct {
	ScrollID string
	Hits     []json.RawMessage
	Total    int
}

// BulkItem is one document of a bulk request. An empty ID lets the engine
// assign one.
type BulkItem struct {
	ID     string
	Source json.RawMessage
}

// BulkItemResult is the engine's verdict on a single bulk item.
type BulkItemResult struct {
	ID        string `json:"id"`
	Status    int    `json:"status"`
	ErrorType string `json:"error_type,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Failed reports whether the engine rejected the item.
func (r BulkItemResult) Failed() bool {
	return r.Status >= 300 || r.ErrorType != ""
}

// BulkResult is the outcome of a bulk request that reached the engine.
// Errors is true when at least one item failed.
type BulkResult struct {
	Took   int
	Errors bool
	Items  []BulkItemResult
}

// FailedItems returns the items the engine rejected.
func (r *BulkResult) FailedItems() []BulkItemResult {
	var failed []BulkItemResult
	for _, it := range r.Items {
		if it.Failed() {
			failed = append(failed, it)
		}
	}
	return failed
}

// Engine is the search-engine capability the client layer depends on.
type Engine interface {
	// Bulk indexes a batch of documents into the given index.
	Bulk(ctx context.Context, index string, items []BulkItem) (*BulkResult, error)

	// Search executes a single, non-scrolled query.
	Search(ctx context.Context, index string, body []byte) (*SearchResponse, error)

	// Scroll opens a scroll cursor (scrollID == "") or continues an existing one.
	Scroll(ctx context.Context, index string, body []byte, scrollID string, keepAlive time.Duration) (*ScrollResult, error)

	// ClearScroll releases server-side scroll resources.
	ClearScroll(ctx context.Context, scrollID string) error

	// Count returns the number of documents matching the query body.
	Count(ctx context.Context, index string, body []byte) (int64, error)

	// ResolveIndices expands an index pattern to concrete index names.
	ResolveIndices(ctx context.Context, pattern string) ([]string, error)

	// DeleteIndex removes an index. A missing index is not an error.
	DeleteIndex(ctx context.Context, index string) error

	// Close releases the connection handle.
	Close() error

	// Name returns the backend name for logging purposes.
	Name() string
}
