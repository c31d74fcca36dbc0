package floe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leonunix/floe/internal/backend"
)

type bulkCall struct {
	index string
	items []backend.BulkItem
}

// fakeEngine is an in-memory backend.Engine that records every call.
type fakeEngine struct {
	mu sync.Mutex

	bulkCalls  []bulkCall
	bulkErr    error
	bulkReject map[string]string // document ID -> error type

	pages        [][]json.RawMessage
	nextPage     int
	scrollCalls  int
	scrollErrAt  int // 1-based scroll call that fails
	scrollErr    error
	scrollBodies [][]byte
	scrollIndex  []string
	cleared      []string

	searchHits   []json.RawMessage
	searchErr    error
	searchBodies [][]byte
	searchIndex  []string

	count       int64
	countErr    error
	countBodies [][]byte

	indices []string
	deleted []string
	closes  int
}

var _ backend.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeEngine) Bulk(ctx context.Context, index string, items []backend.BulkItem) (*backend.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	f.bulkCalls = append(f.bulkCalls, bulkCall{index: index, items: append([]backend.BulkItem(nil), items...)})

	res := &backend.BulkResult{}
	for _, it := range items {
		r := backend.BulkItemResult{ID: it.ID, Status: 201}
		if typ, ok := f.bulkReject[it.ID]; ok {
			r.Status = 400
			r.ErrorType = typ
			r.Reason = "rejected by test"
			res.Errors = true
		}
		res.Items = append(res.Items, r)
	}
	return res, nil
}

func (f *fakeEngine) Search(_ context.Context, index string, body []byte) (*backend.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchBodies = append(f.searchBodies, body)
	f.searchIndex = append(f.searchIndex, index)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	resp := &backend.SearchResponse{}
	resp.Hits.Hits = f.searchHits
	resp.Hits.Total.Value = len(f.searchHits)
	return resp, nil
}

func (f *fakeEngine) Scroll(ctx context.Context, index string, body []byte, scrollID string, _ time.Duration) (*backend.ScrollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrollCalls++
	if scrollID == "" {
		f.scrollBodies = append(f.scrollBodies, body)
		f.scrollIndex = append(f.scrollIndex, index)
	}
	if f.scrollErrAt == f.scrollCalls {
		return nil, f.scrollErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var hits []json.RawMessage
	if f.nextPage < len(f.pages) {
		hits = f.pages[f.nextPage]
		f.nextPage++
	}
	return &backend.ScrollResult{
		ScrollID: fmt.Sprintf("cursor-%d", f.scrollCalls),
		Hits:     hits,
	}, nil
}

func (f *fakeEngine) ClearScroll(_ context.Context, scrollID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, scrollID)
	return nil
}

func (f *fakeEngine) Count(_ context.Context, _ string, body []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countBodies = append(f.countBodies, body)
	return f.count, f.countErr
}

func (f *fakeEngine) ResolveIndices(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indices...), nil
}

func (f *fakeEngine) DeleteIndex(_ context.Context, index string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, index)
	return nil
}

func (f *fakeEngine) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.bulkCalls {
		n += len(call.items)
	}
	return n
}

func (f *fakeEngine) roundTrips() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bulkCalls)
}

// makePage returns n hits numbered from start.
func makePage(start, n int) []json.RawMessage {
	page := make([]json.RawMessage, n)
	for i := range page {
		page[i] = json.RawMessage(fmt.Sprintf(`{"_id":"doc-%d","_source":{"n":%d}}`, start+i, start+i))
	}
	return page
}

func newTestClient(t *testing.T, eng *fakeEngine, mutate func(*Settings), opts ...Option) *Client {
	t.Helper()
	s := DefaultSettings("logs")
	if mutate != nil {
		mutate(&s)
	}
	c, err := New(eng, s, opts...)
	require.NoError(t, err)
	return c
}

type event struct {
	ID      string `json:"-"`
	Message string `json:"message"`
}

func (e event) DocumentID() string { return e.ID }

func (e *event) SetDocumentID(id string) { e.ID = id }
