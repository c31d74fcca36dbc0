package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine starts a fake cluster. Every response carries the product
// header the official client checks on 2xx answers.
func newTestEngine(t *testing.T, h http.HandlerFunc) (*Elasticsearch, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	es, err := NewElasticsearch(ElasticsearchOptions{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	t.Cleanup(func() { es.Close() })
	return es, srv
}

func TestElasticsearch_Bulk_EncodesNDJSON(t *testing.T) {
	var lines []string
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/events/_bulk" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		w.Write([]byte(`{"took":3,"errors":false,"items":[
			{"index":{"_id":"a","status":201}},
			{"index":{"_id":"gen-1","status":201}}]}`))
	})

	res, err := es.Bulk(context.Background(), "events", []BulkItem{
		{ID: "a", Source: json.RawMessage("{\n  \"n\": 1\n}")},
		{Source: json.RawMessage(`{"n":2}`)},
	})
	require.NoError(t, err)
	assert.False(t, res.Errors)
	assert.Len(t, res.Items, 2)
	assert.Empty(t, res.FailedItems())

	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"index":{"_index":"events","_id":"a"}}`, lines[0])
	assert.Equal(t, `{"n":1}`, lines[1])
	assert.JSONEq(t, `{"index":{"_index":"events"}}`, lines[2])
	assert.Equal(t, `{"n":2}`, lines[3])
}

func TestElasticsearch_Bulk_ItemErrors(t *testing.T) {
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"took":1,"errors":true,"items":[
			{"index":{"_id":"ok","status":201}},
			{"index":{"_id":"bad","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [n]"}}}]}`))
	})

	res, err := es.Bulk(context.Background(), "events", []BulkItem{
		{ID: "ok", Source: json.RawMessage(`{"n":1}`)},
		{ID: "bad", Source: json.RawMessage(`{"n":"x"}`)},
	})
	require.NoError(t, err)
	assert.True(t, res.Errors)

	failed := res.FailedItems()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ID)
	assert.Equal(t, 400, failed[0].Status)
	assert.Equal(t, "mapper_parsing_exception", failed[0].ErrorType)
	assert.Contains(t, failed[0].Reason, "failed to parse")
}

func TestElasticsearch_Bulk_InvalidSource(t *testing.T) {
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	})

	_, err := es.Bulk(context.Background(), "events", []BulkItem{{Source: json.RawMessage(`{not json`)}})
	require.Error(t, err)
}

func TestElasticsearch_Search_Non2xxReturnsHTTPStatusError(t *testing.T) {
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"parsing_exception"}}`))
	})

	_, err := es.Search(context.Background(), "events*", []byte(`{}`))
	require.Error(t, err)
	var httpErr *HTTPStatusError
	require.True(t, errors.As(err, &httpErr), "got %T: %v", err, err)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "parsing_exception")
}

func TestElasticsearch_Scroll_OpenAndContinue(t *testing.T) {
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/events*/_search":
			if r.URL.Query().Get("scroll") == "" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"missing scroll"}`))
				return
			}
			w.Write([]byte(`{"_scroll_id":"sid-1","hits":{"total":{"value":3,"relation":"eq"},"hits":[{"_id":"1","_source":{}},{"_id":"2","_source":{}}]}}`))
		case r.URL.Path == "/_search/scroll":
			b, _ := io.ReadAll(r.Body)
			var m map[string]string
			json.Unmarshal(b, &m)
			if m["scroll_id"] != "sid-1" {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":{"type":"search_context_missing_exception"}}`))
				return
			}
			w.Write([]byte(`{"_scroll_id":"sid-2","hits":{"total":{"value":3,"relation":"eq"},"hits":[{"_id":"3","_source":{}}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	first, err := es.Scroll(ctx, "events*", []byte(`{"size":2}`), "", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "sid-1", first.ScrollID)
	assert.Len(t, first.Hits, 2)
	assert.Equal(t, 3, first.Total)

	next, err := es.Scroll(ctx, "events*", nil, first.ScrollID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "sid-2", next.ScrollID)
	assert.Len(t, next.Hits, 1)

	_, err = es.Scroll(ctx, "events*", nil, "expired", 5*time.Minute)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestElasticsearch_ClearScroll_MissingCursorIsFine(t *testing.T) {
	var calls atomic.Int32
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodDelete || r.URL.Path != "/_search/scroll" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"succeeded":true,"num_freed":0}`))
	})

	require.NoError(t, es.ClearScroll(context.Background(), "sid"))
	assert.EqualValues(t, 1, calls.Load())
}

func TestElasticsearch_Count(t *testing.T) {
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events*/_count" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		if strings.Contains(string(b), "match") {
			w.Write([]byte(`{"count":2}`))
			return
		}
		w.Write([]byte(`{"count":42}`))
	})
	ctx := context.Background()

	n, err := es.Count(ctx, "events*", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)

	n, err = es.Count(ctx, "events*", []byte(`{"query":{"match":{"kind":"x"}}}`))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestElasticsearch_ResolveIndices(t *testing.T) {
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/_cat/indices/events*":
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			w.Write([]byte(`[{"index":"events-2025.01.02"},{"index":"events-2025.01.01"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"type":"index_not_found_exception"}}`))
		}
	})
	ctx := context.Background()

	got, err := es.ResolveIndices(ctx, "events*")
	require.NoError(t, err)
	assert.Equal(t, []string{"events-2025.01.01", "events-2025.01.02"}, got)

	got, err = es.ResolveIndices(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestElasticsearch_DeleteIndex(t *testing.T) {
	var deleted []string
	es, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		deleted = append(deleted, r.URL.Path)
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"acknowledged":true}`))
	})
	ctx := context.Background()

	require.NoError(t, es.DeleteIndex(ctx, "events-2025.01.01"))
	require.NoError(t, es.DeleteIndex(ctx, "gone"))
	assert.Equal(t, []string{"/events-2025.01.01", "/gone"}, deleted)
}
