package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Elasticsearch implements the Engine interface over the official client.
type Elasticsearch struct {
	client    *elasticsearch.Client
	transport *http.Transport
}

// ElasticsearchOptions configures the connection handle.
type ElasticsearchOptions struct {
	Addresses []string
	Username  string
	Password  string
	// Transport is optional; a clone of http.DefaultTransport is used otherwise.
	Transport *http.Transport
}

// NewElasticsearch creates a new Elasticsearch engine client.
// Client-side retries are disabled: retry policy belongs to the caller.
func NewElasticsearch(opts ElasticsearchOptions) (*Elasticsearch, error) {
	tr := opts.Transport
	if tr == nil {
		tr = http.DefaultTransport.(*http.Transport).Clone()
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    opts.Addresses,
		Username:     opts.Username,
		Password:     opts.Password,
		Transport:    tr,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Elasticsearch{client: client, transport: tr}, nil
}

func (e *Elasticsearch) Name() string { return "elasticsearch" }

// Close drops idle keep-alive connections held by the transport.
func (e *Elasticsearch) Close() error {
	e.transport.CloseIdleConnections()
	return nil
}

func (e *Elasticsearch) Bulk(ctx context.Context, index string, items []BulkItem) (*BulkResult, error) {
	var buf bytes.Buffer
	for i, it := range items {
		meta := map[string]string{"_index": index}
		if it.ID != "" {
			meta["_id"] = it.ID
		}
		action, err := json.Marshal(map[string]interface{}{"index": meta})
		if err != nil {
			return nil, fmt.Errorf("marshaling bulk action %d: %w", i, err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		// NDJSON requires each source on a single line.
		if err := json.Compact(&buf, it.Source); err != nil {
			return nil, fmt.Errorf("encoding bulk document %d: %w", i, err)
		}
		buf.WriteByte('\n')
	}

	res, err := esapi.BulkRequest{Index: index, Body: &buf}.Do(ctx, e.client)
	if err != nil {
		return nil, fmt.Errorf("executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(res, "bulk "+index)
	}

	var raw struct {
		Took   int  `json:"took"`
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}

	result := &BulkResult{Took: raw.Took, Errors: raw.Errors, Items: make([]BulkItemResult, 0, len(raw.Items))}
	for _, entry := range raw.Items {
		// Each entry has exactly one key: the action name.
		for _, item := range entry {
			r := BulkItemResult{ID: item.ID, Status: item.Status}
			if item.Error != nil {
				r.ErrorType = item.Error.Type
				r.Reason = item.Error.Reason
			}
			result.Items = append(result.Items, r)
		}
	}
	return result, nil
}

func (e *Elasticsearch) Search(ctx context.Context, index string, body []byte) (*SearchResponse, error) {
	res, err := esapi.SearchRequest{
		Index:             []string{index},
		Body:              bytes.NewReader(body),
		IgnoreUnavailable: esapi.BoolPtr(true),
		AllowNoIndices:    esapi.BoolPtr(true),
	}.Do(ctx, e.client)
	if err != nil {
		return nil, fmt.Errorf("executing search request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(res, "search "+index)
	}

	var result SearchResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &result, nil
}

// Scroll performs a scroll request. On the initial request (scrollID == "")
// body is the query; on continuation body is ignored.
func (e *Elasticsearch) Scroll(ctx context.Context, index string, body []byte, scrollID string, keepAlive time.Duration) (*ScrollResult, error) {
	var (
		res *esapi.Response
		err error
		op  string
	)
	if scrollID == "" {
		op = "scroll " + index
		res, err = esapi.SearchRequest{
			Index:             []string{index},
			Body:              bytes.NewReader(body),
			Scroll:            keepAlive,
			IgnoreUnavailable: esapi.BoolPtr(true),
			AllowNoIndices:    esapi.BoolPtr(true),
		}.Do(ctx, e.client)
	} else {
		op = "scroll continue"
		reqBody, mErr := json.Marshal(map[string]string{"scroll_id": scrollID})
		if mErr != nil {
			return nil, fmt.Errorf("marshaling scroll request: %w", mErr)
		}
		res, err = esapi.ScrollRequest{
			Body:   bytes.NewReader(reqBody),
			Scroll: keepAlive,
		}.Do(ctx, e.client)
	}
	if err != nil {
		return nil, fmt.Errorf("executing scroll request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(res, op)
	}

	var raw struct {
		ScrollID string     `json:"_scroll_id"`
		Hits     HitsResult `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding scroll response: %w", err)
	}

	return &ScrollResult{
		ScrollID: raw.ScrollID,
		Hits:     raw.Hits.Hits,
		Total:    raw.Hits.Total.Value,
	}, nil
}

func (e *Elasticsearch) ClearScroll(ctx context.Context, scrollID string) error {
	body, err := json.Marshal(map[string]string{"scroll_id": scrollID})
	if err != nil {
		return fmt.Errorf("marshaling clear scroll request: %w", err)
	}
	res, err := esapi.ClearScrollRequest{Body: bytes.NewReader(body)}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("executing clear scroll: %w", err)
	}
	defer res.Body.Close()

	// 404: the cursor already expired server-side.
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return statusError(res, "clear scroll")
	}
	return nil
}

func (e *Elasticsearch) Count(ctx context.Context, index string, body []byte) (int64, error) {
	req := esapi.CountRequest{
		Index:             []string{index},
		IgnoreUnavailable: esapi.BoolPtr(true),
		AllowNoIndices:    esapi.BoolPtr(true),
	}
	if len(body) > 0 {
		req.Body = bytes.NewReader(body)
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return 0, fmt.Errorf("executing count request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, statusError(res, "count "+index)
	}

	var raw struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return raw.Count, nil
}

// ResolveIndices lists concrete index names matching pattern, sorted.
func (e *Elasticsearch) ResolveIndices(ctx context.Context, pattern string) ([]string, error) {
	res, err := esapi.CatIndicesRequest{
		Index:  []string{pattern},
		Format: "json",
		H:      []string{"index"},
	}.Do(ctx, e.client)
	if err != nil {
		return nil, fmt.Errorf("executing cat indices request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, statusError(res, "cat indices "+pattern)
	}

	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding cat indices response: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Index)
	}
	sort.Strings(names)
	return names, nil
}

func (e *Elasticsearch) DeleteIndex(ctx context.Context, index string) error {
	res, err := esapi.IndicesDeleteRequest{
		Index:             []string{index},
		IgnoreUnavailable: esapi.BoolPtr(true),
	}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("executing delete index request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return statusError(res, "delete index "+index)
	}
	return nil
}
