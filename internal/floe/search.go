package floe

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/leonunix/floe/internal/util"
)

// ReadOption adjusts a read operation.
type ReadOption func(*readOptions)

type readOptions struct {
	index   string
	lastDay bool
}

// FromIndex reads the family override instead of the default index.
func FromIndex(override string) ReadOption {
	return func(o *readOptions) { o.index = override }
}

// LastDayOnly restricts Search to documents from the last 24 hours. The
// field predicate is then ignored.
func LastDayOnly() ReadOption {
	return func(o *readOptions) { o.lastDay = true }
}

func readOptionsFrom(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Search runs a single match query of field against value over the read
// pattern and returns up to SearchSize documents. With LastDayOnly the
// query selects the last 24 hours instead.
func Search[T any](ctx context.Context, c *Client, field string, value interface{}, opts ...ReadOption) ([]T, error) {
	o := readOptionsFrom(opts)
	index := c.namer.ReadIndex(o.index)
	if c.isClosed() {
		return nil, closedError("search")
	}

	f := Filter{Field: field, Value: value}
	if o.lastDay {
		c.log.Debug("last-day search ignores field predicate", "field", field)
		f = Filter{LastDay: true}
	}
	query, _ := buildQuery(f, c.settings.TimestampField)
	return searchHits[T](ctx, c, index, query, c.settings.SearchSize)
}

// FindByID returns the document with the given ID from the read pattern.
// found is false when no document matches.
func FindByID[T any](ctx context.Context, c *Client, id string, opts ...ReadOption) (doc T, found bool, err error) {
	o := readOptionsFrom(opts)
	index := c.namer.ReadIndex(o.index)
	if c.isClosed() {
		return doc, false, closedError("get")
	}

	query := map[string]interface{}{
		"ids": map[string]interface{}{"values": []string{id}},
	}
	docs, err := searchHits[T](ctx, c, index, query, 1)
	if err != nil || len(docs) == 0 {
		return doc, false, err
	}
	return docs[0], true, nil
}

func searchHits[T any](ctx context.Context, c *Client, index string, query map[string]interface{}, size int) ([]T, error) {
	body, err := searchBody(query, size)
	if err != nil {
		return nil, &OpError{Op: "search", Index: index, Kind: ErrSearchFailed, Diagnostic: err.Error(), Err: err}
	}
	res, err := c.engine.Search(ctx, index, body)
	if err != nil {
		return nil, classify("search", index, ErrSearchFailed, err)
	}
	docs, err := decodeHits[T](res.Hits.Hits)
	if err != nil {
		return docs, &OpError{Op: "search", Index: index, Kind: ErrSearchFailed, Diagnostic: err.Error(), Err: err}
	}
	return docs, nil
}

// Count returns the number of documents in the read pattern.
func (c *Client) Count(ctx context.Context, opts ...ReadOption) (int64, error) {
	return c.count(ctx, nil, opts)
}

// CountMatching returns the number of documents whose field matches value.
func (c *Client) CountMatching(ctx context.Context, field string, value interface{}, opts ...ReadOption) (int64, error) {
	body, err := json.Marshal(map[string]interface{}{"query": matchClause(field, value)})
	if err != nil {
		return 0, &OpError{Op: "count", Kind: ErrCountFailed, Diagnostic: err.Error(), Err: err}
	}
	return c.count(ctx, body, opts)
}

func (c *Client) count(ctx context.Context, body []byte, opts []ReadOption) (int64, error) {
	o := readOptionsFrom(opts)
	index := c.namer.ReadIndex(o.index)
	if c.isClosed() {
		return 0, closedError("count")
	}
	n, err := c.engine.Count(ctx, index, body)
	if err != nil {
		return 0, classify("count", index, ErrCountFailed, err)
	}
	return n, nil
}

// Indices lists the concrete indices of the family: the base index itself
// and its -YYYY.MM.DD members. Sibling families sharing the prefix, such as
// logs-archive for logs, are excluded.
func (c *Client) Indices(ctx context.Context, opts ...ReadOption) ([]string, error) {
	o := readOptionsFrom(opts)
	pattern := c.namer.ReadIndex(o.index)
	if c.isClosed() {
		return nil, closedError("indices")
	}
	names, err := c.engine.ResolveIndices(ctx, pattern)
	if err != nil {
		return nil, classify("indices", pattern, ErrIndexFailed, err)
	}
	base := c.namer.base(o.index)
	out := names[:0:0]
	for _, name := range names {
		if !util.MatchIndex(pattern, name) {
			continue
		}
		if name == base {
			out = append(out, name)
			continue
		}
		if _, ok := util.ParseDateSuffix(base, name); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// DeleteIndex deletes one concrete index. Patterns are refused.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	if c.isClosed() {
		return closedError("delete_index")
	}
	if name == "" || strings.ContainsAny(name, "*,") {
		return configError("refusing to delete %q: a single concrete index name is required", name)
	}
	if err := c.engine.DeleteIndex(ctx, name); err != nil {
		return classify("delete_index", name, ErrIndexFailed, err)
	}
	c.log.Info("index deleted", "target", name)
	return nil
}

// DeleteFamily deletes every concrete index of the family and returns the
// names deleted before any failure.
func (c *Client) DeleteFamily(ctx context.Context, opts ...ReadOption) ([]string, error) {
	names, err := c.Indices(ctx, opts...)
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0, len(names))
	for _, name := range names {
		if err := c.DeleteIndex(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
