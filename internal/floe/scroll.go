package floe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leonunix/floe/internal/metrics"
)

// ScrollState is the lifecycle position of a Scroll.
type ScrollState int

const (
	ScrollUnstarted ScrollState = iota
	ScrollActive
	ScrollExhausted
	ScrollFailed
	ScrollClosed
)

func (s ScrollState) String() string {
	switch s {
	case ScrollUnstarted:
		return "unstarted"
	case ScrollActive:
		return "active"
	case ScrollExhausted:
		return "exhausted"
	case ScrollFailed:
		return "failed"
	case ScrollClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ScrollQuery describes a manual scroll. Zero WindowSize and TTL fall back
// to the client settings.
type ScrollQuery struct {
	Filter     Filter
	Index      string // overrides the default family
	WindowSize int
	TTL        time.Duration
}

// Scroll walks a result set page by page through a server-side cursor. It
// must not be shared between goroutines. Always call End, including after
// errors; End is idempotent.
type Scroll[T any] struct {
	c     *Client
	cur   *cursor
	index string
	ttl   time.Duration
	state ScrollState
	err   error
}

// State returns the current lifecycle state.
func (s *Scroll[T]) State() ScrollState { return s.state }

// Done reports whether Continue can yield more documents.
func (s *Scroll[T]) Done() bool { return s.state != ScrollActive }

// Err returns the error that moved the scroll to ScrollFailed.
func (s *Scroll[T]) Err() error { return s.err }

// BeginScroll opens a cursor over the read pattern and returns the first
// page. The returned Scroll is non-nil even when err is set, so End can be
// deferred unconditionally. A filter with conflicting time windows yields an
// exhausted scroll without contacting the engine.
func BeginScroll[T any](ctx context.Context, c *Client, q ScrollQuery) (*Scroll[T], []T, error) {
	window := q.WindowSize
	if window <= 0 {
		window = c.settings.ScrollWindow
	}
	ttl := q.TTL
	if ttl <= 0 {
		ttl = c.settings.ScrollTTL
	}
	s := &Scroll[T]{c: c, cur: &cursor{}, index: c.namer.ReadIndex(q.Index), ttl: ttl}

	if c.isClosed() {
		return s.fail(closedError("scroll"))
	}
	if err := q.Filter.validate(); err != nil {
		return s.fail(err)
	}
	query, ok := buildQuery(q.Filter, c.settings.TimestampField)
	if !ok {
		c.log.Warn("conflicting time windows requested, returning no documents", "pattern", s.index)
		s.state = ScrollExhausted
		return s, nil, nil
	}
	body, err := scrollBody(query, window)
	if err != nil {
		return s.fail(&OpError{Op: "scroll", Index: s.index, Kind: ErrScrollFailed, Diagnostic: err.Error(), Err: err})
	}

	res, err := c.engine.Scroll(ctx, s.index, body, "", ttl)
	if err != nil {
		return s.fail(classify("scroll", s.index, ErrScrollFailed, err))
	}
	s.cur.id = res.ScrollID
	c.track(s.cur)
	if res.ScrollID == "" {
		return s.fail(&OpError{Op: "scroll", Index: s.index, Kind: ErrScrollFailed, Diagnostic: "engine returned no scroll id"})
	}
	c.log.Debug("scroll opened", "pattern", s.index, "total", res.Total, "window", window)

	page, err := s.accept(res.Hits)
	if err != nil {
		return s, page, err
	}
	if len(page) == 0 {
		s.state = ScrollExhausted
		return s, nil, nil
	}
	s.state = ScrollActive
	return s, page, nil
}

// Continue fetches the next page. It returns an empty page once the cursor
// is exhausted, the original error after a failure, and ErrScrollClosed
// after End. Once the client is closed the scroll fails with ErrClosed
// without another round-trip.
func (s *Scroll[T]) Continue(ctx context.Context) ([]T, error) {
	switch s.state {
	case ScrollClosed:
		return nil, &OpError{Op: "scroll", Index: s.index, Kind: ErrScrollClosed}
	case ScrollFailed:
		return nil, s.err
	case ScrollUnstarted, ScrollExhausted:
		return nil, nil
	}

	s.c.scrollMu.Lock()
	released := s.cur.released
	s.c.scrollMu.Unlock()
	if released || s.c.isClosed() {
		_, _, err := s.fail(closedError("scroll"))
		return nil, err
	}

	s.c.scrollMu.Lock()
	id := s.cur.id
	s.c.scrollMu.Unlock()

	res, err := s.c.engine.Scroll(ctx, s.index, nil, id, s.ttl)
	if err != nil {
		_, _, err = s.fail(classify("scroll", s.index, ErrScrollFailed, err))
		return nil, err
	}
	s.c.renew(s.cur, res.ScrollID)

	page, err := s.accept(res.Hits)
	if err != nil {
		return page, err
	}
	if len(page) == 0 {
		s.state = ScrollExhausted
	}
	return page, nil
}

// End clears the server-side cursor. Calls after the first are no-ops.
func (s *Scroll[T]) End(ctx context.Context) error {
	if s.state == ScrollClosed {
		return nil
	}
	s.state = ScrollClosed
	if err := s.c.release(ctx, s.cur); err != nil {
		return classify("scroll", s.index, ErrScrollFailed, err)
	}
	return nil
}

func (s *Scroll[T]) accept(hits []json.RawMessage) ([]T, error) {
	if len(hits) > 0 {
		metrics.RecordScrollPage(len(hits))
	}
	page, err := decodeHits[T](hits)
	if err != nil {
		_, _, ferr := s.fail(&OpError{Op: "scroll", Index: s.index, Kind: ErrScrollFailed, Diagnostic: err.Error(), Err: err})
		return page, ferr
	}
	return page, nil
}

func (s *Scroll[T]) fail(err error) (*Scroll[T], []T, error) {
	s.state = ScrollFailed
	s.err = err
	return s, nil, err
}

// List enumerates every document matching f across the read pattern using
// a scroll cursor. On failure it returns the documents collected so far
// together with the error. The cursor is always cleared.
func List[T any](ctx context.Context, c *Client, f Filter, opts ...ReadOption) ([]T, error) {
	o := readOptionsFrom(opts)
	s, docs, err := BeginScroll[T](ctx, c, ScrollQuery{Filter: f, Index: o.index})
	defer func() {
		if endErr := s.End(context.WithoutCancel(ctx)); endErr != nil {
			c.log.Warn("clearing scroll cursor", "pattern", s.index, "error", endErr)
		}
	}()
	if err != nil {
		return docs, err
	}
	for !s.Done() {
		page, err := s.Continue(ctx)
		docs = append(docs, page...)
		if err != nil {
			return docs, err
		}
	}
	return docs, nil
}
