package backend

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// GuardConfig configures a Guard. A zero MaxRequests disables the breaker,
// leaving only the observer.
type GuardConfig struct {
	Name         string
	MaxRequests  uint32        // Max requests in half-open state.
	Interval     time.Duration // Cyclic period for clearing counts.
	Timeout      time.Duration // Period of open state before half-open.
	FailureRatio float64       // Failure ratio to trip the breaker.
	MinRequests  uint32        // Minimum requests before evaluating.

	// Observe, if set, is called after every round-trip.
	Observe func(op string, elapsed time.Duration, err error)

	OnStateChange func(name string, from, to gobreaker.State)
}

// Guard wraps an Engine with a circuit breaker and a round-trip observer.
// Only transport-level failures count against the breaker; an engine that
// answers with an error status is reachable.
type Guard struct {
	next    Engine
	cb      *gobreaker.CircuitBreaker
	observe func(op string, elapsed time.Duration, err error)
}

// NewGuard wraps next.
func NewGuard(next Engine, cfg GuardConfig) *Guard {
	g := &Guard{next: next, observe: cfg.Observe}
	if cfg.MaxRequests == 0 {
		return g
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		IsSuccessful:  reachable,
		OnStateChange: cfg.OnStateChange,
	})
	return g
}

func reachable(err error) bool {
	if err == nil {
		return true
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsBreakerOpen reports whether err was produced by an open breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func guarded[T any](g *Guard, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	var (
		out T
		err error
	)
	if g.cb != nil {
		var v interface{}
		v, err = g.cb.Execute(func() (interface{}, error) { return fn() })
		if typed, ok := v.(T); ok {
			out = typed
		}
	} else {
		out, err = fn()
	}
	if g.observe != nil {
		g.observe(op, time.Since(start), err)
	}
	return out, err
}

func (g *Guard) Name() string { return g.next.Name() }

func (g *Guard) Close() error { return g.next.Close() }

func (g *Guard) Bulk(ctx context.Context, index string, items []BulkItem) (*BulkResult, error) {
	return guarded(g, "bulk", func() (*BulkResult, error) { return g.next.Bulk(ctx, index, items) })
}

func (g *Guard) Search(ctx context.Context, index string, body []byte) (*SearchResponse, error) {
	return guarded(g, "search", func() (*SearchResponse, error) { return g.next.Search(ctx, index, body) })
}

func (g *Guard) Scroll(ctx context.Context, index string, body []byte, scrollID string, keepAlive time.Duration) (*ScrollResult, error) {
	return guarded(g, "scroll", func() (*ScrollResult, error) {
		return g.next.Scroll(ctx, index, body, scrollID, keepAlive)
	})
}

func (g *Guard) ClearScroll(ctx context.Context, scrollID string) error {
	_, err := guarded(g, "clear_scroll", func() (struct{}, error) {
		return struct{}{}, g.next.ClearScroll(ctx, scrollID)
	})
	return err
}

func (g *Guard) Count(ctx context.Context, index string, body []byte) (int64, error) {
	return guarded(g, "count", func() (int64, error) { return g.next.Count(ctx, index, body) })
}

func (g *Guard) ResolveIndices(ctx context.Context, pattern string) ([]string, error) {
	return guarded(g, "resolve_indices", func() ([]string, error) { return g.next.ResolveIndices(ctx, pattern) })
}

func (g *Guard) DeleteIndex(ctx context.Context, index string) error {
	_, err := guarded(g, "delete_index", func() (struct{}, error) {
		return struct{}{}, g.next.DeleteIndex(ctx, index)
	})
	return err
}
