// Package floe is a client for a document search engine that buffers writes
// into bulk requests and enumerates large result sets through scroll
// cursors.
package floe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/leonunix/floe/internal/backend"
	"github.com/leonunix/floe/internal/config"
	"github.com/leonunix/floe/internal/metrics"
	"github.com/leonunix/floe/internal/util"
)

// maxSearchSize is the engine's default index.max_result_window.
const maxSearchSize = 10000

// Settings controls a Client. Use DefaultSettings for the usual values.
type Settings struct {
	DefaultIndex string
	RollingDate  bool
	// BatchSize is the flush threshold. Zero flushes on every write.
	BatchSize       int
	AllowDuplicates bool

	ScrollWindow   int
	ScrollTTL      time.Duration
	SearchSize     int
	TimestampField string
}

// DefaultSettings returns settings for index with the standard batch size,
// scroll window and search size.
func DefaultSettings(index string) Settings {
	return Settings{
		DefaultIndex:   index,
		BatchSize:      100,
		ScrollWindow:   1000,
		ScrollTTL:      5 * time.Minute,
		SearchSize:     10000,
		TimestampField: "@timestamp",
	}
}

// SettingsFromConfig maps the file configuration onto Settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		DefaultIndex:    cfg.Index.Default,
		RollingDate:     cfg.Index.RollingDate,
		BatchSize:       cfg.Bulk.BatchSize,
		AllowDuplicates: cfg.Bulk.AllowDuplicates,
		ScrollWindow:    cfg.Scroll.WindowSize,
		ScrollTTL:       cfg.Scroll.TTL,
		SearchSize:      cfg.Search.MaxSize,
		TimestampField:  cfg.Index.TimestampField,
	}
}

func (s Settings) validate() error {
	switch {
	case s.DefaultIndex == "":
		return configError("default index is required")
	case strings.ContainsAny(s.DefaultIndex, "*?,") || strings.ToLower(s.DefaultIndex) != s.DefaultIndex:
		return configError("default index %q must be a lowercase name without wildcards", s.DefaultIndex)
	case s.BatchSize < 0:
		return configError("batch size must not be negative, got %d", s.BatchSize)
	case s.ScrollWindow <= 0:
		return configError("scroll window must be positive, got %d", s.ScrollWindow)
	case s.ScrollTTL <= 0:
		return configError("scroll ttl must be positive, got %s", s.ScrollTTL)
	case s.SearchSize <= 0 || s.SearchSize > maxSearchSize:
		return configError("search size must be within 1..%d, got %d", maxSearchSize, s.SearchSize)
	case s.TimestampField == "":
		return configError("timestamp field is required")
	}
	return nil
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock replaces the wall clock used for rolling-date index names.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.namer.Now = now }
}

// Client writes to and reads from one logical index family. It is safe for
// concurrent use; a Scroll it hands out is not.
type Client struct {
	engine   backend.Engine
	settings Settings
	namer    IndexNamer
	log      *slog.Logger

	mu     sync.Mutex // guards buffer across append, threshold check and flush
	buffer []entry

	scrollMu sync.Mutex
	cursors  map[*cursor]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Client over engine. Invalid settings yield ErrConfiguration
// without touching the engine.
func New(engine backend.Engine, settings Settings, opts ...Option) (*Client, error) {
	if engine == nil {
		return nil, configError("engine is required")
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		engine:   engine,
		settings: settings,
		namer:    IndexNamer{Default: settings.DefaultIndex, Rolling: settings.RollingDate},
		log:      slog.Default(),
		cursors:  make(map[*cursor]struct{}),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "floe", "index", settings.DefaultIndex)
	return c, nil
}

// Connect builds the engine described by cfg. It returns the raw
// Elasticsearch handle, needed for coordination locks, and the guarded
// Engine a Client should use.
func Connect(cfg *config.Config) (*backend.Elasticsearch, backend.Engine, error) {
	transport, err := util.NewTransport(cfg.Engine.TLS)
	if err != nil {
		return nil, nil, configError("engine tls: %v", err)
	}
	es, err := backend.NewElasticsearch(backend.ElasticsearchOptions{
		Addresses: cfg.Engine.Addresses,
		Username:  cfg.Engine.Username,
		Password:  cfg.Engine.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, nil, configError("engine: %v", err)
	}

	guardCfg := backend.GuardConfig{Name: "engine", Observe: metrics.ObserveEngine}
	if b := cfg.Engine.Breaker; b.Enabled {
		guardCfg.MaxRequests = b.MaxRequests
		guardCfg.Interval = b.Interval
		guardCfg.Timeout = b.Timeout
		guardCfg.FailureRatio = b.FailureRatio
		guardCfg.MinRequests = b.MinRequests
		guardCfg.OnStateChange = func(name string, from, to gobreaker.State) {
			slog.Warn("engine circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		}
	}
	return es, backend.NewGuard(es, guardCfg), nil
}

// Open validates cfg, connects to the engine and returns a Client.
func Open(cfg *config.Config, opts ...Option) (*Client, error) {
	settings := SettingsFromConfig(cfg)
	if err := settings.validate(); err != nil {
		return nil, err
	}
	_, engine, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	return New(engine, settings, opts...)
}

// Namer returns the index namer the client resolves targets with.
func (c *Client) Namer() IndexNamer { return c.namer }

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close is Shutdown with a background context.
func (c *Client) Close() error {
	return c.Shutdown(context.Background())
}

// Shutdown releases live scroll cursors and the engine connection. Buffered
// documents are not flushed; call FlushRemaining first. Only the first call
// does any work. Failures are logged, never returned.
func (c *Client) Shutdown(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.scrollMu.Lock()
		live := make([]*cursor, 0, len(c.cursors))
		for cur := range c.cursors {
			live = append(live, cur)
		}
		c.scrollMu.Unlock()
		for _, cur := range live {
			if err := c.release(ctx, cur); err != nil {
				c.log.Warn("clearing scroll cursor on shutdown", "error", err)
			}
		}

		if n := c.Buffered(); n > 0 {
			c.log.Warn("closing with unflushed documents", "documents", n)
		}
		if err := c.engine.Close(); err != nil {
			c.log.Warn("closing engine connection", "engine", c.engine.Name(), "error", err)
		}
		c.log.Info("client closed")
	})
	return nil
}

func closedError(op string) error {
	return &OpError{Op: op, Kind: ErrClosed}
}

// cursor is the client's record of a server-side scroll context.
type cursor struct {
	id       string
	released bool
}

func (c *Client) track(cur *cursor) {
	c.scrollMu.Lock()
	c.cursors[cur] = struct{}{}
	c.scrollMu.Unlock()
}

func (c *Client) renew(cur *cursor, id string) {
	c.scrollMu.Lock()
	if !cur.released && id != "" {
		cur.id = id
	}
	c.scrollMu.Unlock()
}

// release clears cur on the engine. Only the first call reaches the engine.
func (c *Client) release(ctx context.Context, cur *cursor) error {
	c.scrollMu.Lock()
	if cur.released {
		c.scrollMu.Unlock()
		return nil
	}
	cur.released = true
	delete(c.cursors, cur)
	id := cur.id
	c.scrollMu.Unlock()

	if id == "" {
		return nil
	}
	if err := c.engine.ClearScroll(ctx, id); err != nil {
		return fmt.Errorf("clearing scroll: %w", err)
	}
	return nil
}
