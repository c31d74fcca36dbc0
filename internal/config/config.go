package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete application configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Engine      EngineConfig      `koanf:"engine"`
	Index       IndexConfig       `koanf:"index"`
	Bulk        BulkConfig        `koanf:"bulk"`
	Scroll      ScrollConfig      `koanf:"scroll"`
	Search      SearchConfig      `koanf:"search"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	Logging     LoggingConfig     `koanf:"logging"`
}

type ServerConfig struct {
	Listen string `koanf:"listen"` // Metrics endpoint of floe-maint.
}

type EngineConfig struct {
	Addresses []string      `koanf:"addresses"`
	Username  string        `koanf:"username"`
	Password  string        `koanf:"password"`
	TLS       TLSConfig     `koanf:"tls"`
	Breaker   BreakerConfig `koanf:"breaker"`
}

// TLSConfig controls certificate verification towards the engine.
type TLSConfig struct {
	SkipVerify bool   `koanf:"skip_verify"`
	CACert     string `koanf:"ca_cert"`
}

type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
	FailureRatio float64       `koanf:"failure_ratio"`
	MinRequests  uint32        `koanf:"min_requests"`
}

type IndexConfig struct {
	Default        string `koanf:"default"`
	RollingDate    bool   `koanf:"rolling_date"` // Append -YYYY.MM.DD (UTC) to write indices.
	TimestampField string `koanf:"timestamp_field"`
}

type BulkConfig struct {
	BatchSize       int  `koanf:"batch_size"` // 0 flushes on every write.
	AllowDuplicates bool `koanf:"allow_duplicates"`
}

type ScrollConfig struct {
	WindowSize int           `koanf:"window_size"`
	TTL        time.Duration `koanf:"ttl"`
}

type SearchConfig struct {
	MaxSize int `koanf:"max_size"`
}

type MaintenanceConfig struct {
	Schedule    string        `koanf:"schedule"`
	LockTTL     time.Duration `koanf:"lock_ttl"`
	Concurrency int           `koanf:"concurrency"`
	Copy        []CopyJob     `koanf:"copy"`
	Prune       []PruneJob    `koanf:"prune"`
}

// CopyJob copies documents from one logical index family into another.
type CopyJob struct {
	Source          string `koanf:"source"`
	Target          string `koanf:"target"`
	LastHours       int    `koanf:"last_hours"` // 0 copies everything.
	AllowDuplicates bool   `koanf:"allow_duplicates"`
}

// PruneJob deletes rolling-date members of a family older than KeepDays.
type PruneJob struct {
	Family   string `koanf:"family"`
	KeepDays int    `koanf:"keep_days"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

// Load reads configuration from the given YAML file path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	setDefaults(k, &cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf, cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":9464"
	}
	if cfg.Index.TimestampField == "" {
		cfg.Index.TimestampField = "@timestamp"
	}
	// An explicit 0 is meaningful (flush every write), so only fill when absent.
	if !k.Exists("bulk.batch_size") {
		cfg.Bulk.BatchSize = 100
	}
	if cfg.Scroll.WindowSize <= 0 {
		cfg.Scroll.WindowSize = 1000
	}
	if cfg.Scroll.TTL <= 0 {
		cfg.Scroll.TTL = 5 * time.Minute
	}
	if cfg.Search.MaxSize <= 0 {
		cfg.Search.MaxSize = 10000
	}
	if cfg.Engine.Breaker.Enabled {
		b := &cfg.Engine.Breaker
		if b.MaxRequests == 0 {
			b.MaxRequests = 3
		}
		if b.Interval <= 0 {
			b.Interval = 30 * time.Second
		}
		if b.Timeout <= 0 {
			b.Timeout = 30 * time.Second
		}
		if b.FailureRatio <= 0 {
			b.FailureRatio = 0.5
		}
		if b.MinRequests == 0 {
			b.MinRequests = 5
		}
	}
	if cfg.Maintenance.Schedule == "" {
		cfg.Maintenance.Schedule = "0 3 * * *"
	}
	if cfg.Maintenance.LockTTL <= 0 {
		cfg.Maintenance.LockTTL = 2 * time.Hour
	}
	if cfg.Maintenance.Concurrency <= 0 {
		cfg.Maintenance.Concurrency = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Engine.Addresses) == 0 {
		return fmt.Errorf("engine.addresses is required")
	}
	for _, addr := range cfg.Engine.Addresses {
		u, err := url.Parse(addr)
		if err != nil {
			return fmt.Errorf("invalid engine address %q: %w", addr, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid engine address %q: scheme must be http or https", addr)
		}
	}

	if cfg.Index.Default == "" {
		return fmt.Errorf("index.default is required")
	}
	if cfg.Bulk.BatchSize < 0 {
		return fmt.Errorf("bulk.batch_size must not be negative, got %d", cfg.Bulk.BatchSize)
	}

	for i, job := range cfg.Maintenance.Copy {
		if job.Source == "" || job.Target == "" {
			return fmt.Errorf("maintenance.copy[%d]: source and target are required", i)
		}
		if strings.ContainsAny(job.Source, "*,") || strings.ContainsAny(job.Target, "*,") {
			return fmt.Errorf("maintenance.copy[%d]: source and target must be family names, not patterns", i)
		}
		if job.Source == job.Target {
			return fmt.Errorf("maintenance.copy[%d]: source and target must differ", i)
		}
		if job.LastHours < 0 {
			return fmt.Errorf("maintenance.copy[%d]: last_hours must not be negative", i)
		}
	}
	for i, job := range cfg.Maintenance.Prune {
		if job.Family == "" {
			return fmt.Errorf("maintenance.prune[%d]: family is required", i)
		}
		if job.KeepDays <= 0 {
			return fmt.Errorf("maintenance.prune[%d]: keep_days must be positive", i)
		}
	}

	return nil
}
