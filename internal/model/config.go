package model

import "time"

// Config holds all tunable settings for extraction and resolution
type Config struct {
	HTTP         HTTPConfig         `json:"http" yaml:"http" mapstructure:"http"`
	Source       SourceConfig       `json:"source" yaml:"source" mapstructure:"source"`
	RateLimiting RateLimitingConfig `json:"rate_limiting" yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Concurrency  ConcurrencyConfig  `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
	Cache        CacheConfig        `json:"cache" yaml:"cache" mapstructure:"cache"`
	Store        StoreConfig        `json:"store" yaml:"store" mapstructure:"store"`
	Hierarchy    HierarchyConfig    `json:"hierarchy" yaml:"hierarchy" mapstructure:"hierarchy"`
	Resolver     ResolverConfig     `json:"resolver" yaml:"resolver" mapstructure:"resolver"`
	Log          LogConfig          `json:"log" yaml:"log" mapstructure:"log"`
}

// HTTPConfig controls outbound fetches of schedule pages
type HTTPConfig struct {
	Timeout       time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `json:"max_body_bytes" yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff  time.Duration `json:"retry_backoff" yaml:"retry_backoff" mapstructure:"retry_backoff"`
	HTTPProxy     string        `json:"http_proxy,omitempty" yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `json:"https_proxy,omitempty" yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	RespectRobots bool          `json:"respect_robots" yaml:"respect_robots" mapstructure:"respect_robots"`
}

// SourceConfig describes where the schedule is published and how its pages link together
type SourceConfig struct {
	SectionsURL        string `json:"sections_url" yaml:"sections_url" mapstructure:"sections_url"`
	SectionLinkPattern string `json:"section_link_pattern" yaml:"section_link_pattern" mapstructure:"section_link_pattern"`
	ChapterLinkPattern string `json:"chapter_link_pattern" yaml:"chapter_link_pattern" mapstructure:"chapter_link_pattern"`
	RegisterWorkbook   string `json:"register_workbook,omitempty" yaml:"register_workbook,omitempty" mapstructure:"register_workbook"`
}

// RateLimitingConfig is the per-host politeness budget
type RateLimitingConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size" mapstructure:"burst_size"`
	Delay             time.Duration `json:"delay" yaml:"delay" mapstructure:"delay"`
	Jitter            time.Duration `json:"jitter" yaml:"jitter" mapstructure:"jitter"`
}

// ConcurrencyConfig bounds the chapter worker pool
type ConcurrencyConfig struct {
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// CacheConfig controls the parsed-chapter cache used for change detection
type CacheConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `json:"dir" yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// StoreConfig points at the durable snapshot database
type StoreConfig struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// HierarchyConfig controls tree validation
type HierarchyConfig struct {
	OrphanPolicy string `json:"orphan_policy" yaml:"orphan_policy" mapstructure:"orphan_policy"` // "reattach" or "exclude"
}

// ResolverConfig controls duty resolution
type ResolverConfig struct {
	TaxRate             string        `json:"tax_rate" yaml:"tax_rate" mapstructure:"tax_rate"` // decimal fraction, e.g. "0.10"
	ExpiryWarningWindow time.Duration `json:"expiry_warning_window" yaml:"expiry_warning_window" mapstructure:"expiry_warning_window"`
	QueryTimeout        time.Duration `json:"query_timeout" yaml:"query_timeout" mapstructure:"query_timeout"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"` // "text" or "json"
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "tariffscope/0.1 (+https://github.com/ppiankov/tariffscope)",
			MaxBodyBytes:  8 * 1024 * 1024,
			MaxRetries:    3,
			RetryBackoff:  time.Second,
			RespectRobots: true,
		},
		Source: SourceConfig{
			SectionLinkPattern: `(?i)section`,
			ChapterLinkPattern: `(?i)chapter`,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2.0,
			BurstSize:         2,
			Delay:             500 * time.Millisecond,
			Jitter:            250 * time.Millisecond,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     "~/.tariffscope/cache",
			TTL:     7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Path: "~/.tariffscope/tariffscope.db",
		},
		Hierarchy: HierarchyConfig{
			OrphanPolicy: "reattach",
		},
		Resolver: ResolverConfig{
			TaxRate:             "0.10",
			ExpiryWarningWindow: 90 * 24 * time.Hour,
			QueryTimeout:        5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
