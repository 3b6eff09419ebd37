// Package config defines all configuration for the aggregator.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// operational fields overridable via environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"marketfuse/pkg/types"
)

// FetchStrategy controls how deep adapter paging goes on a full refresh.
type FetchStrategy string

const (
	FetchMinimal FetchStrategy = "minimal" // first page only
	FetchSmart   FetchStrategy = "smart"   // two pages
	FetchFull    FetchStrategy = "full"    // effectively unbounded (50 pages)
)

// MaxPages maps the strategy to an adapter paging cutoff.
func (f FetchStrategy) MaxPages() int {
	switch f {
	case FetchMinimal:
		return 1
	case FetchSmart:
		return 2
	case FetchFull:
		return 50
	default:
		return 2
	}
}

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	VenueA    VenueConfig     `mapstructure:"venue_a"`
	VenueB    VenueConfig     `mapstructure:"venue_b"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// VenueConfig holds per-venue API endpoint and pacing parameters.
// APIKey is only used by Venue-B (forwarded as a bearer token); it is
// normally supplied via the VENUE_B_API_KEY environment variable.
type VenueConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PageLimit       int           `mapstructure:"page_limit"`
}

// MatchingConfig tunes the matching engine.
type MatchingConfig struct {
	Threshold float64 `mapstructure:"threshold"` // clustering cutoff, default 0.85
}

// ArbitrageConfig tunes the arbitrage detector.
type ArbitrageConfig struct {
	MinProfitPct     float64 `mapstructure:"min_profit_pct"`     // default 2.0
	MaxCombinedPrice float64 `mapstructure:"max_combined_price"` // default 0.95
}

// CacheConfig sets per-region TTLs and size caps.
type CacheConfig struct {
	MetadataTTL     time.Duration `mapstructure:"metadata_ttl"`     // default 10m
	FullTTL         time.Duration `mapstructure:"full_ttl"`         // default 5m
	UnifiedTTL      time.Duration `mapstructure:"unified_ttl"`      // default 5m
	ConfidenceTTL   time.Duration `mapstructure:"confidence_ttl"`   // default 10m
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // default 2m
	FullCap         int           `mapstructure:"full_cap"`         // default 500
}

// FetchConfig controls aggregation-pass fetch depth.
type FetchConfig struct {
	Strategy FetchStrategy `mapstructure:"strategy"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. A missing
// config file is not an error — defaults cover every field — but a file
// that exists and fails to parse is.
//
// Recognized environment variables:
//
//	VENUE_B_API_KEY        bearer token forwarded to Venue-B requests
//	CACHE_TTL_UNIFIED_MS   unified region TTL override, milliseconds
//	CACHE_TTL_METADATA_MS  metadata region TTL override, milliseconds
//	FETCH_STRATEGY         minimal | smart | full
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("venue_a.base_url", "https://gamma-api.example.com")
	v.SetDefault("venue_a.rate_limit_per_min", 100)
	v.SetDefault("venue_a.poll_interval", "5s")
	v.SetDefault("venue_a.page_limit", 100)

	v.SetDefault("venue_b.base_url", "https://trading-api.example.com/v2")
	v.SetDefault("venue_b.rate_limit_per_min", 50)
	v.SetDefault("venue_b.poll_interval", "10s")
	v.SetDefault("venue_b.page_limit", 100)

	v.SetDefault("matching.threshold", 0.85)

	v.SetDefault("arbitrage.min_profit_pct", 2.0)
	v.SetDefault("arbitrage.max_combined_price", 0.95)

	v.SetDefault("cache.metadata_ttl", "10m")
	v.SetDefault("cache.full_ttl", "5m")
	v.SetDefault("cache.unified_ttl", "5m")
	v.SetDefault("cache.confidence_ttl", "10m")
	v.SetDefault("cache.cleanup_interval", "2m")
	v.SetDefault("cache.full_cap", 500)

	v.SetDefault("fetch.strategy", string(FetchSmart))

	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("VENUE_B_API_KEY"); key != "" {
		cfg.VenueB.APIKey = key
	}
	if ms := os.Getenv("CACHE_TTL_UNIFIED_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.Cache.UnifiedTTL = time.Duration(n) * time.Millisecond
		}
	}
	if ms := os.Getenv("CACHE_TTL_METADATA_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.Cache.MetadataTTL = time.Duration(n) * time.Millisecond
		}
	}
	if s := os.Getenv("FETCH_STRATEGY"); s != "" {
		cfg.Fetch.Strategy = FetchStrategy(strings.ToLower(s))
	}
}

// Validate checks all required fields and value ranges. Failures here are
// the only fatal errors in the process.
func (c *Config) Validate() error {
	if c.VenueA.BaseURL == "" {
		return fmt.Errorf("venue_a.base_url is required")
	}
	if c.VenueB.BaseURL == "" {
		return fmt.Errorf("venue_b.base_url is required")
	}
	if c.VenueA.RateLimitPerMin <= 0 || c.VenueB.RateLimitPerMin <= 0 {
		return fmt.Errorf("rate_limit_per_min must be > 0")
	}
	if c.Matching.Threshold <= 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching.threshold must be in (0,1]")
	}
	if c.Arbitrage.MaxCombinedPrice <= 0 || c.Arbitrage.MaxCombinedPrice >= 1 {
		return fmt.Errorf("arbitrage.max_combined_price must be in (0,1)")
	}
	if c.Arbitrage.MinProfitPct < 0 {
		return fmt.Errorf("arbitrage.min_profit_pct must be >= 0")
	}
	if c.Cache.FullCap <= 0 {
		return fmt.Errorf("cache.full_cap must be > 0")
	}
	switch c.Fetch.Strategy {
	case FetchMinimal, FetchSmart, FetchFull:
	default:
		return fmt.Errorf("fetch.strategy must be one of: minimal, smart, full")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port")
	}
	return nil
}

// FetchOptions derives the adapter fetch options implied by the configured
// strategy and the per-venue page limit.
func (c *Config) FetchOptions(v types.Venue) types.FetchOptions {
	vc := c.VenueA
	if v == types.VenueB {
		vc = c.VenueB
	}
	return types.FetchOptions{
		Status:   types.StatusOpen,
		Limit:    vc.PageLimit,
		MaxPages: c.Fetch.Strategy.MaxPages(),
	}
}
