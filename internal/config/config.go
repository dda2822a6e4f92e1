// Package config loads engine configuration from a TOML file with
// environment variable overrides. A .env file is honored for local
// development; real deployments set the variables directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Spot     SpotConfig     `toml:"spot"`
	Pricing  PricingConfig  `toml:"pricing"`
	Limits   LimitsConfig   `toml:"limits"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string `toml:"port"`
	RequestTimeout  int    `toml:"request_timeout_secs"`
	CORSAllowOrigin string `toml:"cors_allow_origin"`
}

// DatabaseConfig controls persistence. An empty URL selects the in-memory
// store; an empty RedisURL disables the cache layer.
type DatabaseConfig struct {
	URL          string `toml:"url"`
	RedisURL     string `toml:"redis_url"`
	CacheTTLSecs int    `toml:"cache_ttl_secs"`
}

// SpotConfig controls the spot price feed. An empty APIURL leaves the feed
// on its static defaults.
type SpotConfig struct {
	APIURL           string `toml:"api_url"`
	APIKey           string `toml:"api_key"`
	PollIntervalSecs int    `toml:"poll_interval_secs"`
}

// PricingConfig points at the markup rule table. An empty RulesFile uses
// the built-in defaults.
type PricingConfig struct {
	RulesFile string `toml:"rules_file"`
}

// LimitsConfig sets the dealer's trade limits in USD, as decimal strings.
// Empty or "0" disables a limit.
type LimitsConfig struct {
	MaxPerTradeUSD string `toml:"max_per_trade_usd"`
	MaxExposureUSD string `toml:"max_exposure_usd"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			RequestTimeout:  30,
			CORSAllowOrigin: "*",
		},
		Database: DatabaseConfig{
			CacheTTLSecs: 30,
		},
		Spot: SpotConfig{
			PollIntervalSecs: 60,
		},
	}
}

// Load reads the optional TOML file at path, then applies environment
// overrides on top. A missing file is not an error; defaults plus the
// environment are a complete configuration.
func Load(path string) (*Config, error) {
	// Ignore a missing .env; it only exists in development checkouts.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Server.Port == "" {
		return nil, fmt.Errorf("config: server port must not be empty")
	}
	if cfg.Spot.PollIntervalSecs < 1 {
		return nil, fmt.Errorf("config: spot poll interval must be at least 1s, got %d", cfg.Spot.PollIntervalSecs)
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the file. DATABASE_URL,
// REDIS_URL, and PORT keep their conventional names; engine-specific knobs
// use the BULLION_ prefix.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.CORSAllowOrigin, "BULLION_CORS_ALLOW_ORIGIN")
	setInt(&cfg.Server.RequestTimeout, "BULLION_REQUEST_TIMEOUT_SECS")

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.RedisURL, "REDIS_URL")
	setInt(&cfg.Database.CacheTTLSecs, "BULLION_CACHE_TTL_SECS")

	setString(&cfg.Spot.APIURL, "BULLION_SPOT_API_URL")
	setString(&cfg.Spot.APIKey, "BULLION_SPOT_API_KEY")
	setInt(&cfg.Spot.PollIntervalSecs, "BULLION_SPOT_POLL_SECS")

	setString(&cfg.Pricing.RulesFile, "BULLION_RULES_FILE")

	setString(&cfg.Limits.MaxPerTradeUSD, "BULLION_MAX_PER_TRADE_USD")
	setString(&cfg.Limits.MaxExposureUSD, "BULLION_MAX_EXPOSURE_USD")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// CacheTTL is the Redis cache TTL as a duration.
func (d DatabaseConfig) CacheTTL() time.Duration {
	return time.Duration(d.CacheTTLSecs) * time.Second
}

// PollInterval is the spot poll cadence as a duration.
func (s SpotConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

// RequestTimeoutDuration is the per-request timeout as a duration.
func (s ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}
