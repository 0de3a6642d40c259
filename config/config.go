// Package config loads the settings cmd/viewportdemo boots a
// Controller with: a JSON file provides the base, environment
// variables layered on top via caarlos0/env override it field by
// field, matching the common two-tier layering this module's pack
// uses for application config.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
)

// Config is the full set of demo-boot settings. Zero values are valid
// defaults: an absent or unreadable file, and unset env vars, leave
// Config at Defaults().
type Config struct {
	Theme string `json:"theme,omitempty" env:"VIEWPORT_THEME"`

	ItemSize      float64 `json:"item_size,omitempty" env:"VIEWPORT_ITEM_SIZE"`
	ContainerSize float64 `json:"container_size,omitempty" env:"VIEWPORT_CONTAINER_SIZE"`
	Overscan      uint64  `json:"overscan,omitempty" env:"VIEWPORT_OVERSCAN"`

	RangeSize      uint64 `json:"range_size,omitempty" env:"VIEWPORT_RANGE_SIZE"`
	MaxCachedItems int    `json:"max_cached_items,omitempty" env:"VIEWPORT_MAX_CACHED_ITEMS"`
	EvictionBuffer uint64 `json:"eviction_buffer,omitempty" env:"VIEWPORT_EVICTION_BUFFER"`

	Strategy              string  `json:"strategy,omitempty" env:"VIEWPORT_STRATEGY"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests,omitempty" env:"VIEWPORT_MAX_CONCURRENT_REQUESTS"`
	Sensitivity           float64 `json:"sensitivity,omitempty" env:"VIEWPORT_SENSITIVITY"`

	BackendURL string `json:"backend_url,omitempty" env:"VIEWPORT_BACKEND_URL"`

	LogPath       string `json:"log_path,omitempty" env:"VIEWPORT_LOG_PATH"`
	LogLevel      string `json:"log_level,omitempty" env:"VIEWPORT_LOG_LEVEL"`
	LogMaxSizeMB  int    `json:"log_max_size_mb,omitempty" env:"VIEWPORT_LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `json:"log_max_backups,omitempty" env:"VIEWPORT_LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `json:"log_max_age_days,omitempty" env:"VIEWPORT_LOG_MAX_AGE_DAYS"`
}

const filename = "viewport.json"

// Defaults returns the baseline Config used when no file and no
// environment override is present.
func Defaults() Config {
	return Config{
		Theme:                 "dark",
		ItemSize:              1,
		ContainerSize:         20,
		Overscan:              2,
		RangeSize:             20,
		MaxCachedItems:        500,
		EvictionBuffer:        100,
		Strategy:              "offset",
		MaxConcurrentRequests: 4,
		Sensitivity:           1,
		LogPath:               "viewport.log",
		LogLevel:              "info",
		LogMaxSizeMB:          10,
		LogMaxBackups:         3,
		LogMaxAgeDays:         28,
	}
}

// Load reads <profileDir>/viewport.json as the base config (falling
// back to Defaults on any read/parse error), then applies any
// VIEWPORT_* environment variables on top.
func Load(profileDir string) Config {
	cfg := Defaults()
	if data, err := os.ReadFile(filepath.Join(profileDir, filename)); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			cfg = Defaults()
		}
	}
	if err := env.Parse(&cfg); err != nil {
		// Malformed env values are left as the file/default value
		// rather than aborting startup — matches this module's
		// "never throws, only invariant violations are fatal"
		// posture for consumer-facing configuration.
		return cfg
	}
	return cfg
}

// Save writes cfg to <profileDir>/viewport.json, creating the
// directory if needed.
func Save(profileDir string, cfg Config) error {
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(profileDir, filename), data, 0o644)
}
