// Package config provides configuration management for stronghold services.
package config

import (
	"fmt"
	"time"
)

// EngineConfig holds configuration for the rules engine and its worker.
type EngineConfig struct {
	DatabaseURL      string
	CacheURL         string
	WorkerURL        string // optional remote evaluation worker
	ComputedFieldTTL time.Duration
	GraphCacheSize   int
	WorkerHost       string
	WorkerPort       int
	LogLevel         string
	LogFormat        string
}

// DefaultEngineConfig returns configuration with default values.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		DatabaseURL:      "sqlite://stronghold.db",
		CacheURL:         "memory://",
		ComputedFieldTTL: 5 * time.Minute,
		GraphCacheSize:   256,
		WorkerHost:       "0.0.0.0",
		WorkerPort:       8090,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// WorkerAddr is the listen address of the evaluation worker.
func (c *EngineConfig) WorkerAddr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}

// validateConfig checks ranges and enumerations.
func validateConfig(cfg *EngineConfig) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url must be set")
	}
	if cfg.CacheURL == "" {
		return fmt.Errorf("cache_url must be set")
	}
	if cfg.ComputedFieldTTL <= 0 {
		return fmt.Errorf("computed_field_ttl must be positive, got %v", cfg.ComputedFieldTTL)
	}
	if cfg.GraphCacheSize <= 0 {
		return fmt.Errorf("graph_cache_size must be positive, got %d", cfg.GraphCacheSize)
	}
	if cfg.WorkerPort <= 0 || cfg.WorkerPort > 65535 {
		return fmt.Errorf("worker port must be between 1 and 65535, got %d", cfg.WorkerPort)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", cfg.LogFormat)
	}
	return nil
}
