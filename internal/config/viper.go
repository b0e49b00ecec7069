package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// Environment > config file > defaults precedence.
func LoadConfig(configPath string) (*EngineConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultEngineConfig
	v.SetDefault("engine.database_url", "sqlite://stronghold.db")
	v.SetDefault("engine.cache_url", "memory://")
	v.SetDefault("engine.worker_url", "")
	v.SetDefault("engine.computed_field_ttl", "5m")
	v.SetDefault("engine.graph_cache_size", 256)
	v.SetDefault("worker.host", "0.0.0.0")
	v.SetDefault("worker.port", 8090)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Bind environment variables with SH_ prefix
	v.SetEnvPrefix("SH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Security check: connection strings carry credentials, so they are
	// environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &EngineConfig{
		DatabaseURL:      v.GetString("engine.database_url"),
		CacheURL:         v.GetString("engine.cache_url"),
		WorkerURL:        v.GetString("engine.worker_url"),
		ComputedFieldTTL: v.GetDuration("engine.computed_field_ttl"),
		GraphCacheSize:   v.GetInt("engine.graph_cache_size"),
		WorkerHost:       v.GetString("worker.host"),
		WorkerPort:       v.GetInt("worker.port"),
		LogLevel:         v.GetString("log.level"),
		LogFormat:        v.GetString("log.format"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateNoSecretsInConfig enforces environment-only credentials. A config
// file read from disk may be committed or world-readable; connection URLs
// embed passwords.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if fileSet(v, "engine.database_url") {
		return fmt.Errorf("database_url not allowed in config files (use SH_ENGINE_DATABASE_URL environment variable)")
	}
	if fileSet(v, "engine.cache_url") {
		return fmt.Errorf("cache_url not allowed in config files (use SH_ENGINE_CACHE_URL environment variable)")
	}
	return nil
}

// fileSet reports whether the key came from the config file rather than a
// default or the environment.
func fileSet(v *viper.Viper, key string) bool {
	return v.InConfig(key)
}
