package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	// Directory provided - look for config.yaml inside
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation before parsing.
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DiscoverConfig finds the config file by checking standard locations.
// Priority order: $INFERLINE_CONFIG, ~/.config/inferline/config.yaml,
// /etc/inferline/config.yaml, ./config.yaml
func DiscoverConfig() (string, error) {
	if path := os.Getenv("INFERLINE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".config", "inferline", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}

	systemPath := "/etc/inferline/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}

	localPath := "./config.yaml"
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $INFERLINE_CONFIG, ~/.config/inferline, /etc/inferline, ./config.yaml)")
}

// applyDefaults merges default values into config where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.SyncTimeout == 0 {
		cfg.API.SyncTimeout = defaults.API.SyncTimeout
	}
	if cfg.API.MaxSyncTimeout == 0 {
		cfg.API.MaxSyncTimeout = defaults.API.MaxSyncTimeout
	}
	if cfg.API.MaxConcurrentSync == 0 {
		cfg.API.MaxConcurrentSync = defaults.API.MaxConcurrentSync
	}

	if cfg.Providers.TTL == 0 {
		cfg.Providers.TTL = defaults.Providers.TTL
	}

	if cfg.Queue.PendingTTL == 0 {
		cfg.Queue.PendingTTL = defaults.Queue.PendingTTL
	}
	if cfg.Queue.ResultRetention == 0 {
		cfg.Queue.ResultRetention = defaults.Queue.ResultRetention
	}
	if cfg.Queue.ReaperInterval == 0 {
		cfg.Queue.ReaperInterval = defaults.Queue.ReaperInterval
	}
	if cfg.Queue.WaitRecheck == 0 {
		cfg.Queue.WaitRecheck = defaults.Queue.WaitRecheck
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if cfg.API.SyncTimeout <= 0 {
		return fmt.Errorf("api.sync_timeout must be positive")
	}
	if cfg.API.MaxSyncTimeout < cfg.API.SyncTimeout {
		return fmt.Errorf("api.max_sync_timeout must be >= api.sync_timeout")
	}
	if cfg.API.MaxConcurrentSync <= 0 {
		return fmt.Errorf("api.max_concurrent_sync must be positive")
	}

	if cfg.Providers.TTL <= 0 {
		return fmt.Errorf("providers.ttl must be positive")
	}

	if cfg.Queue.PendingTTL <= 0 {
		return fmt.Errorf("queue.pending_ttl must be positive")
	}
	if cfg.Queue.ResultRetention <= 0 {
		return fmt.Errorf("queue.result_retention must be positive")
	}
	if cfg.Queue.ReaperInterval <= 0 {
		return fmt.Errorf("queue.reaper_interval must be positive")
	}

	return nil
}
