package config

import "time"

// Config represents the complete inferline configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api,omitempty"`
	Providers ProvidersConfig `yaml:"providers,omitempty"`
	Queue     QueueConfig     `yaml:"queue,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where broker state lives. The default ":memory:" keeps
// all state process-local; a file path makes it survive restarts.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// SyncTimeout is the default wait bound for synchronous submissions.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
	// MaxSyncTimeout caps the per-request timeout a caller may ask for.
	MaxSyncTimeout time.Duration `yaml:"max_sync_timeout"`
	// MaxConcurrentSync bounds in-flight blocking submissions.
	MaxConcurrentSync int `yaml:"max_concurrent_sync"`
}

// ProvidersConfig defines provider registry settings.
type ProvidersConfig struct {
	// TTL is how long a provider stays matchable after its last poll.
	TTL time.Duration `yaml:"ttl"`
}

// QueueConfig defines request lifecycle settings.
type QueueConfig struct {
	// PendingTTL is how long an unclaimed request stays pending before the
	// reaper fails it.
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// ResultRetention is how long uncollected terminal requests are kept.
	ResultRetention time.Duration `yaml:"result_retention"`
	ReaperInterval  time.Duration `yaml:"reaper_interval"`
	// WaitRecheck is the waiter's periodic status re-check interval.
	WaitRecheck time.Duration `yaml:"wait_recheck"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "inferline",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: ":memory:",
		},
		API: APIConfig{
			Listen:            "127.0.0.1:8080",
			SyncTimeout:       120 * time.Second,
			MaxSyncTimeout:    600 * time.Second,
			MaxConcurrentSync: 256,
		},
		Providers: ProvidersConfig{
			TTL: 300 * time.Second,
		},
		Queue: QueueConfig{
			PendingTTL:      10 * time.Minute,
			ResultRetention: time.Hour,
			ReaperInterval:  time.Minute,
			WaitRecheck:     time.Second,
		},
	}
}
