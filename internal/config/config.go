// Package config provides configuration loading for itud.
package config

import (
	"fmt"
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Store         StoreConfig         `koanf:"store"`
	Capacity      CapacityConfig      `koanf:"capacity"`
	Policy        PolicyConfig        `koanf:"policy"`
	Generator     GeneratorConfig     `koanf:"generator"`
	Observability ObservabilityConfig `koanf:"observability"`
	RateLimit     RateLimitConfig     `koanf:"ratelimit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// CapacityConfig is the default capacity vector for new pools.
type CapacityConfig struct {
	Geo   float64 `koanf:"geo"`
	Int   float64 `koanf:"int"`
	Gauge float64 `koanf:"gauge"`
	Ptr   float64 `koanf:"ptr"`
	Obs   float64 `koanf:"obs"`
}

// PolicyConfig points at the governance rules file. Empty path means the
// built-in defaults; Watch enables hot reload.
type PolicyConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// GeneratorConfig configures the optional LLM proposal generator.
type GeneratorConfig struct {
	Provider string  `koanf:"provider"` // "static" or "openai"
	Model    string  `koanf:"model"`
	BaseURL  string  `koanf:"base_url"`
	APIKey   Secret  `koanf:"api_key"`
	RPS      float64 `koanf:"rps"`
	Burst    int     `koanf:"burst"`
}

// ObservabilityConfig configures OTLP export.
type ObservabilityConfig struct {
	Enabled      bool    `koanf:"enabled"`
	ServiceName  string  `koanf:"service_name"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SampleRatio  float64 `koanf:"sample_ratio"`
}

// RateLimitConfig bounds per-session submission rate.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8840
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "itud.db"
	}

	if cfg.Capacity == (CapacityConfig{}) {
		cfg.Capacity = CapacityConfig{Geo: 100, Int: 100, Gauge: 100, Ptr: 100, Obs: 100}
	}

	if cfg.Generator.Provider == "" {
		cfg.Generator.Provider = "static"
	}
	if cfg.Generator.RPS == 0 {
		cfg.Generator.RPS = 1
	}
	if cfg.Generator.Burst == 0 {
		cfg.Generator.Burst = 1
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "itud"
	}
	if cfg.Observability.SampleRatio == 0 {
		cfg.Observability.SampleRatio = 1.0
	}

	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	for name, v := range map[string]float64{
		"geo": c.Capacity.Geo, "int": c.Capacity.Int, "gauge": c.Capacity.Gauge,
		"ptr": c.Capacity.Ptr, "obs": c.Capacity.Obs,
	} {
		if v <= 0 {
			return fmt.Errorf("capacity component %s must be positive, got %v", name, v)
		}
	}

	switch c.Generator.Provider {
	case "static", "openai":
	default:
		return fmt.Errorf("unknown generator provider %q", c.Generator.Provider)
	}
	if c.Generator.Provider == "openai" && !c.Generator.APIKey.IsSet() {
		return fmt.Errorf("generator provider openai requires an api key")
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return fmt.Errorf("sample ratio must be in [0, 1], got %v", c.Observability.SampleRatio)
	}

	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}
