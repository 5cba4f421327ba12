// Package config loads queryagent's runtime configuration from a TOML file
// layered with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the query agent.
// Precedence: environment variables > config file > defaults.
type Config struct {
	Warehouse      WarehouseConfig      `toml:"warehouse"`
	LLM            LLMConfig            `toml:"llm"`
	Semantic       SemanticConfig       `toml:"semantic"`
	Cache          CacheConfig          `toml:"cache"`
	CircuitBreaker CircuitBreakerConfig `toml:"circuit_breaker"`
	Retry          RetryConfig          `toml:"retry"`
	Server         ServerConfig         `toml:"server"`
	Transport      TransportConfig      `toml:"transport"`
	Log            LogConfig           `toml:"log"`
}

// WarehouseConfig holds warehouse connection and policy details.
type WarehouseConfig struct {
	Driver                  string   `toml:"driver"` // currently only "snowflake"
	DSN                     string   `toml:"dsn"`
	StatementTimeoutSeconds int      `toml:"statement_timeout_seconds"`
	ExplainTimeoutSeconds   int      `toml:"explain_timeout_seconds"`
	AllowedSchemas          []string `toml:"allowed_schemas"`
}

// LLMConfig holds the chat-completions client configuration.
type LLMConfig struct {
	Provider string `toml:"provider"` // currently only "openai"
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

// SemanticConfig points at the on-disk entity descriptor tree.
type SemanticConfig struct {
	EntitiesDir string `toml:"entities_dir"`
	CatalogPath string `toml:"catalog_path"`
}

// CacheConfig bounds the execution result cache.
type CacheConfig struct {
	MaxEntries int `toml:"max_entries"`
	TTLSeconds int `toml:"ttl_seconds"`
}

// CircuitBreakerConfig bounds the warehouse circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int `toml:"failure_threshold"`
	CooldownSeconds  int `toml:"cooldown_seconds"`
}

// RetryConfig bounds execution retries.
type RetryConfig struct {
	MaxAttempts          int `toml:"max_attempts"`
	InitialBackoffMillis int `toml:"initial_backoff_millis"`
}

// ServerConfig holds MCP server metadata.
type ServerConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// TransportConfig holds transport-related settings.
type TransportConfig struct {
	// Mode selects the transport: "stdio" (default) or "http".
	Mode string `toml:"mode"`
	// Port is the HTTP listen port (default: 8734). Only used when Mode is "http".
	Port string `toml:"port"`
	// Host is the HTTP listen address (default: "0.0.0.0"). Only used when Mode is "http".
	Host string `toml:"host"`
	// CORSOrigins is a comma-separated list of allowed CORS origins (default: "*").
	CORSOrigins string `toml:"cors_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Load creates a Config by reading from a TOML config file and environment
// variables. Precedence: environment variables > config file > defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter (from --config flag)
//  2. QUERYAGENT_CONFIG environment variable
//  3. ./queryagent.toml (current directory)
//  4. ~/.config/queryagent/queryagent.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables always
// override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Warehouse: WarehouseConfig{
			Driver:                  "snowflake",
			StatementTimeoutSeconds: 20,
			ExplainTimeoutSeconds:   10,
			AllowedSchemas:          []string{"analytics", "crm", "main"},
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Semantic: SemanticConfig{
			EntitiesDir: "semantic/entities",
			CatalogPath: "semantic/catalog.yaml",
		},
		Cache: CacheConfig{
			MaxEntries: 100,
			TTLSeconds: 300,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 3,
			CooldownSeconds:  60,
		},
		Retry: RetryConfig{
			MaxAttempts:          3,
			InitialBackoffMillis: 250,
		},
		Server: ServerConfig{
			Name:    "queryagent",
			Version: "0.1.0",
		},
		Transport: TransportConfig{
			Mode:        "stdio",
			Port:        "8734",
			Host:        "0.0.0.0",
			CORSOrigins: "*",
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty
// string if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if p := os.Getenv("QUERYAGENT_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("queryagent.toml"); err == nil {
		return "queryagent.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/queryagent/queryagent.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config values.
// An env var only takes effect if it is non-empty.
func (c *Config) applyEnv() {
	envOverride("QUERYAGENT_WAREHOUSE_DSN", &c.Warehouse.DSN)
	envOverride("QUERYAGENT_WAREHOUSE_DRIVER", &c.Warehouse.Driver)

	envOverride("QUERYAGENT_LLM_PROVIDER", &c.LLM.Provider)
	envOverride("QUERYAGENT_LLM_MODEL", &c.LLM.Model)
	envOverride("QUERYAGENT_LLM_API_KEY", &c.LLM.APIKey)
	envOverride("OPENAI_API_KEY", &c.LLM.APIKey) // common alias
	envOverride("QUERYAGENT_LLM_BASE_URL", &c.LLM.BaseURL)

	envOverride("QUERYAGENT_SEMANTIC_ENTITIES_DIR", &c.Semantic.EntitiesDir)
	envOverride("QUERYAGENT_SEMANTIC_CATALOG_PATH", &c.Semantic.CatalogPath)

	envOverride("QUERYAGENT_TRANSPORT", &c.Transport.Mode)
	envOverride("QUERYAGENT_PORT", &c.Transport.Port)
	envOverride("QUERYAGENT_HOST", &c.Transport.Host)
	envOverride("QUERYAGENT_CORS_ORIGINS", &c.Transport.CORSOrigins)

	envOverride("QUERYAGENT_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("QUERYAGENT_CACHE_MAX_ENTRIES"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("QUERYAGENT_CACHE_TTL_SECONDS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Cache.TTLSeconds = n
		}
	}
	if v := os.Getenv("QUERYAGENT_RETRY_MAX_ATTEMPTS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}
}

// Validate checks that required fields are present and within bounds.
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid transport mode: %q (must be \"stdio\" or \"http\")", c.Transport.Mode)
	}

	if c.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse dsn is required: set warehouse.dsn in config file, or QUERYAGENT_WAREHOUSE_DSN env var")
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api key is required: set llm.api_key in config file, or QUERYAGENT_LLM_API_KEY/OPENAI_API_KEY env var")
	}

	// Retry attempts are capped at 5 regardless of configuration.
	if c.Retry.MaxAttempts > 5 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}

	return nil
}

// envOverride sets *dst to the value of the named env var, if it is non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
