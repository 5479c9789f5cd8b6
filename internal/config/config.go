// Package config loads the server configuration from a YAML file.
//
// ${VAR} references in the file are replaced with environment variables
// before parsing; variables may also come from a .env file in the working
// directory. A missing config file is not an error: defaults apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderEcho      = "echo"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Agent    AgentConfig    `yaml:"agent"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	StaticDir    string   `yaml:"static_dir"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	CORSOrigins  []string `yaml:"cors_origins"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres or memory
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// CacheConfig configures the optional Redis cache in front of the database.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

type AgentConfig struct {
	Provider     string `yaml:"provider"` // openai, anthropic, ollama or echo
	BaseURL      string `yaml:"base_url"` // provider default when empty
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8100",
			StaticDir:          "web",
			MaxBodyBytes:       32 << 20,
			CORSOrigins:        []string{"*"},
			ShutdownTimeoutRaw: "10s",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "pad-i.db",
		},
		Cache: CacheConfig{
			Addr:   "localhost:6379",
			TTLRaw: "10m",
		},
		Agent: AgentConfig{
			Provider:   ProviderOpenAI,
			Model:      "llama3.1:8b",
			TimeoutRaw: "2m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration at path on top of Default.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if cfg.Agent.APIKey == "" {
		switch cfg.Agent.Provider {
		case ProviderOpenAI:
			cfg.Agent.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderAnthropic:
			cfg.Agent.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error

	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		err = multierr.Append(err, errors.New("server.max_body_bytes must be positive"))
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			err = multierr.Append(err, errors.New("database.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			err = multierr.Append(err, errors.New("database.dsn is required for postgres"))
		}
	case DriverMemory:
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver %q is not one of sqlite, postgres, memory", c.Database.Driver))
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		err = multierr.Append(err, errors.New("cache.addr is required when the cache is enabled"))
	}

	switch c.Agent.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderEcho:
	default:
		err = multierr.Append(err, fmt.Errorf("agent.provider %q is not one of openai, anthropic, ollama, echo", c.Agent.Provider))
	}
	if c.Agent.Provider == ProviderAnthropic && c.Agent.APIKey == "" {
		err = multierr.Append(err, errors.New("agent.api_key (or ANTHROPIC_API_KEY) is required for anthropic"))
	}
	if c.Agent.Timeout <= 0 {
		err = multierr.Append(err, errors.New("agent.timeout must be positive"))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.format %q is not one of json, console", c.Logging.Format))
	}

	return err
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
		{"agent.timeout", cfg.Agent.TimeoutRaw, &cfg.Agent.Timeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
