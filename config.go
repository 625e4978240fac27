package coastline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address string `yaml:"address"`

	// SweepInterval is how often expired sessions are cleaned up.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StoreConfig selects the checkpoint and session persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres".
	Backend string `yaml:"backend"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`

	// DSN is the connection string for the postgres backend. Environment
	// variables in the form ${VAR} are expanded.
	DSN string `yaml:"dsn"`
}

// GenerationConfig configures the itinerary generation service.
type GenerationConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// AmadeusConfig configures the flight and hotel search client.
type AmadeusConfig struct {
	BaseURL         string `yaml:"base_url"`
	ClientIDEnv     string `yaml:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env"`
}

// GeocodeConfig configures the Nominatim geocoding client.
type GeocodeConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	MaxSteps      int           `yaml:"max_steps"`
	StepRetries   int           `yaml:"step_retries"`
	RetryBaseWait time.Duration `yaml:"retry_base_wait"`
	StepLogDir    string        `yaml:"step_log_dir"`
}

// ReplannerConfig tunes the budget loop.
type ReplannerConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	CloseEnough float64 `yaml:"close_enough"`
}

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Generation GenerationConfig `yaml:"generation"`
	Amadeus    AmadeusConfig    `yaml:"amadeus"`
	Geocode    GeocodeConfig    `yaml:"geocode"`
	Engine     EngineConfig     `yaml:"engine"`
	Replanner  ReplannerConfig  `yaml:"replanner"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:       ":8080",
			SweepInterval: time.Hour,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Generation: GenerationConfig{
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 8192,
		},
		Amadeus: AmadeusConfig{
			BaseURL:         "https://test.api.amadeus.com",
			ClientIDEnv:     "AMADEUS_CLIENT_ID",
			ClientSecretEnv: "AMADEUS_CLIENT_SECRET",
		},
		Geocode: GeocodeConfig{
			BaseURL:   "https://nominatim.openstreetmap.org",
			UserAgent: "coastline-trip-planner",
		},
		Engine: EngineConfig{
			MaxSteps:      50,
			StepRetries:   3,
			RetryBaseWait: time.Second,
		},
		Replanner: ReplannerConfig{
			MaxAttempts: DefaultMaxAttempts,
			CloseEnough: DefaultCloseEnough,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.Store.DSN = os.ExpandEnv(config.Store.DSN)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations that cannot be wired.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite backend requires a path")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store: postgres backend requires a dsn")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	if c.Replanner.MaxAttempts < MinAttempts || c.Replanner.MaxAttempts > MaxAttempts {
		return fmt.Errorf("replanner: max_attempts must be between %d and %d", MinAttempts, MaxAttempts)
	}
	return nil
}
