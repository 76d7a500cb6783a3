package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Round   RoundConfig   `yaml:"round"`
	Results ResultsConfig `yaml:"results"`
}

type NATSConfig struct {
	URL     string        `yaml:"url"`
	Port    int           `yaml:"port"`
	DataDir string        `yaml:"data_dir"`
	Stream  string        `yaml:"stream"`
	MaxAge  time.Duration `yaml:"max_age"`
}

type RoundConfig struct {
	ID             string        `yaml:"id"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	CollectTimeout time.Duration `yaml:"collect_timeout"`
	Proposals      []string      `yaml:"proposals"`
}

type ResultsConfig struct {
	Backend        string        `yaml:"backend"`
	Path           string        `yaml:"path"`
	DBPath         string        `yaml:"db_path"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	Retries        int           `yaml:"retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RecordFailures bool          `yaml:"record_failures"`
}

// StoreConfig is the subset of ResultsConfig the SQLite ledger needs.
type StoreConfig struct {
	Path string
}

func (r ResultsConfig) Store() StoreConfig {
	return StoreConfig{Path: r.DBPath}
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Port:    4222,
			DataDir: "data/nats",
			Stream:  "SWARMVOTE",
			MaxAge:  time.Hour,
		},
		Round: RoundConfig{
			ID:             "default",
			ReadyTimeout:   60 * time.Second,
			CollectTimeout: 60 * time.Second,
			Proposals:      []string{"Go Forward", "Go Left", "Go Right", "Stay Put"},
		},
		Results: ResultsConfig{
			Backend:      BackendCSV,
			Path:         "results/results.csv",
			DBPath:       "results/results.db",
			LockTimeout:  5 * time.Second,
			Retries:      3,
			RetryBackoff: 200 * time.Millisecond,
		},
	}
}

// Load reads the file named by SWARMVOTE_CONFIG, or config/swarmvote.yaml.
func Load() (*Config, error) {
	path := os.Getenv("SWARMVOTE_CONFIG")
	if path == "" {
		path = "config/swarmvote.yaml"
	}
	return LoadFile(path)
}

// LoadFile layers the YAML file at path (if it exists) and the environment
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SWARMVOTE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SWARMVOTE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SWARMVOTE_ROUND"); v != "" {
		cfg.Round.ID = v
	}
	if v := os.Getenv("SWARMVOTE_RESULTS_PATH"); v != "" {
		cfg.Results.Path = v
	}
	if v := os.Getenv("SWARMVOTE_RESULTS_BACKEND"); v != "" {
		cfg.Results.Backend = v
	}
	if v := os.Getenv("SWARMVOTE_DB_PATH"); v != "" {
		cfg.Results.DBPath = v
	}
}

// Validate rejects settings the protocol cannot run with.
func (c *Config) Validate() error {
	if !validRoundID(c.Round.ID) {
		return fmt.Errorf("round.id %q must be non-empty and use only letters, digits, '-' or '_'", c.Round.ID)
	}
	if c.Round.ReadyTimeout <= 0 {
		return fmt.Errorf("round.ready_timeout must be positive, got %s", c.Round.ReadyTimeout)
	}
	if c.Round.CollectTimeout <= 0 {
		return fmt.Errorf("round.collect_timeout must be positive, got %s", c.Round.CollectTimeout)
	}
	switch c.Results.Backend {
	case BackendCSV:
		if c.Results.Path == "" {
			return fmt.Errorf("results.path must be set for the csv backend")
		}
	case BackendSQLite:
		if c.Results.DBPath == "" {
			return fmt.Errorf("results.db_path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown results.backend %q", c.Results.Backend)
	}
	if c.Results.Retries < 0 || c.Results.Retries > 10 {
		return fmt.Errorf("results.retries must be between 0 and 10, got %d", c.Results.Retries)
	}
	if c.NATS.Stream == "" {
		return fmt.Errorf("nats.stream must not be empty")
	}
	return nil
}

// validRoundID reports whether id can be embedded as a single NATS subject token.
func validRoundID(id string) bool {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return id != ""
}
