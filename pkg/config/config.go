// Package config loads and validates engine configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// storage layer, the matcher, the compaction tool, and the replication
// client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Search      SearchConfig      `yaml:"search"`
	Replication ReplicationConfig `yaml:"replication"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// StorageConfig holds the on-disk table parameters.
type StorageConfig struct {
	// BlockSize for new tables: 2048-65536 bytes, a power of two.
	BlockSize uint32 `yaml:"blockSize"`
	// MaxChunkSize bounds the encoded size of one posting-list chunk.
	MaxChunkSize int `yaml:"maxChunkSize"`
	// CompressTables overrides per-table value compression, keyed by
	// table name (postlist, record, termlist, position, value, spelling,
	// synonym); tables not named keep their built-in default.
	CompressTables map[string]bool `yaml:"compressTables"`
}

// SearchConfig controls query execution defaults.
type SearchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxExpansion int `yaml:"maxExpansion"`
}

// ReplicationConfig holds the replication client's connection parameters.
type ReplicationConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	MasterDB string        `yaml:"masterDb"`
	Interval time.Duration `yaml:"interval"`
	OneShot  bool          `yaml:"oneShot"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint of the
// replication daemon.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment
// variable overrides, returning defaults for anything unset.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			BlockSize:    8192,
			MaxChunkSize: 2000,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxExpansion: 1000,
		},
		Replication: ReplicationConfig{
			Port:     8013,
			Interval: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

func (c *Config) validate() error {
	bs := c.Storage.BlockSize
	if bs < 2048 || bs > 65536 || bs&(bs-1) != 0 {
		return fmt.Errorf("storage.blockSize %d: must be a power of two between 2K and 64K", bs)
	}
	if c.Storage.MaxChunkSize < 16 {
		return fmt.Errorf("storage.maxChunkSize %d: too small", c.Storage.MaxChunkSize)
	}
	return nil
}

// applyEnvOverrides reads LS_* environment variables over the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LS_BLOCK_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Storage.BlockSize = uint32(n)
		}
	}
	if v := os.Getenv("LS_REPLICATION_HOST"); v != "" {
		cfg.Replication.Host = v
	}
	if v := os.Getenv("LS_REPLICATION_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Replication.Port = n
		}
	}
	if v := os.Getenv("LS_REPLICATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Replication.Interval = d
		}
	}
	if v := os.Getenv("LS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
