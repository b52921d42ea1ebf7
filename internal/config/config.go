// Package config holds all configuration types and loading logic for the
// replq server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snehjoshi/replq/internal/command"
)

// Config is the root configuration for a replq server instance.
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Replication ReplicationConfig `yaml:"replication"`
	Journal     JournalConfig     `yaml:"journal"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// NodeConfig holds identity and network settings for this server node.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// ReplicationConfig controls how master queues reach their slaves.
type ReplicationConfig struct {
	// DefaultSpec is the queue type created on first reference.
	DefaultSpec string `yaml:"default_spec"`
	// Slaves is the replica count for queues created without explicit args.
	Slaves int `yaml:"slaves"`
	// LaneBuffer is how many undelivered commands one slave lane may hold.
	LaneBuffer int `yaml:"lane_buffer"`
	// AckTimeoutMs bounds a level-1 wait for each slave.
	AckTimeoutMs int `yaml:"ack_timeout_ms"`
	// DeliveryRate is commands per second per lane; 0 disables pacing.
	DeliveryRate  float64 `yaml:"delivery_rate"`
	DeliveryBurst int     `yaml:"delivery_burst"`
}

// AckTimeout returns AckTimeoutMs as a time.Duration.
func (r ReplicationConfig) AckTimeout() time.Duration {
	return time.Duration(r.AckTimeoutMs) * time.Millisecond
}

// JournalConfig controls the replication failure journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`
	// File is relative to node.data_dir unless absolute.
	File string `yaml:"file"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HTTPConfig controls the admin API listener.
type HTTPConfig struct {
	// RateLimitRPS is requests per second per client IP; 0 disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "auto",
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Replication: ReplicationConfig{
			DefaultSpec:   string(command.Level0Master),
			Slaves:        2,
			LaneBuffer:    1024,
			AckTimeoutMs:  5_000,
			DeliveryRate:  0,
			DeliveryBurst: 0,
		},
		Journal: JournalConfig{
			Enabled: true,
			File:    "journal.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		HTTP: HTTPConfig{
			RateLimitRPS:   1_000,
			RateLimitBurst: 2_000,
		},
	}
}

// JournalPath resolves Journal.File against Node.DataDir.
func (c *Config) JournalPath() string {
	if filepath.IsAbs(c.Journal.File) {
		return c.Journal.File
	}
	return filepath.Join(c.Node.DataDir, c.Journal.File)
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error.
//
// After loading the file, environment variables are applied as overrides:
//
//	REPLQ_DATA_DIR       sets node.data_dir
//	REPLQ_PORT           sets node.port
//	REPLQ_DEFAULT_SPEC   sets replication.default_spec
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REPLQ_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("REPLQ_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Node.Port = p
		}
	}
	if v := os.Getenv("REPLQ_DEFAULT_SPEC"); v != "" {
		cfg.Replication.DefaultSpec = v
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	if spec := command.Spec(c.Replication.DefaultSpec); !spec.IsMaster() {
		return fmt.Errorf("replication.default_spec %q must be a master spec (%s or %s)",
			c.Replication.DefaultSpec, command.Level0Master, command.Level1Master)
	}
	if c.Replication.Slaves < 0 {
		return errors.New("replication.slaves must be >= 0")
	}
	if c.Replication.LaneBuffer < 1 {
		return errors.New("replication.lane_buffer must be at least 1")
	}
	if c.Replication.AckTimeoutMs < 1 {
		return errors.New("replication.ack_timeout_ms must be at least 1")
	}
	if c.Replication.DeliveryRate < 0 {
		return errors.New("replication.delivery_rate must be >= 0")
	}
	if c.Replication.DeliveryRate > 0 && c.Replication.DeliveryBurst < 1 {
		return errors.New("replication.delivery_burst must be at least 1 when delivery_rate is set")
	}
	if c.Journal.Enabled && c.Journal.File == "" {
		return errors.New("journal.file must not be empty when the journal is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return errors.New("http.rate_limit_rps must be >= 0")
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst < 1 {
		return errors.New("http.rate_limit_burst must be at least 1 when rate_limit_rps is set")
	}
	return nil
}
