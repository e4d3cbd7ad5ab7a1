// Package config loads moo's server configuration from YAML, following
// the teacher's cobra-flags-plus-yaml-file layering.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/moo/internal/obslog"
)

// Config is the full set of options named in spec.md §6, plus the
// ambient logging/metrics/cluster fields.
type Config struct {
	// Storage (spec.md §6).
	BufferPoolBytes int64  `yaml:"buffer_pool_bytes"`
	PageSizeFloor   int    `yaml:"page_size_floor"`
	BackingPath     string `yaml:"backing_path"`

	// VM (spec.md §6).
	MaxStackDepth     int           `yaml:"max_stack_depth"`
	DefaultTicks      int           `yaml:"default_ticks"`
	DefaultTimeBudget time.Duration `yaml:"default_time_budget"`

	// Scheduler.
	MaxCommitRetries int `yaml:"max_commit_retries"`

	// Ambient.
	LogLevel   obslog.Level `yaml:"log_level"`
	LogJSON    bool         `yaml:"log_json"`
	MetricsAddr string      `yaml:"metrics_addr"`

	// Domain-stack seams (see DESIGN.md / SPEC_FULL.md §2.2).
	TransportAddr string `yaml:"transport_addr"`
	Cluster       ClusterConfig `yaml:"cluster"`
}

// ClusterConfig controls the optional, inert-by-default raft replication
// seam described in SPEC_FULL.md §2.2.
type ClusterConfig struct {
	Enabled bool   `yaml:"enabled"`
	NodeID  string `yaml:"node_id"`
	DataDir string `yaml:"data_dir"`
}

// Default returns the configuration used when no file is supplied,
// matching the numeric defaults spec.md §4.1/§4.2/§6 implies (32 KiB page
// floor, etc.).
func Default() Config {
	return Config{
		BufferPoolBytes:   256 << 20,
		PageSizeFloor:     32 << 10,
		BackingPath:       "",
		MaxStackDepth:     50,
		DefaultTicks:      30_000,
		DefaultTimeBudget: 5 * time.Second,
		MaxCommitRetries:  5,
		LogLevel:          obslog.InfoLevel,
		LogJSON:           false,
		MetricsAddr:       ":9090",
		TransportAddr:     ":7777",
	}
}

// Load reads a YAML file, starting from Default() so that an omitted
// field keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
