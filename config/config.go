// Package config loads the YAML configuration of a gojotx process.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sushant-115/gojotx/pkg/logger"
	"github.com/sushant-115/gojotx/pkg/telemetry"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	pageSize = 8192
	minPages = 10

	DefaultMemory = "64MB"
)

type EngineConfig struct {
	// Path is the database path without suffix; files are Path.db,
	// Path.log, Path.xid and Path.bt.
	Path string `yaml:"path"`
	// Memory is the page cache budget, e.g. "64MB" or "1GiB".
	Memory string `yaml:"memory"`
	// Create makes a new database instead of opening one.
	Create bool `yaml:"create"`
}

type BackupConfig struct {
	// RateLimit caps copy throughput per file, e.g. "50MB" per second.
	// Empty means unlimited.
	RateLimit string `yaml:"rate_limit"`
}

type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Backup    BackupConfig     `yaml:"backup"`
}

func Default() Config {
	return Config{
		Engine: EngineConfig{Memory: DefaultMemory},
		Logger: logger.Config{Level: "info", Format: "json", OutputFile: "stderr"},
		Telemetry: telemetry.Config{
			ServiceName:      "gojotx",
			PrometheusPort:   9464,
			TraceSampleRatio: 1,
		},
	}
}

// Read parses the YAML file at path over Default without validating it, so
// callers can apply overrides first.
func Read(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Load is Read followed by Validate.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// MemoryBytes parses Engine.Memory.
func (c Config) MemoryBytes() (int64, error) {
	return ParseMemory(c.Engine.Memory)
}

// ParseMemory parses a human size and checks it holds at least ten pages.
func ParseMemory(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("memory %q: %w", s, err)
	}
	if n < pageSize*minPages {
		return 0, fmt.Errorf("memory %s holds fewer than %d pages", humanize.IBytes(n), minPages)
	}
	return int64(n), nil
}

// BackupRate returns the backup limit in bytes per second, 0 for unlimited.
func (c Config) BackupRate() (int64, error) {
	if c.Backup.RateLimit == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Backup.RateLimit)
	if err != nil {
		return 0, fmt.Errorf("backup rate_limit %q: %w", c.Backup.RateLimit, err)
	}
	return int64(n), nil
}

func (c Config) Validate() error {
	var err error
	if c.Engine.Path == "" {
		err = multierr.Append(err, errors.New("engine path is required"))
	}
	if _, merr := c.MemoryBytes(); merr != nil {
		err = multierr.Append(err, merr)
	}
	if _, berr := c.BackupRate(); berr != nil {
		err = multierr.Append(err, berr)
	}
	err = multierr.Append(err, c.Logger.Validate())
	err = multierr.Append(err, c.Telemetry.Validate())
	return err
}
