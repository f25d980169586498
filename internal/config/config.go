// Package config handles loading and managing mirrorctl configuration.
//
// Precedence follows the supervisor contract the mirror scripts have
// always used: environment variables win over the config file, which
// wins over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	MirrorHome         string `yaml:"mirror_home" mapstructure:"mirror_home"`
	StorageDir         string `yaml:"storage_dir" mapstructure:"storage_dir"`
	FrozenDir          string `yaml:"frozen_dir" mapstructure:"frozen_dir"`
	DiffArchivesDir    string `yaml:"diff_archives_dir" mapstructure:"diff_archives_dir"`
	PnpmCmd            string `yaml:"pnpm_cmd" mapstructure:"pnpm_cmd"`
	PnpmStoreDir       string `yaml:"pnpm_store_dir" mapstructure:"pnpm_store_dir"`
	RegistryURL        string `yaml:"registry_url" mapstructure:"registry_url"`
	ParallelJobs       int    `yaml:"parallel_jobs" mapstructure:"parallel_jobs"`
	ModifiedMinutes    int    `yaml:"modified_minutes" mapstructure:"modified_minutes"`
	PackageTimeoutSec  int    `yaml:"package_timeout" mapstructure:"package_timeout"`
	NetworkConcurrency int    `yaml:"network_concurrency" mapstructure:"network_concurrency"`
	FetchTimeoutMS     int    `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	TypeSync           bool   `yaml:"type_sync" mapstructure:"type_sync"`
	ProgressFile       string `yaml:"progress_file" mapstructure:"progress_file"`
	StatusFile         string `yaml:"status_file" mapstructure:"status_file"`
	LogFile            string `yaml:"log_file" mapstructure:"log_file"`
	BrokenFile         string `yaml:"broken_file" mapstructure:"broken_file"`

	// DiffID is a per-run identifier, never persisted to the config file.
	DiffID string `yaml:"-" mapstructure:"diff_id"`
}

// envBindings maps config keys to the environment variables the mirror
// supervisor has exported since the shell-script days. The names are a
// compatibility contract; do not rename them.
var envBindings = map[string]string{
	"mirror_home":         "VERDACCIO_HOME",
	"storage_dir":         "STORAGE_DIR",
	"frozen_dir":          "FROZEN_DIR",
	"diff_archives_dir":   "DIFF_ARCHIVES_DIR",
	"diff_id":             "DIFF_ID",
	"pnpm_cmd":            "PNPM_CMD",
	"pnpm_store_dir":      "PNPM_STORE_DIR",
	"registry_url":        "REGISTRY_URL",
	"parallel_jobs":       "PARALLEL_JOBS",
	"modified_minutes":    "MODIFIED_MINUTES",
	"package_timeout":     "PACKAGE_TIMEOUT",
	"network_concurrency": "NETWORK_CONCURRENCY",
	"fetch_timeout":       "FETCH_TIMEOUT",
	"type_sync":           "TYPE_SYNC",
	"progress_file":       "PROGRESS_FILE",
	"status_file":         "STATUS_FILE",
	"log_file":            "LOG_FILE",
	"broken_file":         "BROKEN_FILE",
}

func DefaultConfig() *Config {
	cfg := &Config{
		MirrorHome:         "/home/npm/verdaccio",
		PnpmCmd:            "pnpm",
		RegistryURL:        "http://localhost:8013/",
		ParallelJobs:       40,
		ModifiedMinutes:    2880, // two days
		PackageTimeoutSec:  300,
		NetworkConcurrency: 16,
		FetchTimeoutMS:     60000,
		ProgressFile:       "/tmp/mirrorctl_progress.json",
		StatusFile:         "/tmp/mirrorctl_status.json",
		LogFile:            "/tmp/mirrorctl.log",
		BrokenFile:         "broken.txt",
	}
	cfg.normalize()
	return cfg
}

func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".mirrorctl", "config.yaml")
}

func Load() (*Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("mirror_home", def.MirrorHome)
	v.SetDefault("pnpm_cmd", def.PnpmCmd)
	v.SetDefault("registry_url", def.RegistryURL)
	v.SetDefault("parallel_jobs", def.ParallelJobs)
	v.SetDefault("modified_minutes", def.ModifiedMinutes)
	v.SetDefault("package_timeout", def.PackageTimeoutSec)
	v.SetDefault("network_concurrency", def.NetworkConcurrency)
	v.SetDefault("fetch_timeout", def.FetchTimeoutMS)
	v.SetDefault("progress_file", def.ProgressFile)
	v.SetDefault("status_file", def.StatusFile)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("broken_file", def.BrokenFile)

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	path := ConfigPath()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) Save() error {
	path := ConfigPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// PackageTimeout returns the per-install subprocess timeout.
func (c *Config) PackageTimeout() time.Duration {
	return time.Duration(c.PackageTimeoutSec) * time.Second
}

// ModifiedWindow returns the default lookback for recent-package scans.
func (c *Config) ModifiedWindow() time.Duration {
	return time.Duration(c.ModifiedMinutes) * time.Minute
}

// normalize expands paths, derives the tree locations that default to
// subdirectories of the mirror home, and clamps concurrency knobs.
func (c *Config) normalize() {
	c.MirrorHome = ExpandPath(c.MirrorHome)

	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(c.MirrorHome, "storage")
	}
	if c.FrozenDir == "" {
		c.FrozenDir = filepath.Join(c.MirrorHome, "frozen")
	}
	if c.DiffArchivesDir == "" {
		c.DiffArchivesDir = filepath.Join(c.MirrorHome, "diff_archives")
	}

	c.StorageDir = ExpandPath(c.StorageDir)
	c.FrozenDir = ExpandPath(c.FrozenDir)
	c.DiffArchivesDir = ExpandPath(c.DiffArchivesDir)
	c.PnpmStoreDir = ExpandPath(c.PnpmStoreDir)
	c.ProgressFile = ExpandPath(c.ProgressFile)
	c.StatusFile = ExpandPath(c.StatusFile)
	c.LogFile = ExpandPath(c.LogFile)
	c.BrokenFile = ExpandPath(c.BrokenFile)

	if c.ParallelJobs < 1 {
		c.ParallelJobs = 1
	}
	if c.NetworkConcurrency < 1 {
		c.NetworkConcurrency = 1
	}
	if c.PackageTimeoutSec < 1 {
		c.PackageTimeoutSec = 1
	}
}

// ExpandPath expands ~ to home directory
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path // Return unexpanded if home unavailable
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
