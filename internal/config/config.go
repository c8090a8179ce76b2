// Package config holds run configuration and the convention tables used by
// the matcher and the file locator. Convention data is loaded once at startup
// and passed into constructors as immutable values; nothing in this package
// is consulted through globals.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete fieldmv configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Records  RecordsConfig  `json:"records" mapstructure:"records"`
	Detect   DetectConfig   `json:"detect" mapstructure:"detect"`
	Apply    ApplyConfig    `json:"apply" mapstructure:"apply"`
	Cache    CacheConfig    `json:"cache" mapstructure:"cache"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Locator  LocatorConfig  `json:"locator" mapstructure:"locator"`
	Matching MatchingConfig `json:"matching" mapstructure:"matching"`
}

// RecordsConfig contains change-record table configuration
type RecordsConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// DetectConfig contains detector pipeline configuration
type DetectConfig struct {
	// Units restricts detection to the named units; empty means all units
	// found under the source root.
	Units []string `json:"units" mapstructure:"units"`
}

// ApplyConfig contains renaming pipeline configuration
type ApplyConfig struct {
	Backup bool `json:"backup" mapstructure:"backup"`
	// Workers bounds group-level parallelism. Groups whose file sets overlap
	// are always processed sequentially regardless of this value.
	Workers int `json:"workers" mapstructure:"workers"`
}

// CacheConfig contains the snapshot content cache configuration
type CacheConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// MaxBlobBytes caps the size of a single cached file content.
	MaxBlobBytes int `json:"maxBlobBytes" mapstructure:"maxBlobBytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// LocatorConfig contains file-locator configuration
type LocatorConfig struct {
	// ContainmentPath points at a YAML file overriding the built-in
	// parent-entity containment table.
	ContainmentPath string `json:"containmentPath" mapstructure:"containmentPath"`
}

// MatchingConfig contains matching-engine configuration
type MatchingConfig struct {
	// ConventionsPath points at a TOML file overriding the built-in
	// naming-convention rename patterns.
	ConventionsPath string `json:"conventionsPath" mapstructure:"conventionsPath"`

	AutoApproveThreshold float64 `json:"autoApproveThreshold" mapstructure:"autoApproveThreshold"`
	EmitFloor            float64 `json:"emitFloor" mapstructure:"emitFloor"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		RepoRoot: ".",
		Records: RecordsConfig{
			Path: "fieldmv_changes.csv",
		},
		Detect: DetectConfig{
			Units: []string{},
		},
		Apply: ApplyConfig{
			Backup:  true,
			Workers: 4,
		},
		Cache: CacheConfig{
			Enabled:      true,
			MaxBlobBytes: 2_000_000,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
		Locator:  LocatorConfig{},
		Matching: MatchingConfig{
			AutoApproveThreshold: 0.90,
			EmitFloor:            0.40,
		},
	}
}

// LoadConfig loads configuration from .fieldmv/config.json under repoRoot.
// A missing config file is not an error; defaults are returned.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 1)
	v.SetDefault("repoRoot", ".")
	v.SetDefault("records.path", "fieldmv_changes.csv")
	v.SetDefault("apply.backup", true)
	v.SetDefault("apply.workers", 4)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.maxBlobBytes", 2_000_000)
	v.SetDefault("logging.format", "human")
	v.SetDefault("logging.level", "info")
	v.SetDefault("matching.autoApproveThreshold", 0.90)
	v.SetDefault("matching.emitFloor", 0.40)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, ".fieldmv"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to .fieldmv/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ".fieldmv")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}
