// Package config loads application configuration from YAML with
// environment overrides, and defines the built-in detection profiles.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port pair for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig locates on-disk state and generated reports.
type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	ReportDir string `yaml:"report_dir"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// AppConfig is the full application configuration.
type AppConfig struct {
	Profile          string                    `yaml:"profile"`
	DetectionLevel   string                    `yaml:"detection_level"`
	Parallel         bool                      `yaml:"parallel"`
	MaxWorkers       int                       `yaml:"max_workers"`
	CustomThresholds map[string]map[string]any `yaml:"custom_thresholds"`
	Server           ServerConfig              `yaml:"server"`
	Storage          StorageConfig             `yaml:"storage"`
	Log              LogConfig                 `yaml:"log"`
}

// Default returns the stock configuration.
func Default() AppConfig {
	return AppConfig{
		Profile:        "normal",
		DetectionLevel: "standard",
		Parallel:       true,
		MaxWorkers:     4,
		Server:         ServerConfig{Host: "0.0.0.0", Port: 8080},
		Storage:        StorageConfig{DataDir: "data", ReportDir: "data/reports"},
		Log:            LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and then applies VQD_* environment overrides on top of the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// fall through to env overrides
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if !ValidProfile(cfg.Profile) {
		return cfg, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	return cfg, nil
}

// DetectorConfigs resolves the effective per-detector thresholds: the
// active profile layered with any custom overrides.
func (c AppConfig) DetectorConfigs() map[string]map[string]any {
	return MergeOverrides(ProfileConfigs(c.Profile), c.CustomThresholds)
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("VQD_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := os.Getenv("VQD_DETECTION_LEVEL"); v != "" {
		cfg.DetectionLevel = v
	}
	if v := os.Getenv("VQD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("VQD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("VQD_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("VQD_REPORT_DIR"); v != "" {
		cfg.Storage.ReportDir = v
	}
	if v := os.Getenv("VQD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("VQD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("VQD_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxWorkers = n
		}
	}
}
