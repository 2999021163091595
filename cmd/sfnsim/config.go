package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/rendis/sfnsim/pkg/schema"
)

// Config holds all sfnsim configuration.
// Priority: env vars > settings.yaml > defaults.
type Config struct {
	LogLevel           string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat          string  `mapstructure:"log_format" yaml:"log_format"`
	DBPath             string  `mapstructure:"db_path" yaml:"db_path"`
	MaxWaitSeconds     float64 `mapstructure:"max_wait_seconds" yaml:"max_wait_seconds"`
	MaxConcurrency     int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RespectWaitCeiling bool    `mapstructure:"respect_wait_ceiling" yaml:"respect_wait_ceiling"`
	AWSRegion          string  `mapstructure:"aws_region" yaml:"aws_region"`
	MetricsAddr        string  `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:       "info",
		LogFormat:      "text",
		DBPath:         filepath.Join(sfnsimDir(), "sfnsim.db"),
		MaxWaitSeconds: schema.DefaultMaxWaitSeconds,
		MaxConcurrency: schema.DefaultMaxConcurrency,
		AWSRegion:      "us-east-1",
	}
}

// RuntimeOptions returns the execution limits of the configuration.
func (c Config) RuntimeOptions() schema.RuntimeOptions {
	return schema.RuntimeOptions{
		RespectWaitCeiling: c.RespectWaitCeiling,
		MaxWaitSeconds:     c.MaxWaitSeconds,
		MaxConcurrency:     c.MaxConcurrency,
	}.WithDefaults()
}

func sfnsimDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sfnsim"
	}
	return filepath.Join(home, ".sfnsim")
}

func settingsPath() string {
	return filepath.Join(sfnsimDir(), "settings.yaml")
}

// loadConfig layers the settings file and the environment over the defaults.
// A missing file is only an error when path was given explicitly.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = settingsPath()
	}

	// Layer 2: settings file.
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeSettings(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read settings: %w", err)
	}

	// Layer 3: env vars override.
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decodeSettings reads YAML (or JSON, which YAML accepts) into a generic map
// and decodes that onto cfg, so absent keys keep their defaults.
func decodeSettings(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if raw == nil {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SFNSIM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SFNSIM_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SFNSIM_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SFNSIM_MAX_WAIT_SECONDS"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SFNSIM_MAX_WAIT_SECONDS: %w", err)
		}
		cfg.MaxWaitSeconds = n
	}
	if v := os.Getenv("SFNSIM_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SFNSIM_MAX_CONCURRENCY: %w", err)
		}
		cfg.MaxConcurrency = n
	}
	if v := os.Getenv("SFNSIM_RESPECT_WAIT_CEILING"); v != "" {
		cfg.RespectWaitCeiling = v == "true" || v == "1"
	}
	if v := os.Getenv("SFNSIM_AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}
	if v := os.Getenv("SFNSIM_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return nil
}

// writeConfig stores cfg as YAML at path, creating its directory.
func writeConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
