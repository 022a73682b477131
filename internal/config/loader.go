package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"
)

const (
	dotEnvFile    = ".env"
	configFileEnv = "FD_CONFIG_FILE"
)

// Load loads configuration, validates it, and ensures required directories exist.
//
// Values come from the environment first, then a .env file in the working
// directory, then the YAML file named by FD_CONFIG_FILE, then defaults.
// YAML keys are the variable names without the FD_ prefix, in any case:
//
//	workers: 8
//	download_dir: /srv/media
func Load() (*Config, error) {
	cfg, err := load(dotEnvFile)
	if err != nil {
		return nil, err
	}

	if err := createDirs(cfg); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return cfg, nil
}

// FromEnv resolves configuration like Load without creating directories.
func FromEnv() (*Config, error) {
	return load(dotEnvFile)
}

func load(envFile string) (*Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if path := os.Getenv(configFileEnv); path != "" {
		if err := applyYAML(path); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyYAML exports the keys of a YAML file as FD_* variables that are not
// already set.
func applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}

	for key, value := range values {
		name := "FD_" + strings.TrimPrefix(strings.ToUpper(key), "FD_")
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

func createDirs(cfg *Config) error {
	dirs := []string{
		cfg.DownloadDir,
		filepath.Dir(cfg.IndexDB),
		filepath.Dir(cfg.StateFile),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("directory created or verified", "path", dir)
	}
	return nil
}

// SetupLogger configures the global slog logger based on configuration and
// returns it. Supports "json", "text" or "console" formats and log levels:
// debug, info, warn, error.
func SetupLogger(cfg *Config) *slog.Logger {
	logger := NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger
}

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, levelName, format string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "console":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if err, ok := attr.Value.Any().(error); ok {
					errAttr := tint.Err(err)
					errAttr.Key = attr.Key
					return errAttr
				}
				return attr
			},
		})
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
