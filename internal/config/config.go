package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"FD_ENV" default:"development"`

	HTTPPort    int           `envconfig:"FD_HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"FD_HTTP_TIMEOUT" default:"15s"`

	Workers      int           `envconfig:"FD_WORKERS" default:"4"`
	PollInterval time.Duration `envconfig:"FD_POLL_INTERVAL" default:"1s"`

	FetchTimeout      time.Duration `envconfig:"FD_FETCH_TIMEOUT" default:"5m"`
	MaxFileSize       int64         `envconfig:"FD_MAX_FILE_SIZE" default:"104857600"`
	RequestsPerSecond float64       `envconfig:"FD_REQUESTS_PER_SECOND" default:"0"`
	RequestBurst      int           `envconfig:"FD_REQUEST_BURST" default:"1"`
	FetchAttempts     uint          `envconfig:"FD_FETCH_ATTEMPTS" default:"3"`

	MaxAttempts int           `envconfig:"FD_MAX_ATTEMPTS" default:"3"`
	BackoffBase time.Duration `envconfig:"FD_BACKOFF_BASE" default:"2s"`
	BackoffMax  time.Duration `envconfig:"FD_BACKOFF_MAX" default:"5m"`

	DownloadDir string `envconfig:"FD_DOWNLOAD_DIR" default:"./downloads"`
	IndexDB     string `envconfig:"FD_INDEX_DB" default:"./data/fingerprints.db"`
	StateFile   string `envconfig:"FD_STATE_FILE" default:"./data/queue.json"`

	ActivitySize  int           `envconfig:"FD_ACTIVITY_SIZE" default:"200"`
	Watch         bool          `envconfig:"FD_WATCH_DOWNLOADS" default:"false"`
	WatchDebounce time.Duration `envconfig:"FD_WATCH_DEBOUNCE" default:"1s"`

	RescanSchedule string `envconfig:"FD_RESCAN_SCHEDULE"`
	AuditSchedule  string `envconfig:"FD_AUDIT_SCHEDULE"`

	ShutdownTimeout time.Duration `envconfig:"FD_SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"FD_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"FD_LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive: %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.PollInterval)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive: %d", c.MaxFileSize)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative: %v", c.RequestsPerSecond)
	}
	if c.FetchAttempts == 0 {
		return fmt.Errorf("fetch attempts must be positive")
	}

	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive: %d", c.MaxAttempts)
	}
	if c.BackoffBase < 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("invalid backoff: base %s, max %s", c.BackoffBase, c.BackoffMax)
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}
	if c.IndexDB == "" {
		return fmt.Errorf("index database path cannot be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}

	if c.ActivitySize <= 0 {
		return fmt.Errorf("activity size must be positive: %d", c.ActivitySize)
	}

	for name, expr := range map[string]string{
		"rescan": c.RescanSchedule,
		"audit":  c.AuditSchedule,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, expr, err)
		}
	}

	switch c.LogFormat {
	case "json", "text", "console":
	default:
		return fmt.Errorf("unknown log format: %s", c.LogFormat)
	}

	return nil
}
