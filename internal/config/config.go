// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultDatabasePath    = "./data/bot.db"
	DefaultLogLevel        = "info"
	DefaultPollSchedule    = "*/1 * * * *"
	DefaultPollMaxRuns     = 5
	DefaultImportPattern   = `.*\.opml$`
	DefaultPublishInterval = 50 * time.Millisecond
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	ManagerID        int64
	DatabasePath     string
	LogLevel         string
	PollSchedule     string
	PollMaxRuns      int
	ImportPattern    string
	PublishInterval  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	rawManager := os.Getenv("MANAGER")
	if rawManager == "" {
		return nil, fmt.Errorf("MANAGER is required")
	}
	managerID, err := strconv.ParseInt(rawManager, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MANAGER %q: %w", rawManager, err)
	}

	cfg := &Config{
		TelegramBotToken: token,
		ManagerID:        managerID,
		DatabasePath:     envOr("DATABASE_PATH", DefaultDatabasePath),
		LogLevel:         envOr("LOG_LEVEL", DefaultLogLevel),
		PollSchedule:     envOr("POLL_SCHEDULE", DefaultPollSchedule),
		PollMaxRuns:      DefaultPollMaxRuns,
		ImportPattern:    envOr("IMPORT_FILENAME_PATTERN", DefaultImportPattern),
		PublishInterval:  DefaultPublishInterval,
	}

	if !gronx.IsValid(cfg.PollSchedule) {
		return nil, fmt.Errorf("invalid POLL_SCHEDULE %q", cfg.PollSchedule)
	}

	if raw := os.Getenv("POLL_MAX_RUNS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("POLL_MAX_RUNS must be a positive integer, got %q", raw)
		}
		cfg.PollMaxRuns = n
	}

	if _, err := regexp.Compile(cfg.ImportPattern); err != nil {
		return nil, fmt.Errorf("invalid IMPORT_FILENAME_PATTERN: %w", err)
	}

	if raw := os.Getenv("PUBLISH_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid PUBLISH_INTERVAL %q", raw)
		}
		cfg.PublishInterval = d
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
