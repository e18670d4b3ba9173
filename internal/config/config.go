// Package config handles application configuration from an optional YAML
// file and environment variables. Environment variables take precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath         string        `yaml:"database_path"`
	LogLevel             string        `yaml:"log_level"`
	LogFormat            string        `yaml:"log_format"`
	HTTPAddr             string        `yaml:"http_addr"`
	AdminToken           string        `yaml:"admin_token"`
	TelegramBotToken     string        `yaml:"telegram_bot_token"`
	AllowedUsers         []int64       `yaml:"allowed_users"`
	ChannelsFile         string        `yaml:"channels_file"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	LogBufferSize        int           `yaml:"log_buffer_size"`
	FetchConcurrency     int           `yaml:"fetch_concurrency"`
	FetchRatePerSec      float64       `yaml:"fetch_rate_per_sec"`
	HistoryRetentionDays int           `yaml:"history_retention_days"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DatabasePath:         "./data/scraper.db",
		LogLevel:             "info",
		LogFormat:            "text",
		HTTPAddr:             ":8080",
		HeartbeatInterval:    15 * time.Second,
		LogBufferSize:        500,
		FetchConcurrency:     4,
		FetchRatePerSec:      5,
		HistoryRetentionDays: 30,
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.AdminToken, "ADMIN_TOKEN")
	setString(&c.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.ChannelsFile, "CHANNELS_FILE")

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		users, err := parseUsers(raw)
		if err != nil {
			return err
		}
		c.AllowedUsers = users
	}

	if raw := os.Getenv("HEARTBEAT_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid HEARTBEAT_INTERVAL %q: %w", raw, err)
		}
		c.HeartbeatInterval = d
	}
	for key, dst := range map[string]*int{
		"LOG_BUFFER_SIZE":        &c.LogBufferSize,
		"FETCH_CONCURRENCY":      &c.FetchConcurrency,
		"HISTORY_RETENTION_DAYS": &c.HistoryRetentionDays,
	} {
		if raw := os.Getenv(key); raw != "" {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, raw, err)
			}
			*dst = n
		}
	}
	if raw := os.Getenv("FETCH_RATE_PER_SEC"); raw != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("invalid FETCH_RATE_PER_SEC %q: %w", raw, err)
		}
		c.FetchRatePerSec = f
	}
	return nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.LogFormat {
	case "text", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text, json or console, got %q", c.LogFormat))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH must not be empty"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval))
	}
	if c.LogBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("LOG_BUFFER_SIZE must be positive, got %d", c.LogBufferSize))
	}
	if c.FetchConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_CONCURRENCY must be positive, got %d", c.FetchConcurrency))
	}
	if c.FetchRatePerSec <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_RATE_PER_SEC must be positive, got %v", c.FetchRatePerSec))
	}
	if c.HistoryRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("HISTORY_RETENTION_DAYS must not be negative, got %d", c.HistoryRetentionDays))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseUsers(raw string) ([]int64, error) {
	var users []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		users = append(users, uid)
	}
	return users, nil
}

// BotEnabled reports whether the Telegram admin bot should run.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
