package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"CONFIG_FILE", "DATABASE_PATH", "LOG_LEVEL", "LOG_FORMAT", "HTTP_ADDR", "ADMIN_TOKEN",
	"TELEGRAM_BOT_TOKEN", "ALLOWED_USERS", "CHANNELS_FILE", "HEARTBEAT_INTERVAL",
	"LOG_BUFFER_SIZE", "FETCH_CONCURRENCY", "FETCH_RATE_PER_SEC", "HISTORY_RETENTION_DAYS",
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name: "defaults applied",
			env:  map[string]string{},
			want: Default,
		},
		{
			name: "all values set",
			env: map[string]string{
				"DATABASE_PATH":          "/tmp/scraper.db",
				"LOG_LEVEL":              "debug",
				"LOG_FORMAT":             "json",
				"HTTP_ADDR":              "127.0.0.1:9000",
				"ADMIN_TOKEN":            "secret",
				"TELEGRAM_BOT_TOKEN":     "tok",
				"ALLOWED_USERS":          "111,222,333",
				"CHANNELS_FILE":          "/etc/scraper/channels.yaml",
				"HEARTBEAT_INTERVAL":     "5s",
				"LOG_BUFFER_SIZE":        "100",
				"FETCH_CONCURRENCY":      "2",
				"FETCH_RATE_PER_SEC":     "0.5",
				"HISTORY_RETENTION_DAYS": "0",
			},
			want: func() *Config {
				return &Config{
					DatabasePath:         "/tmp/scraper.db",
					LogLevel:             "debug",
					LogFormat:            "json",
					HTTPAddr:             "127.0.0.1:9000",
					AdminToken:           "secret",
					TelegramBotToken:     "tok",
					AllowedUsers:         []int64{111, 222, 333},
					ChannelsFile:         "/etc/scraper/channels.yaml",
					HeartbeatInterval:    5 * time.Second,
					LogBufferSize:        100,
					FetchConcurrency:     2,
					FetchRatePerSec:      0.5,
					HistoryRetentionDays: 0,
				}
			},
		},
		{
			name: "allowed users with spaces",
			env:  map[string]string{"ALLOWED_USERS": " 10 , 20 , "},
			want: func() *Config {
				c := Default()
				c.AllowedUsers = []int64{10, 20}
				return c
			},
		},
		{
			name:    "invalid user id",
			env:     map[string]string{"ALLOWED_USERS": "123,abc"},
			wantErr: true,
		},
		{
			name:    "unknown log format",
			env:     map[string]string{"LOG_FORMAT": "xml"},
			wantErr: true,
		},
		{
			name:    "bad heartbeat",
			env:     map[string]string{"HEARTBEAT_INTERVAL": "soon"},
			wantErr: true,
		},
		{
			name:    "negative retention",
			env:     map[string]string{"HISTORY_RETENTION_DAYS": "-1"},
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"FETCH_CONCURRENCY": "0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
database_path: /var/lib/scraper/db.sqlite
log_format: console
heartbeat_interval: 30s
allowed_users: [7, 8]
fetch_rate_per_sec: 2.5
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_FORMAT", "json")

	got, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := Default()
	want.DatabasePath = "/var/lib/scraper/db.sqlite"
	want.LogFormat = "json"
	want.HeartbeatInterval = 30 * time.Second
	want.AllowedUsers = []int64{7, 8}
	want.FetchRatePerSec = 2.5
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("databse_path: typo.db\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{
			name:         "empty list allows everyone",
			allowedUsers: nil,
			userID:       42,
			want:         true,
		},
		{
			name:         "user in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
