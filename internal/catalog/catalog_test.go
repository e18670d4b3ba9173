package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const seedYAML = `
channels:
  - id: UCaaaaaaaaaaaaaaaaaaaaaa
    name: Football Daily
    filters:
      - kind: exclude
        value: "#shorts"
      - kind: include_re
        scope: title
        value: "highlights|round \\d+"
  - id: UCbbbbbbbbbbbbbbbbbbbbbb
    active: false
`

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "valid", data: seedYAML},
		{name: "empty document", data: ""},
		{name: "missing id", data: "channels:\n  - name: x\n", wantErr: true},
		{name: "duplicate id", data: "channels:\n  - id: UC1\n  - id: UC1\n", wantErr: true},
		{name: "unknown key", data: "channels:\n  - id: UC1\n    nmae: typo\n", wantErr: true},
		{name: "bad regex", data: "channels:\n  - id: UC1\n    filters:\n      - kind: include_re\n        value: \"[\"\n", wantErr: true},
		{name: "bad kind", data: "channels:\n  - id: UC1\n    filters:\n      - kind: maybe\n        value: x\n", wantErr: true},
		{name: "bad scope", data: "channels:\n  - id: UC1\n    filters:\n      - kind: include\n        scope: tags\n        value: x\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed, err := Parse([]byte(seedYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := Sync(ctx, store, seed)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if diff := cmp.Diff(SyncResult{Channels: 2, Filters: 2}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	channels, err := store.ListChannels(ctx)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	want := []model.Channel{
		{
			ExternalID: "UCaaaaaaaaaaaaaaaaaaaaaa",
			Name:       "Football Daily",
			FeedURL:    "https://www.youtube.com/feeds/videos.xml?channel_id=UCaaaaaaaaaaaaaaaaaaaaaa",
			IsActive:   true,
		},
		{
			ExternalID: "UCbbbbbbbbbbbbbbbbbbbbbb",
			Name:       "UCbbbbbbbbbbbbbbbbbbbbbb",
			FeedURL:    "https://www.youtube.com/feeds/videos.xml?channel_id=UCbbbbbbbbbbbbbbbbbbbbbb",
			IsActive:   false,
		},
	}
	ignore := cmpopts.IgnoreFields(model.Channel{}, "ID", "CreatedAt", "LastCheckAt")
	if diff := cmp.Diff(want, channels, ignore); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}

	filters, err := store.ListFilters(ctx, channels[0].ID)
	if err != nil {
		t.Fatalf("list filters: %v", err)
	}
	wantFilters := []model.Filter{
		{ChannelID: channels[0].ID, Kind: model.FilterExclude, Scope: model.ScopeAll, Value: "#shorts"},
		{ChannelID: channels[0].ID, Kind: model.FilterIncludeRe, Scope: model.ScopeTitle, Value: `highlights|round \d+`},
	}
	if diff := cmp.Diff(wantFilters, filters, cmpopts.IgnoreFields(model.Filter{}, "ID", "CreatedAt")); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}

	// A second sync with changed filters replaces them and keeps channel ids.
	seed.Channels[0].Filters = []SeedFilter{{Kind: model.FilterInclude, Value: "final"}}
	if _, err := Sync(ctx, store, seed); err != nil {
		t.Fatalf("resync: %v", err)
	}
	again, err := store.ListChannels(ctx)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if diff := cmp.Diff(channels[0].ID, again[0].ID); diff != "" {
		t.Errorf("channel id changed (-want +got):\n%s", diff)
	}
	filters, err = store.ListFilters(ctx, channels[0].ID)
	if err != nil {
		t.Fatalf("list filters: %v", err)
	}
	if len(filters) != 1 || filters[0].Value != "final" {
		t.Errorf("filters not replaced: %+v", filters)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newTestStore(t)

	path := filepath.Join(t.TempDir(), "channels.yaml")
	if err := os.WriteFile(path, []byte("channels:\n  - id: UC1\n"), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	w := NewWatcher(path, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.debounce = 10 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitChannels(t, store, 1)

	if err := os.WriteFile(path, []byte("channels:\n  - id: UC1\n  - id: UC2\n"), 0o600); err != nil {
		t.Fatalf("rewrite seed: %v", err)
	}
	waitChannels(t, store, 2)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
}

func waitChannels(t *testing.T, store storage.CatalogStore, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		chs, err := store.ListChannels(context.Background())
		if err != nil {
			t.Fatalf("list channels: %v", err)
		}
		if len(chs) == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d channels, got %d", n, len(chs))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
