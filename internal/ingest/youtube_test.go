package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

// routeHTTP answers by URL substring; unknown URLs get a 404.
type routeHTTP struct {
	mu     sync.Mutex
	routes map[string]mockResponse
	calls  int
}

type mockResponse struct {
	status int
	body   string
	err    error
}

func (m *routeHTTP) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	for key, r := range m.routes {
		if strings.Contains(req.URL.String(), key) {
			if r.err != nil {
				return nil, r.err
			}
			return &http.Response{StatusCode: r.status, Body: io.NopCloser(bytes.NewBufferString(r.body))}, nil
		}
	}
	return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewBufferString(""))}, nil
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/channel_feed.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedChannel(t *testing.T, s *storage.SQLite, externalID, name string, active bool) *model.Channel {
	t.Helper()
	ch := &model.Channel{ExternalID: externalID, Name: name, FeedURL: ChannelFeedURL(externalID), IsActive: active}
	if err := s.CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	return ch
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, op Operation, items []Item) ([]Outcome, error) {
	t.Helper()
	out := make(chan Outcome, len(items))
	err := op.Run(context.Background(), items, out)
	close(out)
	var got []Outcome
	for o := range out {
		got = append(got, o)
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Item.ID < got[j].Item.ID })
	return got, err
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		resp       mockResponse
		wantStatus int
	}{
		{name: "http error status", resp: mockResponse{status: http.StatusTooManyRequests}, wantStatus: http.StatusTooManyRequests},
		{name: "transport error", resp: mockResponse{err: errors.New("connection refused")}},
		{name: "invalid body", resp: mockResponse{status: http.StatusOK, body: "not xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFetcher(&routeHTTP{routes: map[string]mockResponse{"example": tt.resp}})
			_, err := f.Fetch(context.Background(), "https://example.com/feed")
			if err == nil {
				t.Fatal("expected error")
			}
			var httpErr *HTTPError
			if tt.wantStatus != 0 {
				if !errors.As(err, &httpErr) {
					t.Fatalf("expected HTTPError, got %v", err)
				}
				if diff := cmp.Diff(tt.wantStatus, httpErr.StatusCode); diff != "" {
					t.Errorf("status mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestVideoID(t *testing.T) {
	tests := []struct {
		name string
		item *gofeed.Item
		want string
	}{
		{name: "atom guid", item: &gofeed.Item{GUID: "yt:video:abc123"}, want: "abc123"},
		{name: "watch link", item: &gofeed.Item{Link: "https://www.youtube.com/watch?v=xyz789"}, want: "xyz789"},
		{name: "plain guid", item: &gofeed.Item{GUID: "tiktok-42"}, want: "tiktok-42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, VideoID(tt.item)); diff != "" {
				t.Errorf("VideoID mismatch (-want +got):\n%s", diff)
			}
		})
	}

	hashed := VideoID(&gofeed.Item{Title: "t", Link: "https://example.com/x"})
	if !strings.HasPrefix(hashed, "sha256:") {
		t.Errorf("expected hash fallback, got %q", hashed)
	}
	if hashed != VideoID(&gofeed.Item{Title: "t", Link: "https://example.com/x"}) {
		t.Error("hash fallback is not stable")
	}
}

func TestYouTubePlanListsActiveChannels(t *testing.T) {
	store := newTestStore(t)
	a := seedChannel(t, store, "UCaaa", "Alpha", true)
	seedChannel(t, store, "UCbbb", "Beta", false)

	y := NewYouTube(store, NewFetcher(&routeHTTP{}), YouTubeOptions{}, discardLogger())
	items, err := y.Plan(context.Background())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []Item{{ID: "UCaaa", Name: "Alpha", Source: ChannelFeedURL("UCaaa"), StoreID: a.ID}}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("Plan mismatch (-want +got):\n%s", diff)
	}
}

func TestYouTubeRunReportsPerChannelOutcomes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	good := seedChannel(t, store, "UCgood", "Good", true)
	seedChannel(t, store, "UCbroken", "Broken", true)

	if err := store.CreateFilter(ctx, &model.Filter{
		ChannelID: good.ID, Kind: model.FilterExclude, Scope: model.ScopeTitle, Value: "#shorts",
	}); err != nil {
		t.Fatalf("create filter: %v", err)
	}

	httpc := &routeHTTP{routes: map[string]mockResponse{
		"UCgood":   {status: http.StatusOK, body: loadFixture(t)},
		"UCbroken": {status: http.StatusInternalServerError},
	}}
	y := NewYouTube(store, NewFetcher(httpc), YouTubeOptions{Concurrency: 2, RatePerSec: 100}, discardLogger())

	items, err := y.Plan(ctx)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	got, err := collect(t, y, items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(got))
	}

	broken, ok := got[0], got[1]
	if !broken.Failed() {
		t.Errorf("expected failure for broken channel, got %+v", broken)
	}
	if ok.Failed() {
		t.Fatalf("unexpected failure: %v", ok.Err)
	}
	if diff := cmp.Diff([]string{"vid00000001", "vid00000003"}, ok.ContentIDs); diff != "" {
		t.Errorf("content ids mismatch (-want +got):\n%s", diff)
	}

	ch, err := store.GetChannel(ctx, good.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if ch.LastCheckAt == nil {
		t.Error("expected LastCheckAt to be set")
	}

	// A second pass finds nothing new.
	again, err := collect(t, y, items)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if diff := cmp.Diff(0, len(again[1].ContentIDs)); diff != "" {
		t.Errorf("second run should add nothing (-want +got):\n%s", diff)
	}
}

func TestYouTubeRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	seedChannel(t, store, "UCone", "One", true)
	httpc := &routeHTTP{routes: map[string]mockResponse{"UCone": {status: http.StatusOK, body: loadFixture(t)}}}
	y := NewYouTube(store, NewFetcher(httpc), YouTubeOptions{}, discardLogger())

	items, err := y.Plan(context.Background())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan Outcome, 1)
	if err := y.Run(ctx, items, out); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
