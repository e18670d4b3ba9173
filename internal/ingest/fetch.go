package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPError is returned when the feed endpoint answers with a non-200 status.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Fetcher downloads and parses channel feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
	parser  *gofeed.Parser
}

// NewFetcher creates a Fetcher with the given HTTP client.
func NewFetcher(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
		parser:  gofeed.NewParser(),
	}
}

// Fetch downloads and parses the feed at the given URL.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "NisamVideoIngest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: feedURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ChannelFeedURL returns the public upload feed of a YouTube channel.
func ChannelFeedURL(channelID string) string {
	return "https://www.youtube.com/feeds/videos.xml?channel_id=" + url.QueryEscape(channelID)
}

// VideoID returns the platform video ID for a feed entry. Entries without a
// recognizable ID get a stable SHA-256 of title and link.
func VideoID(item *gofeed.Item) string {
	if ext, ok := item.Extensions["yt"]; ok {
		if vals := ext["videoId"]; len(vals) > 0 && vals[0].Value != "" {
			return vals[0].Value
		}
	}
	if id, ok := strings.CutPrefix(item.GUID, "yt:video:"); ok && id != "" {
		return id
	}
	if u, err := url.Parse(item.Link); err == nil {
		if v := u.Query().Get("v"); v != "" {
			return v
		}
	}
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// EntryDescription returns the media description of an entry, falling back
// to the generic description field.
func EntryDescription(item *gofeed.Item) string {
	if ext, ok := item.Extensions["media"]; ok {
		for _, group := range ext["group"] {
			for _, d := range group.Children["description"] {
				if d.Value != "" {
					return d.Value
				}
			}
		}
	}
	return item.Description
}
