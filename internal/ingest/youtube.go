package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/magnetoid/nisam-video-sub001/internal/filter"
	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

// YouTubeOptions tunes the channel feed ingester.
type YouTubeOptions struct {
	Concurrency int
	RatePerSec  float64
}

// YouTube ingests new uploads from the active channels' public feeds.
type YouTube struct {
	store       storage.CatalogStore
	fetcher     *Fetcher
	limiter     *rate.Limiter
	concurrency int
	log         *slog.Logger
	now         func() time.Time
}

var _ Operation = (*YouTube)(nil)

// NewYouTube creates the ingester. Zero options fall back to 4 workers and 5 requests/sec.
func NewYouTube(store storage.CatalogStore, f *Fetcher, opts YouTubeOptions, log *slog.Logger) *YouTube {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &YouTube{
		store:       store,
		fetcher:     f,
		limiter:     rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
		concurrency: opts.Concurrency,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Plan lists the active channels.
func (y *YouTube) Plan(ctx context.Context) ([]Item, error) {
	channels, err := y.store.ListActiveChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active channels: %w", err)
	}
	items := make([]Item, 0, len(channels))
	for _, ch := range channels {
		src := ch.FeedURL
		if src == "" {
			src = ChannelFeedURL(ch.ExternalID)
		}
		items = append(items, Item{ID: ch.ExternalID, Name: ch.Name, Source: src, StoreID: ch.ID})
	}
	return items, nil
}

// Run fetches the channels concurrently and records unseen videos.
func (y *YouTube) Run(ctx context.Context, items []Item, out chan<- Outcome) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(y.concurrency)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := y.limiter.Wait(gctx); err != nil {
				return err
			}
			o := y.processChannel(gctx, item)
			if errors.Is(o.Err, context.Canceled) && gctx.Err() != nil {
				return gctx.Err()
			}
			select {
			case out <- o:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (y *YouTube) processChannel(ctx context.Context, item Item) Outcome {
	y.log.Debug("checking channel", "channel", item.ID, "name", item.Name)

	feed, err := y.fetcher.Fetch(ctx, item.Source)
	if err != nil {
		y.touch(ctx, item)
		return Outcome{Item: item, Err: fmt.Errorf("fetch feed: %w", err), Message: fmt.Sprintf("%s: fetch failed: %v", item.Name, err)}
	}

	filters, err := y.store.ListFilters(ctx, item.StoreID)
	if err != nil {
		return Outcome{Item: item, Err: fmt.Errorf("list filters: %w", err), Message: fmt.Sprintf("%s: could not load filters", item.Name)}
	}
	matcher, err := filter.Compile(filters)
	if err != nil {
		y.log.Warn("channel filters", "channel", item.ID, "error", err)
	}

	var added []string
	skipped := 0
	for _, entry := range feed.Items {
		desc := EntryDescription(entry)
		if !matcher.Match(filter.Entry{Title: entry.Title, Description: desc}) {
			skipped++
			continue
		}
		v := &model.Video{
			ID:          VideoID(entry),
			ChannelID:   item.StoreID,
			Title:       entry.Title,
			URL:         entry.Link,
			PublishedAt: entry.PublishedParsed,
		}
		isNew, err := y.store.AddVideo(ctx, v)
		if err != nil {
			return Outcome{
				Item:       item,
				ContentIDs: added,
				Err:        fmt.Errorf("record video %s: %w", v.ID, err),
				Message:    fmt.Sprintf("%s: failed to record video %s", item.Name, v.ID),
			}
		}
		if isNew {
			added = append(added, v.ID)
		}
	}

	y.touch(ctx, item)

	return Outcome{
		Item:       item,
		ContentIDs: added,
		Message:    fmt.Sprintf("%s: %d new video(s) from %d entries", item.Name, len(added), len(feed.Items)),
		Data: map[string]any{
			"entries":  len(feed.Items),
			"filtered": skipped,
			"added":    len(added),
		},
	}
}

func (y *YouTube) touch(ctx context.Context, item Item) {
	ch, err := y.store.GetChannel(ctx, item.StoreID)
	if err != nil {
		y.log.Error("load channel", "channel_id", item.StoreID, "error", err)
		return
	}
	now := y.now()
	ch.LastCheckAt = &now
	if err := y.store.UpdateChannel(ctx, ch); err != nil {
		y.log.Error("update last check", "channel_id", ch.ID, "error", err)
	}
}
