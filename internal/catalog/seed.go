// Package catalog keeps the tracked channel list in sync with a YAML seed file.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/magnetoid/nisam-video-sub001/internal/filter"
	"github.com/magnetoid/nisam-video-sub001/internal/ingest"
	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

// Seed is the parsed channel seed file.
//
//	channels:
//	  - id: UCxxxxxxxxxxxxxxxxxxxxxx
//	    name: Some Channel
//	    active: false
//	    filters:
//	      - kind: exclude
//	        value: "#shorts"
type Seed struct {
	Channels []SeedChannel `yaml:"channels"`
}

// SeedChannel is one channel entry. Active defaults to true. When Filters
// is present it replaces the channel's stored filters.
type SeedChannel struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	Active  *bool        `yaml:"active"`
	Filters []SeedFilter `yaml:"filters"`
}

// SeedFilter is one filter rule. Scope defaults to all.
type SeedFilter struct {
	Kind  model.FilterKind  `yaml:"kind"`
	Scope model.FilterScope `yaml:"scope"`
	Value string            `yaml:"value"`
}

// SyncResult summarizes what Sync changed.
type SyncResult struct {
	Channels int
	Filters  int
}

// Parse decodes and validates a seed document.
func Parse(data []byte) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	var errs []error
	seen := map[string]bool{}
	for i, ch := range seed.Channels {
		id := strings.TrimSpace(ch.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("channels[%d]: missing id", i))
		case seen[id]:
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate id %s", i, id))
		}
		seen[id] = true
		seed.Channels[i].ID = id

		for j, f := range ch.Filters {
			if err := validateFilter(f); err != nil {
				errs = append(errs, fmt.Errorf("channels[%d].filters[%d]: %w", i, j, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Load reads and parses the seed file at path.
func Load(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return Parse(data)
}

func validateFilter(f SeedFilter) error {
	if strings.TrimSpace(f.Value) == "" {
		return errors.New("empty value")
	}
	switch f.Scope {
	case "", model.ScopeTitle, model.ScopeContent, model.ScopeAll:
	default:
		return fmt.Errorf("unknown scope %q", f.Scope)
	}
	switch f.Kind {
	case model.FilterInclude, model.FilterExclude:
		return nil
	case model.FilterIncludeRe, model.FilterExcludeRe:
		return filter.ValidateRegex(f.Value)
	default:
		return fmt.Errorf("unknown kind %q", f.Kind)
	}
}

// Sync upserts every seeded channel. Channels missing from the seed are left alone.
func Sync(ctx context.Context, store storage.CatalogStore, seed *Seed) (SyncResult, error) {
	var res SyncResult
	for _, sc := range seed.Channels {
		ch := model.Channel{
			ExternalID: sc.ID,
			Name:       sc.Name,
			FeedURL:    ingest.ChannelFeedURL(sc.ID),
			IsActive:   sc.Active == nil || *sc.Active,
		}
		if ch.Name == "" {
			ch.Name = sc.ID
		}
		if err := store.UpsertChannel(ctx, &ch); err != nil {
			return res, fmt.Errorf("upsert channel %s: %w", sc.ID, err)
		}
		res.Channels++

		if sc.Filters == nil {
			continue
		}
		n, err := replaceFilters(ctx, store, ch.ID, sc.Filters)
		if err != nil {
			return res, fmt.Errorf("filters of %s: %w", sc.ID, err)
		}
		res.Filters += n
	}
	return res, nil
}

func replaceFilters(ctx context.Context, store storage.CatalogStore, channelID int64, seeded []SeedFilter) (int, error) {
	existing, err := store.ListFilters(ctx, channelID)
	if err != nil {
		return 0, err
	}
	for _, f := range existing {
		if err := store.DeleteFilter(ctx, f.ID); err != nil {
			return 0, err
		}
	}
	for _, sf := range seeded {
		f := model.Filter{ChannelID: channelID, Kind: sf.Kind, Scope: sf.Scope, Value: sf.Value}
		if f.Scope == "" {
			f.Scope = model.ScopeAll
		}
		if err := store.CreateFilter(ctx, &f); err != nil {
			return 0, err
		}
	}
	return len(seeded), nil
}
