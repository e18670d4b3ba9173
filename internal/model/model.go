// Package model defines the domain types used across the application.
package model

import "time"

// Channel represents a tracked YouTube channel whose uploads are ingested.
type Channel struct {
	ID          int64
	ExternalID  string
	Name        string
	FeedURL     string
	IsActive    bool
	LastCheckAt *time.Time
	CreatedAt   time.Time
}

// FilterKind defines the type of filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of a video entry a filter matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter represents a single filtering rule attached to a channel.
type Filter struct {
	ID        int64
	ChannelID int64
	Kind      FilterKind
	Scope     FilterScope
	Value     string
	CreatedAt time.Time
}

// Video is a catalog entry produced by ingestion. A video ID is recorded once.
type Video struct {
	ID          string
	ChannelID   int64
	Title       string
	URL         string
	PublishedAt *time.Time
	CreatedAt   time.Time
}
