package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		filters []model.Filter
		want    bool
	}{
		{
			name:  "no filters passes everything",
			entry: Entry{Title: "anything", Description: "whatever"},
			want:  true,
		},
		{
			name:  "include word matches case insensitively",
			entry: Entry{Title: "FULL Match Highlights", Description: "goals"},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "highlights"},
			},
			want: true,
		},
		{
			name:  "include word no match",
			entry: Entry{Title: "Press conference", Description: "coach talks"},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "highlights"},
			},
			want: false,
		},
		{
			name:  "exclude wins over include",
			entry: Entry{Title: "Highlights #shorts", Description: ""},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "highlights"},
				{Kind: model.FilterExclude, Scope: model.ScopeTitle, Value: "#shorts"},
			},
			want: false,
		},
		{
			name:  "multiple includes use OR",
			entry: Entry{Title: "Live concert", Description: ""},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "highlights"},
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "concert"},
			},
			want: true,
		},
		{
			name:  "regex include matches",
			entry: Entry{Title: "Episode 12 - pilot", Description: ""},
			filters: []model.Filter{
				{Kind: model.FilterIncludeRe, Scope: model.ScopeTitle, Value: `episode \d+`},
			},
			want: true,
		},
		{
			name:  "regex exclude blocks",
			entry: Entry{Title: "Sponsored: buy now", Description: ""},
			filters: []model.Filter{
				{Kind: model.FilterExcludeRe, Scope: model.ScopeAll, Value: "sponsor(ed)?"},
			},
			want: false,
		},
		{
			name:  "invalid include regex never matches",
			entry: Entry{Title: "anything", Description: ""},
			filters: []model.Filter{
				{Kind: model.FilterIncludeRe, Scope: model.ScopeAll, Value: "[invalid"},
			},
			want: false,
		},
		{
			name:  "invalid exclude regex blocks nothing",
			entry: Entry{Title: "anything", Description: ""},
			filters: []model.Filter{
				{Kind: model.FilterExcludeRe, Scope: model.ScopeAll, Value: "[invalid"},
			},
			want: true,
		},
		{
			name:  "scope title ignores description",
			entry: Entry{Title: "Vlog", Description: "tour highlights"},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeTitle, Value: "highlights"},
			},
			want: false,
		},
		{
			name:  "scope content ignores title",
			entry: Entry{Title: "Promo reel", Description: "behind the scenes"},
			filters: []model.Filter{
				{Kind: model.FilterExclude, Scope: model.ScopeContent, Value: "promo"},
			},
			want: true,
		},
		{
			name:  "unicode include",
			entry: Entry{Title: "Najbolji snimci nedelje", Description: ""},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "SNIMCI"},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.entry, tt.filters)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Match() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileReportsInvalidRegex(t *testing.T) {
	m, err := Compile([]model.Filter{
		{Kind: model.FilterIncludeRe, Scope: model.ScopeAll, Value: "("},
		{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "trailer"},
	})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
	if !m.Match(Entry{Title: "Official trailer"}) {
		t.Error("valid rule should still apply")
	}
}

func TestValidateRegex(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{name: "valid simple", pattern: "hello"},
		{name: "valid alternation", pattern: "trailer|teaser|clip"},
		{name: "invalid unclosed bracket", pattern: "[invalid", wantErr: true},
		{name: "invalid bad repetition", pattern: "*bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegex(tt.pattern)
			if diff := cmp.Diff(tt.wantErr, err != nil); diff != "" {
				t.Errorf("ValidateRegex() error mismatch (-want +got):\n%s\nerr: %v", diff, err)
			}
		})
	}
}
