// Package filter decides which channel uploads are ingested.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
)

// Entry is the matchable text of one video.
type Entry struct {
	Title       string
	Description string
}

type rule struct {
	include bool
	scope   model.FilterScope
	word    string
	re      *regexp.Regexp
	broken  bool
}

// Matcher applies a channel's filter rules. Build one per run with Compile.
//
// Include rules use OR logic (at least one must match when any exist).
// Exclude rules use AND logic (none may match).
type Matcher struct {
	rules       []rule
	hasIncludes bool
}

// Compile prepares filters for matching. A rule with an invalid regex never
// matches; it is reported in the returned error and the Matcher stays usable.
func Compile(filters []model.Filter) (*Matcher, error) {
	m := &Matcher{}
	var bad []string
	for _, f := range filters {
		r := rule{scope: f.Scope}
		switch f.Kind {
		case model.FilterInclude, model.FilterExclude:
			r.word = strings.ToLower(f.Value)
		case model.FilterIncludeRe, model.FilterExcludeRe:
			re, err := regexp.Compile("(?i)" + f.Value)
			if err != nil {
				bad = append(bad, f.Value)
				r.broken = true
			}
			r.re = re
		default:
			continue
		}
		r.include = f.Kind == model.FilterInclude || f.Kind == model.FilterIncludeRe
		if r.include {
			m.hasIncludes = true
		}
		m.rules = append(m.rules, r)
	}
	if len(bad) > 0 {
		return m, fmt.Errorf("invalid regex filters never match: %s", strings.Join(bad, ", "))
	}
	return m, nil
}

// Match reports whether e passes the rules. No rules means everything passes.
func (m *Matcher) Match(e Entry) bool {
	anyInclude := false
	for _, r := range m.rules {
		hit := r.matches(e)
		if !r.include && hit {
			return false
		}
		if r.include && hit {
			anyInclude = true
		}
	}
	return !m.hasIncludes || anyInclude
}

// Match is a convenience for a single check against uncompiled filters.
func Match(e Entry, filters []model.Filter) bool {
	m, _ := Compile(filters)
	return m.Match(e)
}

func (r rule) matches(e Entry) bool {
	if r.broken {
		return false
	}
	text := textForScope(e, r.scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.word)
}

func textForScope(e Entry, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(e.Title)
	case model.ScopeContent:
		return strings.ToLower(e.Description)
	default:
		return strings.ToLower(e.Title + " " + e.Description)
	}
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
