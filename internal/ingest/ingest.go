// Package ingest defines the ingestion operation driven by scrape jobs and
// provides the YouTube channel feed implementation.
package ingest

import "context"

// Item is one unit of work in an ingestion run.
type Item struct {
	ID      string
	Name    string
	Source  string
	StoreID int64
}

// Outcome reports the result of processing one item. Err is set on failure.
type Outcome struct {
	Item       Item
	ContentIDs []string
	Message    string
	Err        error
	Data       map[string]any
}

// Failed reports whether the item could not be processed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Operation performs the actual scraping for a job.
//
// Run sends exactly one Outcome per processed item on out, in completion
// order, and must not close out. A non-nil error from Plan or Run aborts
// the job; per-item failures are reported through Outcome.Err instead.
type Operation interface {
	Plan(ctx context.Context) ([]Item, error)
	Run(ctx context.Context, items []Item, out chan<- Outcome) error
}
