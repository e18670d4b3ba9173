package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/scheduler"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

const (
	statusActive = "active"
	statusPaused = "paused"

	timeFormat = "2006-01-02 15:04 MST"
)

// ChannelStats is the per-channel summary shown by /channels.
type ChannelStats struct {
	Include int
	Exclude int
	Videos  int
}

// FormatStatus formats the scheduler state.
func FormatStatus(st *scheduler.Status) string {
	var b strings.Builder
	s := st.Settings
	loc := location(s.Timezone)

	auto := "off"
	if st.IsActive {
		auto = "on"
	}
	fmt.Fprintf(&b, "Automatic runs: %s (every %s h, %s)\n", auto, formatHours(s.IntervalHours), s.Timezone)
	if s.LastRun != nil {
		fmt.Fprintf(&b, "Last run: %s\n", s.LastRun.In(loc).Format(timeFormat))
	}
	if st.IsActive && s.NextRun != nil {
		fmt.Fprintf(&b, "Next run: %s\n", s.NextRun.In(loc).Format(timeFormat))
	}
	if st.ActiveJob != nil {
		j := st.ActiveJob
		fmt.Fprintf(&b, "\nRunning: %s\n", j.ID)
		fmt.Fprintf(&b, "Progress: %d/%d, %d failed, %d videos added\n", j.ProcessedItems, j.TotalItems, j.FailedItems, j.VideosAdded)
		if j.CurrentChannelName != nil {
			fmt.Fprintf(&b, "Channel: %s\n", *j.CurrentChannelName)
		}
	} else {
		b.WriteString("\nNo job running.\n")
	}
	return b.String()
}

// FormatJob formats one job with the tail of its log.
func FormatJob(j *model.ScrapeJob, logLines int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s [%s]\n", j.ID, j.Status)
	fmt.Fprintf(&b, "Started: %s\n", j.StartedAt.UTC().Format(timeFormat))
	if j.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished: %s (%s)\n", j.CompletedAt.UTC().Format(timeFormat), j.CompletedAt.Sub(j.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "Progress: %d/%d, %d failed, %d videos added\n", j.ProcessedItems, j.TotalItems, j.FailedItems, j.VideosAdded)
	if j.CurrentChannelName != nil && !j.Status.IsTerminal() {
		fmt.Fprintf(&b, "Channel: %s\n", *j.CurrentChannelName)
	}
	if j.ErrorMessage != nil {
		fmt.Fprintf(&b, "Error: %s\n", *j.ErrorMessage)
	}

	logs := j.Logs
	if len(logs) > logLines {
		logs = logs[len(logs)-logLines:]
	}
	if len(logs) > 0 {
		b.WriteString("\nLog:\n")
		for _, e := range logs {
			fmt.Fprintf(&b, "%s %s\n", e.Time.UTC().Format("15:04:05"), e.Message)
		}
	}
	return b.String()
}

// FormatJobList formats one page of job history.
func FormatJobList(page *storage.JobPage) string {
	if len(page.Items) == 0 {
		return "No jobs found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Jobs (%d total):\n", page.TotalItems)
	for _, j := range page.Items {
		fmt.Fprintf(&b, "\n%s [%s]\n   %s, %d/%d, +%d videos\n",
			j.ID, j.Status, j.StartedAt.UTC().Format(timeFormat), j.ProcessedItems, j.TotalItems, j.VideosAdded)
	}
	return b.String()
}

// FormatJobSummary formats the notification sent when a job finishes.
func FormatJobSummary(j *model.ScrapeJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scrape job %s\n", j.Status)
	fmt.Fprintf(&b, "%d/%d channels, %d failed, %d videos added", j.ProcessedItems, j.TotalItems, j.FailedItems, j.VideosAdded)
	if j.CompletedAt != nil {
		fmt.Fprintf(&b, " in %s", j.CompletedAt.Sub(j.StartedAt).Round(time.Second))
	}
	if j.ErrorMessage != nil {
		fmt.Fprintf(&b, "\nError: %s", *j.ErrorMessage)
	}
	fmt.Fprintf(&b, "\n/job %s", j.ID)
	return b.String()
}

// FormatChannelList formats the tracked channels.
func FormatChannelList(channels []model.Channel, stats map[int64]ChannelStats) string {
	if len(channels) == 0 {
		return "No channels yet. Use /addchannel <channel_id> to add one."
	}
	var b strings.Builder
	b.WriteString("Channels:\n")
	for _, c := range channels {
		status := statusActive
		if !c.IsActive {
			status = statusPaused
		}
		st := stats[c.ID]
		fmt.Fprintf(&b, "\n#%d %s [%s]\n", c.ID, c.Name, status)
		fmt.Fprintf(&b, "   %s, %d videos", c.ExternalID, st.Videos)
		if st.Include == 0 && st.Exclude == 0 {
			b.WriteString(", no filters\n")
		} else {
			fmt.Fprintf(&b, ", %d include, %d exclude filters\n", st.Include, st.Exclude)
		}
	}
	return b.String()
}

// FormatFilterList formats the filter rules of a channel grouped by kind.
func FormatFilterList(ch *model.Channel, filters []model.Filter) string {
	if len(filters) == 0 {
		return fmt.Sprintf("No filters for #%d \"%s\".\nUse /include, /exclude, /include_re, /exclude_re to add filters.", ch.ID, ch.Name)
	}

	groups := map[string][]model.Filter{}
	for _, f := range filters {
		switch f.Kind {
		case model.FilterInclude:
			groups["Include (word)"] = append(groups["Include (word)"], f)
		case model.FilterIncludeRe:
			groups["Include (regex)"] = append(groups["Include (regex)"], f)
		case model.FilterExclude:
			groups["Exclude (word)"] = append(groups["Exclude (word)"], f)
		case model.FilterExcludeRe:
			groups["Exclude (regex)"] = append(groups["Exclude (regex)"], f)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Filters for #%d \"%s\":\n", ch.ID, ch.Name)

	order := []string{"Include (word)", "Include (regex)", "Exclude (word)", "Exclude (regex)"}
	for _, groupName := range order {
		fs := groups[groupName]
		if len(fs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", groupName)
		for _, f := range fs {
			fmt.Fprintf(&b, "  F%d: %s (%s)\n", f.ID, f.Value, scopeLabel(f.Scope))
		}
	}
	return b.String()
}

func scopeLabel(s model.FilterScope) string {
	switch s {
	case model.ScopeTitle:
		return "title only"
	case model.ScopeContent:
		return "content only"
	default:
		return "title+content"
	}
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

func location(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
