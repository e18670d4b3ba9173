package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/scheduler"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

const (
	jobListSize = 10
	jobLogLines = 8
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Scraper admin bot.

Quick start:
1. /addchannel <channel_id> to track a YouTube channel
2. /run to scrape now
3. /startauto to scrape on a schedule

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Scheduler:
/status - scheduler and running job
/startauto - enable automatic runs
/stopauto - disable automatic runs
/interval <hours> - set the run interval
/run - start a job now
/cancel <job_id> - stop the running job
/jobs [status] - recent jobs
/job <job_id> - job details and log

Channels:
/channels - tracked channels
/addchannel <channel_id> [name] - track a channel
/rmchannel <id> - stop tracking a channel
/pause <id> - skip a channel
/resume <id> - include a channel again

Filters:
/filters <id> - show filters for a channel
/include <id> [-s scope] <word> - whitelist word/phrase
/exclude <id> [-s scope] <word> - blacklist word/phrase
/include_re <id> [-s scope] <regex> - whitelist regex
/exclude_re <id> [-s scope] <regex> - blacklist regex
/rmfilter <filter_id> - remove a filter

Scope flag: -s title | content | all (default: all)`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	st, err := b.ctl.Status(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStatus(st))
}

func (b *Bot) handleStartAuto(ctx context.Context, chatID int64) {
	s, err := b.ctl.Start(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	msg := fmt.Sprintf("Automatic runs enabled, every %s h.", formatHours(s.IntervalHours))
	if s.NextRun != nil {
		msg += "\nNext run: " + s.NextRun.In(location(s.Timezone)).Format(timeFormat)
	}
	b.reply(chatID, msg)
}

func (b *Bot) handleStopAuto(ctx context.Context, chatID int64) {
	if _, err := b.ctl.Stop(ctx); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Automatic runs disabled.")
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	hours, err := ParseHoursArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	s, err := b.ctl.UpdateSettings(ctx, scheduler.SettingsUpdate{IntervalHours: &hours})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	msg := fmt.Sprintf("Interval set to %s h.", formatHours(s.IntervalHours))
	if s.Enabled && s.NextRun != nil {
		msg += "\nNext run: " + s.NextRun.In(location(s.Timezone)).Format(timeFormat)
	}
	b.reply(chatID, msg)
}

func (b *Bot) handleRun(ctx context.Context, chatID int64) {
	res, err := b.ctl.RunNow(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if !res.Started {
		b.reply(chatID, fmt.Sprintf("Not started: %s (%s).", res.Reason, res.JobID))
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Job %s started.", res.JobID))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Progress", cbJob+":"+res.JobID),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cmdCancel+":"+res.JobID),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send run reply", "error", err)
	}
}

func (b *Bot) handleCancel(ctx context.Context, chatID int64, args string) {
	jobID := strings.TrimSpace(args)
	if jobID == "" {
		st, err := b.ctl.Status(ctx)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		if st.ActiveJob == nil {
			b.reply(chatID, "No job running.")
			return
		}
		jobID = st.ActiveJob.ID
	}

	err := b.ctl.Cancel(jobID)
	switch {
	case errors.Is(err, scheduler.ErrNotActive):
		b.reply(chatID, fmt.Sprintf("Job %s is not running.", jobID))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Cancelling job %s.", jobID))
	}
}

func (b *Bot) handleJobs(ctx context.Context, chatID int64, args string) {
	f := storage.JobFilter{PageSize: jobListSize}
	if args != "" {
		status := model.JobStatus(strings.ToLower(args))
		if !status.Valid() {
			b.reply(chatID, fmt.Sprintf("Unknown status %q. Use pending, running, completed, failed or cancelled.", args))
			return
		}
		f.Status = status
	}
	page, err := b.store.ListJobs(ctx, f)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatJobList(page))
}

func (b *Bot) handleJob(ctx context.Context, chatID int64, args string) {
	jobID := strings.TrimSpace(args)
	if jobID == "" {
		b.reply(chatID, "Usage: /job <job_id>")
		return
	}
	job, err := b.store.GetJob(ctx, jobID)
	switch {
	case storage.IsNotFound(err):
		b.reply(chatID, fmt.Sprintf("Job %s not found.", jobID))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, FormatJob(job, jobLogLines))
	}
}
