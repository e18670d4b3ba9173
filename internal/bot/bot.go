// Package bot is the Telegram admin interface: it controls the scheduler,
// edits the channel catalog and pushes job summaries to administrators.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/magnetoid/nisam-video-sub001/internal/config"
	"github.com/magnetoid/nisam-video-sub001/internal/ingest"
	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/scheduler"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Controller is the part of the scheduler the bot drives.
type Controller interface {
	Start(ctx context.Context) (*model.SchedulerSettings, error)
	Stop(ctx context.Context) (*model.SchedulerSettings, error)
	UpdateSettings(ctx context.Context, u scheduler.SettingsUpdate) (*model.SchedulerSettings, error)
	RunNow(ctx context.Context) (scheduler.TriggerResult, error)
	Status(ctx context.Context) (*scheduler.Status, error)
	Cancel(jobID string) error
}

// Telegram allows roughly one message per second per chat.
const (
	notifyRate  = rate.Limit(1)
	notifyQueue = 16
)

// Bot is the Telegram bot that handles admin commands and sends job summaries.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	ctl     Controller
	cfg     *config.Config
	fetcher *ingest.Fetcher
	log     *slog.Logger

	limiter *rate.Limiter
	notes   chan model.ScrapeJob
}

// New creates a Bot with the given Telegram token.
func New(token string, store storage.Storage, ctl Controller, f *ingest.Fetcher, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, store, ctl, f, cfg, log), nil
}

func newBot(api telegramAPI, store storage.Storage, ctl Controller, f *ingest.Fetcher, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		store:   store,
		ctl:     ctl,
		cfg:     cfg,
		fetcher: f,
		log:     log,
		limiter: rate.NewLimiter(notifyRate, 1),
		notes:   make(chan model.ScrapeJob, notifyQueue),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case job := <-b.notes:
			b.sendSummary(ctx, job)
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// NotifyJob queues a summary of a finished job for every administrator.
// It never blocks; summaries are dropped when the queue is full.
func (b *Bot) NotifyJob(job model.ScrapeJob) {
	if len(b.cfg.AllowedUsers) == 0 {
		return
	}
	select {
	case b.notes <- job:
	default:
		b.log.Warn("notification queue full, dropping job summary", "job_id", job.ID)
	}
}

func (b *Bot) sendSummary(ctx context.Context, job model.ScrapeJob) {
	text := FormatJobSummary(&job)
	for _, chatID := range b.cfg.AllowedUsers {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		b.SendMessage(chatID, text)
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "startauto":
		b.handleStartAuto(ctx, chatID)
	case "stopauto":
		b.handleStopAuto(ctx, chatID)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case "run":
		b.handleRun(ctx, chatID)
	case cmdCancel:
		b.handleCancel(ctx, chatID, args)
	case "jobs":
		b.handleJobs(ctx, chatID, args)
	case "job":
		b.handleJob(ctx, chatID, args)
	case "channels":
		b.handleChannels(ctx, chatID)
	case "addchannel":
		b.handleAddChannel(ctx, chatID, args)
	case cmdRmChannel:
		b.handleRmChannel(ctx, chatID, args)
	case "pause":
		b.handleSetActive(ctx, chatID, args, false)
	case "resume":
		b.handleSetActive(ctx, chatID, args, true)
	case cmdFilters:
		b.handleFilters(ctx, chatID, args)
	case "include":
		b.handleAddFilter(ctx, chatID, args, model.FilterInclude)
	case "exclude":
		b.handleAddFilter(ctx, chatID, args, model.FilterExclude)
	case "include_re":
		b.handleAddFilter(ctx, chatID, args, model.FilterIncludeRe)
	case "exclude_re":
		b.handleAddFilter(ctx, chatID, args, model.FilterExcludeRe)
	case cmdRmFilter:
		b.handleRmFilter(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
