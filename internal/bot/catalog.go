package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magnetoid/nisam-video-sub001/internal/filter"
	"github.com/magnetoid/nisam-video-sub001/internal/ingest"
	"github.com/magnetoid/nisam-video-sub001/internal/model"
)

const maxChannelButtons = 20

func (b *Bot) handleChannels(ctx context.Context, chatID int64) {
	channels, err := b.store.ListChannels(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	stats := make(map[int64]ChannelStats, len(channels))
	for _, c := range channels {
		var st ChannelStats
		if filters, err := b.store.ListFilters(ctx, c.ID); err == nil {
			for _, fl := range filters {
				switch fl.Kind {
				case model.FilterInclude, model.FilterIncludeRe:
					st.Include++
				case model.FilterExclude, model.FilterExcludeRe:
					st.Exclude++
				}
			}
		}
		st.Videos, _ = b.store.CountVideos(ctx, c.ID)
		stats[c.ID] = st
	}

	msg := tgbotapi.NewMessage(chatID, FormatChannelList(channels, stats))
	msg.DisableWebPagePreview = true
	if len(channels) > 0 && len(channels) <= maxChannelButtons {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels))
		for _, c := range channels {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Filters #%d", c.ID), fmt.Sprintf("%s:%d", cmdFilters, c.ID)),
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Remove #%d", c.ID), fmt.Sprintf("%s:%d", cbRmChannelAsk, c.ID)),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send channel list", "error", err)
	}
}

func (b *Bot) handleAddChannel(ctx context.Context, chatID int64, args string) {
	externalID, name, err := ParseAddChannelArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	feedURL := ingest.ChannelFeedURL(externalID)
	feed, err := b.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to fetch channel feed: %v", err))
		return
	}
	if name == "" {
		name = feed.Title
	}
	if name == "" {
		name = externalID
	}

	ch := &model.Channel{
		ExternalID: externalID,
		Name:       name,
		FeedURL:    feedURL,
		IsActive:   true,
	}
	if err := b.store.CreateChannel(ctx, ch); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save channel: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Channel added!\n#%d %s\n%d entries in the current feed. New uploads are picked up on the next run.",
		ch.ID, ch.Name, len(feed.Items)))
}

func (b *Bot) handleRmChannel(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmchannel <id>")
		return
	}

	ch, err := b.store.GetChannel(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Channel #%d not found.", id))
		return
	}

	if err := b.store.DeleteChannel(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting channel: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Channel #%d \"%s\" removed.", id, ch.Name))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	usage, verb := "Usage: /pause <id>", "paused"
	if active {
		usage, verb = "Usage: /resume <id>", "resumed"
	}

	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, usage)
		return
	}

	ch, err := b.store.GetChannel(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Channel #%d not found.", id))
		return
	}

	ch.IsActive = active
	if err := b.store.UpdateChannel(ctx, ch); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Channel #%d \"%s\" %s.", id, ch.Name, verb))
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /filters <id>")
		return
	}

	ch, err := b.store.GetChannel(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Channel #%d not found.", id))
		return
	}

	filters, _ := b.store.ListFilters(ctx, ch.ID)
	b.reply(chatID, FormatFilterList(ch, filters))
}

func (b *Bot) handleAddFilter(ctx context.Context, chatID int64, args string, kind model.FilterKind) {
	parsed, err := ParseFilterCommand(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	ch, err := b.store.GetChannel(ctx, parsed.ChannelID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Channel #%d not found.", parsed.ChannelID))
		return
	}

	if kind == model.FilterIncludeRe || kind == model.FilterExcludeRe {
		if err := filter.ValidateRegex(parsed.Value); err != nil {
			b.reply(chatID, fmt.Sprintf("Invalid regex: %v", err))
			return
		}
	}

	f := &model.Filter{
		ChannelID: parsed.ChannelID,
		Kind:      kind,
		Scope:     parsed.Scope,
		Value:     parsed.Value,
	}
	if err := b.store.CreateFilter(ctx, f); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Filter F%d added to #%d \"%s\": %s %s (%s)",
		f.ID, ch.ID, ch.Name, kind, parsed.Value, scopeLabel(parsed.Scope)))
}

func (b *Bot) handleRmFilter(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmfilter <filter_id>")
		return
	}

	f, err := b.store.GetFilter(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Filter F%d not found.", id))
		return
	}

	ch, err := b.store.GetChannel(ctx, f.ChannelID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Filter F%d not found.", id))
		return
	}

	if err := b.store.DeleteFilter(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Filter F%d removed from #%d \"%s\".", id, ch.ID, ch.Name))
}
