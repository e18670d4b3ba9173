package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbJob          = "job"
	cmdCancel      = "cancel"
	cmdFilters     = "filters"
	cmdRmChannel   = "rmchannel"
	cmdRmFilter    = "rmfilter"
	cbRmChannelAsk = "rmchannel_confirm"
	cbNoop         = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok || arg == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	// Job IDs are UUIDs; every other action takes a numeric catalog ID.
	switch action {
	case cbJob:
		b.handleJob(ctx, chatID, arg)
		return
	case cmdCancel:
		b.handleCancel(ctx, chatID, arg)
		return
	}

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return
	}
	switch action {
	case cmdFilters:
		b.handleFilters(ctx, chatID, arg)
	case cbRmChannelAsk:
		ch, err := b.store.GetChannel(ctx, id)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Channel #%d not found.", id))
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Remove #%d \"%s\"? Its videos stay in the catalog.", id, ch.Name))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, remove", fmt.Sprintf("%s:%d", cmdRmChannel, id)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send remove confirmation", "error", err)
		}
	case cmdRmChannel:
		b.handleRmChannel(ctx, chatID, arg)
	case cmdRmFilter:
		b.handleRmFilter(ctx, chatID, arg)
	}
}
