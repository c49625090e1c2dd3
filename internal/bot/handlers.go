package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"stockwatch/internal/filter"
	"stockwatch/internal/model"
	"stockwatch/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Stockwatch!

Register search queries and get notified when matching items appear on Mercari, Yahoo Auctions or Suruga-ya, or when their price or stock changes.

Quick start:
1. /register <query> — watch a search query
2. /filter_add <id> <word> — hide items whose title contains a word

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Alerts:
/register <query> — watch a search query in this chat
/unregister <query> — stop watching a query
/alerts — show the alerts of this chat
/allalerts — show the alerts of every chat

Filters:
/filters — show alerts that have filters
/filters <id> — show the filters of an alert
/filter_add <id> [-k text|pattern] [-m blacklist|whitelist] [-s title|id] <value> — add a filter
/filter_rm <filter_id> — remove a filter

Filters are text blacklists on the item title unless flags say otherwise.

Buttons under a notification:
🗑 Delete — hide the item in this chat
🔔 Notify — get a direct message when the item changes

/unhide <item_id> — show a hidden item in this chat again
/cleanup [count] — delete the latest item messages in this chat (default 10)`)
}

func (b *Bot) handleRegister(ctx context.Context, chatID int64, args string) {
	query, err := ParseQuery(args)
	if err != nil {
		b.reply(chatID, "Usage: /register <search query>")
		return
	}

	alert := &model.Alert{ChatID: chatID, SearchQuery: query}
	err = b.store.CreateAlert(ctx, alert)
	if errors.Is(err, storage.ErrDuplicate) {
		b.reply(chatID, fmt.Sprintf("Alert for \"%s\" already exists!", query))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save alert: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Registered alert #%d for \"%s\"!", alert.ID, query))
	if b.checker != nil {
		b.checker.CheckNow(*alert)
	}
}

func (b *Bot) handleUnregister(ctx context.Context, chatID int64, args string) {
	query, err := ParseQuery(args)
	if err != nil {
		b.reply(chatID, "Usage: /unregister <search query>")
		return
	}

	alert, err := b.store.GetAlertByQuery(ctx, query)
	if err != nil || alert.ChatID != chatID {
		b.reply(chatID, fmt.Sprintf("Alert for \"%s\" does not exist!", query))
		return
	}

	if err := b.store.DeleteAlert(ctx, alert.ID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting alert: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Unregistered alert for \"%s\"!", query))
}

func (b *Bot) handleAlerts(ctx context.Context, chatID int64) {
	alerts, err := b.chatAlerts(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatAlertList(alerts, b.filterCounts(ctx, alerts)))
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64, args string) {
	if args == "" {
		alerts, err := b.chatAlerts(ctx, chatID)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		counts := b.filterCounts(ctx, alerts)
		withFilters := lo.Filter(alerts, func(a model.Alert, _ int) bool { return counts[a.ID] > 0 })
		if len(withFilters) == 0 {
			b.reply(chatID, "You have no alerts with filters!")
			return
		}
		b.reply(chatID, FormatAlertList(withFilters, counts))
		return
	}

	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /filters [alert_id]")
		return
	}
	alert, ok := b.ownAlert(ctx, chatID, id)
	if !ok {
		return
	}
	filters, _ := b.store.ListFilters(ctx, alert.ID)
	b.reply(chatID, FormatFilterList(alert, filters))
}

func (b *Bot) handleAddFilter(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseFilterCommand(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	alert, ok := b.ownAlert(ctx, chatID, parsed.AlertID)
	if !ok {
		return
	}

	f := &model.Filter{
		AlertID: alert.ID,
		Kind:    parsed.Kind,
		Target:  parsed.Target,
		Value:   parsed.Value,
		Inverse: parsed.Inverse,
	}
	if err := filter.Validate(*f); err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := b.store.CreateFilter(ctx, f); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Filter F%d added to #%d \"%s\": %s %s %q (%s)",
		f.ID, alert.ID, alert.SearchQuery, modeLabel(f.Inverse), f.Kind, f.Value, targetLabel(f.Target)))
}

func (b *Bot) handleRmFilter(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /filter_rm <filter_id>")
		return
	}

	f, err := b.store.GetFilter(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Filter F%d not found.", id))
		return
	}

	alert, err := b.store.GetAlert(ctx, f.AlertID)
	if err != nil || alert.ChatID != chatID {
		b.reply(chatID, fmt.Sprintf("Filter F%d not found.", id))
		return
	}

	if err := b.store.DeleteFilter(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Filter F%d removed from #%d \"%s\".", id, alert.ID, alert.SearchQuery))
}

func (b *Bot) handleUnhide(ctx context.Context, chatID int64, args string) {
	itemID := strings.TrimSpace(args)
	if itemID == "" || strings.ContainsAny(itemID, " \t\n") {
		b.reply(chatID, "Usage: /unhide <item_id>")
		return
	}

	entry := model.BlacklistEntry{ItemID: itemID, ChatID: chatID}
	hidden, err := b.store.IsBlacklisted(ctx, entry.ItemID, entry.ChatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if !hidden {
		b.reply(chatID, fmt.Sprintf("Item %s is not hidden in this chat.", itemID))
		return
	}
	if err := b.store.RemoveBlacklist(ctx, entry); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Item %s will be shown again.", itemID))
}

func (b *Bot) handleAllAlerts(ctx context.Context, chatID int64) {
	alerts, err := b.store.ListAlerts(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	for _, chunk := range SplitMessage(FormatAllAlerts(alerts), maxMessage) {
		b.reply(chatID, chunk)
	}
}

// handleCleanup deletes the most recent item notifications of the chat.
// Telegram lets bots delete only messages younger than 48 hours, so older
// ones are left in place and keep their buttons.
func (b *Bot) handleCleanup(ctx context.Context, chatID int64, args string) {
	count := defaultCleanup
	if args != "" {
		n, err := ParseIDArg(args)
		if err != nil || n <= 0 {
			b.reply(chatID, "Usage: /cleanup [count]")
			return
		}
		count = int(n)
	}

	items, err := b.store.PostedItems(ctx, chatRefPrefix(chatID))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	type posted struct {
		itemID string
		msgID  int
	}
	var msgs []posted
	for _, it := range items {
		_, msgID, err := ParseMessageRef(it.MessageRef)
		if err != nil {
			b.log.Warn("skip malformed message ref", "item_id", it.ItemID, "ref", it.MessageRef)
			continue
		}
		msgs = append(msgs, posted{itemID: it.ItemID, msgID: msgID})
	}
	if len(msgs) == 0 {
		b.reply(chatID, "No item messages to delete.")
		return
	}
	slices.SortFunc(msgs, func(x, y posted) int { return y.msgID - x.msgID })
	msgs = msgs[:min(count, len(msgs))]

	deleted := 0
	for _, m := range msgs {
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, m.msgID)); err != nil {
			b.log.Warn("delete message", "chat_id", chatID, "message_id", m.msgID, "error", err)
			continue
		}
		deleted++
		if err := b.store.SetMessageRef(ctx, m.itemID, ""); err != nil {
			b.log.Error("clear message ref", "item_id", m.itemID, "error", err)
		}
	}

	if deleted < len(msgs) {
		b.reply(chatID, fmt.Sprintf("Deleted %d of %d messages. Messages older than 48 hours cannot be deleted.", deleted, len(msgs)))
		return
	}
	b.reply(chatID, fmt.Sprintf("Deleted %d messages.", deleted))
}

func (b *Bot) chatAlerts(ctx context.Context, chatID int64) ([]model.Alert, error) {
	alerts, err := b.store.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(alerts, func(a model.Alert, _ int) bool { return a.ChatID == chatID }), nil
}

func (b *Bot) filterCounts(ctx context.Context, alerts []model.Alert) map[int64]int {
	counts := make(map[int64]int, len(alerts))
	for _, a := range alerts {
		filters, err := b.store.ListFilters(ctx, a.ID)
		if err != nil {
			b.log.Error("list filters", "alert_id", a.ID, "error", err)
			continue
		}
		counts[a.ID] = len(filters)
	}
	return counts
}

// ownAlert loads an alert of this chat and replies when there is none.
func (b *Bot) ownAlert(ctx context.Context, chatID, id int64) (*model.Alert, bool) {
	alert, err := b.store.GetAlert(ctx, id)
	if err != nil || alert.ChatID != chatID {
		b.reply(chatID, fmt.Sprintf("Alert #%d not found.", id))
		return nil, false
	}
	return alert, true
}
