package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockwatch/internal/model"
	"stockwatch/internal/storage"
)

// handleCallback reacts to the buttons under an item notification. The item
// is identified by the message the button belongs to.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil || cb.From == nil {
		b.answer(cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID

	if !b.cfg.IsUserAllowed(cb.From.ID) {
		b.answer(cb.ID, "Access denied.")
		return
	}

	b.log.Info("callback",
		"action", cb.Data,
		"chat_id", chatID,
		"message_id", cb.Message.MessageID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch cb.Data {
	case actionBlacklist, actionNotify:
	default:
		b.answer(cb.ID, "")
		return
	}

	item, err := b.store.ItemByMessageRef(ctx, MessageRef(chatID, cb.Message.MessageID))
	if errors.Is(err, storage.ErrNotFound) {
		b.answer(cb.ID, "This item is no longer tracked.")
		return
	}
	if err != nil {
		b.log.Error("lookup item by message", "chat_id", chatID, "error", err)
		b.answer(cb.ID, "Something went wrong.")
		return
	}

	switch cb.Data {
	case actionBlacklist:
		b.blacklist(ctx, cb, item)
	case actionNotify:
		b.toggleSubscription(ctx, cb, item)
	}
}

func (b *Bot) blacklist(ctx context.Context, cb *tgbotapi.CallbackQuery, item *model.Item) {
	chatID := cb.Message.Chat.ID
	entry := model.BlacklistEntry{ItemID: item.ItemID, ChatID: chatID}
	if err := b.store.AddBlacklist(ctx, entry); err != nil {
		b.log.Error("add blacklist", "item_id", item.ItemID, "chat_id", chatID, "error", err)
		b.answer(cb.ID, "Something went wrong.")
		return
	}

	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, cb.Message.MessageID)); err != nil {
		b.log.Warn("delete message", "chat_id", chatID, "message_id", cb.Message.MessageID, "error", err)
	}
	b.answer(cb.ID, "Item hidden from this chat.")
}

func (b *Bot) toggleSubscription(ctx context.Context, cb *tgbotapi.CallbackQuery, item *model.Item) {
	sub := model.Subscription{ItemID: item.ItemID, UserID: cb.From.ID}
	subscribed, err := b.store.IsSubscribed(ctx, sub)
	if err != nil {
		b.log.Error("check subscription", "item_id", item.ItemID, "user_id", sub.UserID, "error", err)
		b.answer(cb.ID, "Something went wrong.")
		return
	}

	if subscribed {
		err = b.store.Unsubscribe(ctx, sub)
	} else {
		err = b.store.Subscribe(ctx, sub)
	}
	if err != nil {
		b.log.Error("toggle subscription", "item_id", item.ItemID, "user_id", sub.UserID, "error", err)
		b.answer(cb.ID, "Something went wrong.")
		return
	}

	if subscribed {
		b.answer(cb.ID, "You will no longer get updates for this item.")
		return
	}
	b.answer(cb.ID, "You will get a direct message when this item changes.")
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}
