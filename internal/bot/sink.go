package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockwatch/internal/notify"
)

// Callback actions of the buttons under item notifications.
const (
	actionBlacklist = "blacklist"
	actionNotify    = "notify"
)

// Telegram message size limits, in characters.
const (
	maxCaption = 1024
	maxMessage = 4096
)

const defaultCleanup = 10

// Post sends an item notification with its action buttons to a chat and
// returns the message reference.
func (b *Bot) Post(_ context.Context, chatID int64, e notify.Embed) (string, error) {
	msg, err := b.api.Send(embedMessage(chatID, e, itemKeyboard()))
	if err != nil {
		return "", fmt.Errorf("post to chat %d: %w", chatID, err)
	}
	return MessageRef(chatID, msg.MessageID), nil
}

// DM sends an item notification to a user's private chat.
func (b *Bot) DM(_ context.Context, userID int64, e notify.Embed) error {
	if _, err := b.api.Send(embedMessage(userID, e, nil)); err != nil {
		return fmt.Errorf("message user %d: %w", userID, err)
	}
	return nil
}

// MessageRef builds the reference of a posted message. Telegram message IDs
// are only unique within a chat, so the chat is part of the reference.
func MessageRef(chatID int64, messageID int) string {
	return chatRefPrefix(chatID) + strconv.Itoa(messageID)
}

func chatRefPrefix(chatID int64) string {
	return strconv.FormatInt(chatID, 10) + ":"
}

// ParseMessageRef is the inverse of MessageRef.
func ParseMessageRef(ref string) (chatID int64, messageID int, err error) {
	chat, msg, ok := strings.Cut(ref, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed message ref %q", ref)
	}
	if chatID, err = strconv.ParseInt(chat, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed message ref %q: %w", ref, err)
	}
	if messageID, err = strconv.Atoi(msg); err != nil {
		return 0, 0, fmt.Errorf("malformed message ref %q: %w", ref, err)
	}
	return chatID, messageID, nil
}

func itemKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", actionBlacklist),
			tgbotapi.NewInlineKeyboardButtonData("🔔 Notify", actionNotify),
		),
	)
	return &kb
}

// embedMessage renders e as a photo with caption when it has an image and
// the text fits, and as a plain text message otherwise.
func embedMessage(chatID int64, e notify.Embed, kb *tgbotapi.InlineKeyboardMarkup) tgbotapi.Chattable {
	text := FormatEmbed(e)
	if e.ImageURL != "" && len([]rune(text)) <= maxCaption {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(e.ImageURL))
		photo.Caption = text
		if kb != nil {
			photo.ReplyMarkup = *kb
		}
		return photo
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = e.ImageURL == ""
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	return msg
}
