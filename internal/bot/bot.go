// Package bot is the Telegram front end: it handles user commands and
// inline buttons, and delivers item notifications.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockwatch/internal/config"
	"stockwatch/internal/model"
	"stockwatch/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Checker runs an immediate check for a freshly registered alert.
type Checker interface {
	CheckNow(alert model.Alert)
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	cfg     *config.Config
	checker Checker
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		cfg:   cfg,
		log:   log,
	}, nil
}

// SetChecker installs the component that runs eager checks after /register.
func (b *Bot) SetChecker(c Checker) {
	b.checker = c
}

// Run long-polls Telegram for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	cfg.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(cfg)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.IsCommand():
		msg := u.Message
		if msg.From != nil && !b.cfg.IsUserAllowed(msg.From.ID) {
			b.log.Warn("command from unknown user", "user_id", msg.From.ID, "chat_id", msg.Chat.ID)
			b.reply(msg.Chat.ID, "Access denied.")
			return
		}
		b.handleCommand(ctx, msg)
	}
}

// SendMessage sends a plain text message without link previews.
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

type commandFunc func(b *Bot, ctx context.Context, chatID int64, args string)

var commands = map[string]commandFunc{
	"start":      func(b *Bot, _ context.Context, chatID int64, _ string) { b.handleStart(chatID) },
	"help":       func(b *Bot, _ context.Context, chatID int64, _ string) { b.handleHelp(chatID) },
	"register":   (*Bot).handleRegister,
	"unregister": (*Bot).handleUnregister,
	"alerts":     func(b *Bot, ctx context.Context, chatID int64, _ string) { b.handleAlerts(ctx, chatID) },
	"allalerts":  func(b *Bot, ctx context.Context, chatID int64, _ string) { b.handleAllAlerts(ctx, chatID) },
	"filters":    (*Bot).handleFilters,
	"filter_add": (*Bot).handleAddFilter,
	"filter_rm":  (*Bot).handleRmFilter,
	"unhide":     (*Bot).handleUnhide,
	"cleanup":    (*Bot).handleCleanup,
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	name := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", name, "args", args, "chat_id", chatID)

	cmd, ok := commands[name]
	if !ok {
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
		return
	}
	cmd(b, ctx, chatID, args)
}
