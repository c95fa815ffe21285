package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

// AlertBot forwards log records to a Telegram ops chat.
type AlertBot struct {
	bot    *gotgbot.Bot
	chatID int64
}

// NewAlertBot connects to the Telegram Bot API with the given token.
func NewAlertBot(apiKey string, chatID int64) (*AlertBot, error) {
	bot, err := gotgbot.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &AlertBot{bot: bot, chatID: chatID}, nil
}

// Send delivers one alert message, best effort.
func (a *AlertBot) Send(text string) error {
	_, err := a.bot.SendMessage(a.chatID, text, nil)
	return err
}

// SetupTelegramHandler duplicates records at or above level to the alert bot
// while keeping the original handler untouched.
func SetupTelegramHandler(log *slog.Logger, alert *AlertBot, level slog.Level) *slog.Logger {
	return slog.New(&telegramHandler{next: log.Handler(), alert: alert, level: level})
}

type telegramHandler struct {
	next  slog.Handler
	alert *AlertBot
	level slog.Level
}

func (h *telegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *telegramHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level && h.alert != nil {
		text := fmt.Sprintf("[%s] %s", r.Level, r.Message)
		r.Attrs(func(a slog.Attr) bool {
			text += fmt.Sprintf("\n%s: %s", a.Key, a.Value.String())
			return true
		})
		// Alert delivery must never fail the log call itself.
		go func() { _ = h.alert.Send(text) }()
	}
	return h.next.Handle(ctx, r)
}

func (h *telegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &telegramHandler{next: h.next.WithAttrs(attrs), alert: h.alert, level: h.level}
}

func (h *telegramHandler) WithGroup(name string) slog.Handler {
	return &telegramHandler{next: h.next.WithGroup(name), alert: h.alert, level: h.level}
}
