// Package telegram implements a notifier.Notifier for Telegram bots.
// The daily digest and fatal loop alerts arrive as plain messages to
// one operator chat.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/circadianhq/circadian/internal/port/notifier"
)

const providerName = "telegram"

// maxMessageLen stays under Telegram's 4096-char message limit.
const maxMessageLen = 4000

// botSender abstracts the bot API client for testing.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends notifications to one Telegram chat.
type Notifier struct {
	bot    botSender
	chatID int64
}

// NewNotifier connects to the bot API. A missing token or chat ID
// yields a notifier whose Send reports ErrNotConfigured, so wiring can
// stay unconditional.
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return &Notifier{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID}, nil
}

// Name identifies this notifier.
func (n *Notifier) Name() string { return providerName }

// Send delivers one notification, splitting long messages at newlines
// to stay under the per-message limit.
func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.bot == nil {
		return notifier.ErrNotConfigured
	}

	text := fmt.Sprintf("%s %s\n%s", levelTag(notification.Level), notification.Title, notification.Message)
	if notification.Source != "" {
		text += "\nsource: " + notification.Source
	}

	for len(text) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := text
		if len(chunk) > maxMessageLen {
			if idx := strings.LastIndex(chunk[:maxMessageLen], "\n"); idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxMessageLen]
			}
		}
		text = strings.TrimPrefix(text[len(chunk):], "\n")

		if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func levelTag(level string) string {
	switch level {
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
