package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"matrimony-billing/internal/domain/ports/adapter"
)

// maxMessageLen is Telegram's limit for a text message.
const maxMessageLen = 4096

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alerts to operator chats.
type Telegram struct {
	bot     botSender
	chatIDs []int64
}

// NewTelegramBot connects to the Bot API; it calls getMe once.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	return tgbotapi.NewBotAPI(token)
}

func NewTelegram(bot botSender, chatIDs []int64) *Telegram {
	return &Telegram{bot: bot, chatIDs: chatIDs}
}

func (t *Telegram) Notify(ctx context.Context, a adapter.Alert) error {
	text := Format(a)
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen]
	}
	var errs []error
	for _, id := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		if _, err := t.bot.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("telegram chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
