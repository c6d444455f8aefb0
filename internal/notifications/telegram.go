package notifications

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramBackend sends notifications to a Telegram chat.
type TelegramBackend struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramBackend authenticates the bot.
func NewTelegramBackend(token string, chatID int64) (*TelegramBackend, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramBackend{api: api, chatID: chatID}, nil
}

// Send delivers one message.
func (t *TelegramBackend) Send(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// Name identifies the backend.
func (t *TelegramBackend) Name() string {
	return "telegram"
}
