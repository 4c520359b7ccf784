package services

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"campuspay/internal/models"
)

// botSender is the part of *tgbotapi.BotAPI we use.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramService posts a short notice to the admin chat for every signup.
type TelegramService struct {
	bot    botSender
	chatID int64
}

// NewTelegramService connects to the Bot API. An empty token or chat id
// returns (nil, nil) so the channel is simply not registered.
func NewTelegramService(token string, chatID int64) (*TelegramService, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramService{bot: bot, chatID: chatID}, nil
}

func newTelegramService(bot botSender, chatID int64) *TelegramService {
	return &TelegramService{bot: bot, chatID: chatID}
}

func (t *TelegramService) NotifySignup(_ context.Context, user *models.User) error {
	text := fmt.Sprintf("<b>New %s signup</b>\n%s &lt;%s&gt;\nMobile: %s",
		html.EscapeString(string(user.Role)),
		html.EscapeString(user.Name),
		html.EscapeString(user.Email),
		html.EscapeString(user.Mobile),
	)
	if user.Course != "" {
		text += "\nCourse: " + html.EscapeString(user.Course)
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}
