package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/Freeeeeet/visitor_gate/internal/controller/keyboard"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramSender отправляет уведомления через бота. Запрос консьержа
// приходит с кнопками "Autorizar" / "Rechazar".
type TelegramSender struct {
	bot messageSender
}

func NewTelegramSender(b *bot.Bot) *TelegramSender {
	return &TelegramSender{bot: b}
}

func (t *TelegramSender) Send(ctx context.Context, chatID int64, n *model.Notification) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      FormatNotification(n),
		ParseMode: models.ParseModeHTML,
	}
	if n.RequiresAction() {
		params.ReplyMarkup = keyboard.VisitorDecision(*n.SessionID)
	}

	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// FormatNotification текст сообщения в HTML-разметке Telegram
func FormatNotification(n *model.Notification) string {
	icon := "🔔"
	if n.Priority == model.PriorityUrgent {
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n%s", icon, html.EscapeString(n.Title), html.EscapeString(n.Message))

	if n.ExpiresAt != nil {
		fmt.Fprintf(&b, "\n\n⏳ Responde antes de las %s", n.ExpiresAt.Format("15:04"))
	}
	return b.String()
}
