package keyboard

import (
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
)

// Префиксы callback data для ответа резидента
const (
	PrefixApprove = "visit_approve:"
	PrefixDeny    = "visit_deny:"
)

// Builder упрощает создание inline клавиатур
type Builder struct {
	rows [][]models.InlineKeyboardButton
}

func NewBuilder() *Builder {
	return &Builder{
		rows: make([][]models.InlineKeyboardButton, 0),
	}
}

// Row добавляет новый ряд кнопок
func (b *Builder) Row(buttons ...models.InlineKeyboardButton) *Builder {
	if len(buttons) > 0 {
		b.rows = append(b.rows, buttons)
	}
	return b
}

// Button создаёт кнопку
func Button(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// Build создаёт финальную клавиатуру
func (b *Builder) Build() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: b.rows,
	}
}

// VisitorDecision кнопки "Autorizar" / "Rechazar" для запроса консьержа
func VisitorDecision(sessionID uuid.UUID) *models.InlineKeyboardMarkup {
	return NewBuilder().
		Row(
			Button("✅ Autorizar", PrefixApprove+sessionID.String()),
			Button("❌ Rechazar", PrefixDeny+sessionID.String()),
		).
		Build()
}

// ParseDecision разбирает callback data. ok=false для чужих callback.
func ParseDecision(data string) (sessionID uuid.UUID, approved bool, ok bool) {
	var raw string
	switch {
	case strings.HasPrefix(data, PrefixApprove):
		raw, approved = strings.TrimPrefix(data, PrefixApprove), true
	case strings.HasPrefix(data, PrefixDeny):
		raw = strings.TrimPrefix(data, PrefixDeny)
	default:
		return uuid.Nil, false, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, false
	}
	return id, approved, true
}
