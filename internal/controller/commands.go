package controller

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const helpText = "ℹ️ Este bot te avisa cuando llega una visita a tu departamento.\n\n" +
	"Cuando recibas una solicitud, toca ✅ Autorizar o ❌ Rechazar.\n" +
	"La primera respuesta de tu familia es la que cuenta.\n\n" +
	"/start - Vincular tu cuenta\n" +
	"/help - Mostrar esta ayuda"

// HandleStart обрабатывает команду /start
func (c *BotController) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID

	resident, err := c.residents.GetByTelegramID(ctx, update.Message.From.ID)
	if err != nil {
		c.logger.Error("Failed to get resident", zap.Int64("telegram_id", update.Message.From.ID), zap.Error(err))
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   msgGenericError,
		})
		return
	}

	if resident != nil {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("👋 Hola, %s! Tu cuenta ya está vinculada.\n\n%s", resident.FirstName, helpText),
		})
		return
	}

	// Просим контакт: привязка идёт по номеру телефона из реестра резидентов
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "👋 Hola! Para recibir avisos de visitas comparte tu número de teléfono.",
		ReplyMarkup: &models.ReplyKeyboardMarkup{
			Keyboard: [][]models.KeyboardButton{
				{{Text: "📱 Compartir mi número", RequestContact: true}},
			},
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		},
	})
}

// HandleHelp обрабатывает команду /help
func (c *BotController) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   helpText,
	})
}

// HandleContact привязывает Telegram-аккаунт к резиденту
func (c *BotController) HandleContact(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.Contact == nil || msg.From == nil {
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      msg.Chat.ID,
		Text:        c.linkContact(ctx, msg.From.ID, msg.Contact),
		ReplyMarkup: &models.ReplyKeyboardRemove{RemoveKeyboard: true},
	})
}

// linkContact возвращает текст ответа резиденту
func (c *BotController) linkContact(ctx context.Context, telegramID int64, contact *models.Contact) string {
	// Чужой контакт не принимаем
	if contact.UserID != telegramID {
		return msgForeignContact
	}

	digits := phoneDigits(contact.PhoneNumber)
	if digits == "" {
		return msgNotLinked
	}

	resident, err := c.residents.LinkTelegram(ctx, digits, telegramID)
	if err != nil {
		c.logger.Error("Failed to link telegram", zap.Int64("telegram_id", telegramID), zap.Error(err))
		return msgGenericError
	}
	if resident == nil {
		c.logger.Info("Contact does not match any resident", zap.Int64("telegram_id", telegramID))
		return msgNotLinked
	}

	c.logger.Info("Resident linked telegram",
		zap.String("resident_id", resident.ID.String()),
		zap.Int64("telegram_id", telegramID),
	)
	return fmt.Sprintf("✅ Listo, %s. Te avisaremos aquí cuando llegue una visita.", resident.FirstName)
}

func phoneDigits(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}
