package controller

import (
	"context"

	"github.com/Freeeeeet/visitor_gate/internal/controller/keyboard"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// decisionOutcome ответ резиденту на нажатие кнопки
type decisionOutcome struct {
	Text string
	// Final сообщение с кнопками больше не актуально, кнопки снимаются
	Final bool
}

// HandleDecision обрабатывает нажатие "Autorizar" / "Rechazar"
func (c *BotController) HandleDecision(ctx context.Context, b *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	outcome := c.decide(ctx, callback.From.ID, callback.Data)

	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
		Text:            outcome.Text,
		ShowAlert:       !outcome.Final,
	})

	msg := callback.Message.Message
	if !outcome.Final || msg == nil {
		return
	}

	// Без ReplyMarkup Telegram убирает inline-кнопки
	_, err := b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Text:      msg.Text + "\n\n" + outcome.Text,
	})
	if err != nil {
		c.logger.Warn("Failed to edit decision message", zap.Error(err))
	}
}

func (c *BotController) decide(ctx context.Context, telegramID int64, data string) decisionOutcome {
	sessionID, approved, ok := keyboard.ParseDecision(data)
	if !ok {
		return decisionOutcome{Text: msgInvalidCallback}
	}

	resident, err := c.residents.GetByTelegramID(ctx, telegramID)
	if err != nil {
		c.logger.Error("Failed to get resident", zap.Int64("telegram_id", telegramID), zap.Error(err))
		return decisionOutcome{Text: msgGenericError}
	}
	if resident == nil {
		return decisionOutcome{Text: msgNotLinked}
	}

	_, err = c.approvals.RespondToVisitor(ctx, sessionID, approved, &resident.ID)
	if err != nil {
		c.logger.Info("Resident decision rejected",
			zap.String("session_id", sessionID.String()),
			zap.String("resident_id", resident.ID.String()),
			zap.Error(err),
		)
		return decisionOutcome{Text: ErrorMessage(err), Final: isFinalError(err)}
	}

	c.logger.Info("Resident responded via telegram",
		zap.String("session_id", sessionID.String()),
		zap.String("resident_id", resident.ID.String()),
		zap.Bool("approved", approved),
	)

	if approved {
		return decisionOutcome{Text: msgApproved, Final: true}
	}
	return decisionOutcome{Text: msgDenied, Final: true}
}
