package controller

import (
	"context"

	"github.com/Freeeeeet/visitor_gate/internal/controller/keyboard"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResidentLookup резиденты по Telegram-аккаунту
type ResidentLookup interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	LinkTelegram(ctx context.Context, phoneDigits string, telegramID int64) (*model.User, error)
}

// DecisionResponder принимает решение резидента по сессии
type DecisionResponder interface {
	RespondToVisitor(ctx context.Context, id uuid.UUID, approved bool, residentID *uuid.UUID) (*service.RespondResult, error)
}

type BotController struct {
	bot       *bot.Bot
	residents ResidentLookup
	approvals DecisionResponder
	logger    *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	residents ResidentLookup,
	approvals DecisionResponder,
	logger *zap.Logger,
) *BotController {
	return &BotController{
		bot:       botInstance,
		residents: residents,
		approvals: approvals,
		logger:    logger,
	}
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.HandleHelp)

	// Резидент делится контактом, чтобы привязать аккаунт
	c.bot.RegisterHandlerMatchFunc(isContactMessage, c.HandleContact)

	// Кнопки "Autorizar" / "Rechazar" в уведомлении о посетителе
	c.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, keyboard.PrefixApprove, bot.MatchTypePrefix, c.HandleDecision)
	c.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, keyboard.PrefixDeny, bot.MatchTypePrefix, c.HandleDecision)

	return c.setCommands(ctx)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🚀 Vincular mi cuenta"},
		{Command: "help", Description: "❓ Ayuda"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})

	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("✅ Bot commands menu set")
	return nil
}

// Start запускает бота
func (c *BotController) Start(ctx context.Context) error {
	c.logger.Info("Starting bot...")
	c.bot.Start(ctx)
	return nil
}

func isContactMessage(update *models.Update) bool {
	return update.Message != nil && update.Message.Contact != nil
}
