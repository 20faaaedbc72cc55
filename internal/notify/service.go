package notify

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type notificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

type userLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// PushSender доставка уведомления в мессенджер резидента
type PushSender interface {
	Send(ctx context.Context, chatID int64, n *model.Notification) error
}

// Service сохраняет уведомление и дублирует его резиденту в Telegram.
// Запись в БД обязательна, push best-effort.
type Service struct {
	store  notificationStore
	users  userLookup
	push   PushSender
	logger *zap.Logger
}

// NewService push может быть nil (бот не настроен)
func NewService(store notificationStore, users userLookup, push PushSender, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		users:  users,
		push:   push,
		logger: logger,
	}
}

func (s *Service) Notify(ctx context.Context, n *model.Notification) error {
	if err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if s.push == nil {
		return nil
	}

	user, err := s.users.GetByID(ctx, n.UserID)
	if err != nil {
		s.logger.Warn("Failed to load notification recipient", zap.String("user_id", n.UserID.String()), zap.Error(err))
		return nil
	}
	if user == nil || user.TelegramID == nil {
		return nil
	}

	if err := s.push.Send(ctx, *user.TelegramID, n); err != nil {
		s.logger.Warn("Failed to push notification",
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", n.UserID.String()),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Debug("Notification pushed",
		zap.String("notification_id", n.ID.String()),
		zap.String("type", string(n.Type)),
	)
	return nil
}
