package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository struct {
	*base.Repository
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{Repository: base.NewRepository(pool)}
}

// Create сохраняет уведомление
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = model.NotificationStatusUnread
	}
	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}

	query := `
		INSERT INTO notifications (id, user_id, type, priority, status, title, message, visit_id, session_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.QueryRow(
		ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Priority,
		n.Status,
		n.Title,
		n.Message,
		n.VisitID,
		n.SessionID,
		n.ExpiresAt,
	).Scan(&n.CreatedAt)

	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	return nil
}

// MarkActionTaken помечает запросы консьержа по сессии как обработанные
func (r *NotificationRepository) MarkActionTaken(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	return r.setSessionStatus(ctx, sessionID, model.NotificationStatusActioned)
}

// ExpireForSession помечает необработанные запросы консьержа по сессии как истёкшие
func (r *NotificationRepository) ExpireForSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	return r.setSessionStatus(ctx, sessionID, model.NotificationStatusExpired)
}

func (r *NotificationRepository) setSessionStatus(ctx context.Context, sessionID uuid.UUID, status model.NotificationStatus) (int64, error) {
	query := `
		UPDATE notifications
		SET status = $1
		WHERE session_id = $2 AND status = $3
	`

	affected, err := r.ExecAffected(ctx, query, status, sessionID, model.NotificationStatusUnread)
	if err != nil {
		return 0, fmt.Errorf("set notification status: %w", err)
	}

	return affected, nil
}
