package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationVisitorArrival NotificationType = "visitor_arrival"
	NotificationVisitCheckIn   NotificationType = "visit_check_in"
	NotificationVisitCheckOut  NotificationType = "visit_check_out"
	NotificationVisitExpired   NotificationType = "visit_expired"
	NotificationVisitExpiring  NotificationType = "visit_expiring"
)

type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityUrgent NotificationPriority = "urgent"
)

type NotificationStatus string

const (
	NotificationStatusUnread   NotificationStatus = "unread"
	NotificationStatusActioned NotificationStatus = "actioned"
	NotificationStatusExpired  NotificationStatus = "expired"
)

// Notification уведомление резиденту
type Notification struct {
	ID        uuid.UUID            `json:"id"`
	UserID    uuid.UUID            `json:"user_id"`
	Type      NotificationType     `json:"type"`
	Priority  NotificationPriority `json:"priority"`
	Status    NotificationStatus   `json:"status"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	VisitID   *uuid.UUID           `json:"visit_id,omitempty"`
	SessionID *uuid.UUID           `json:"session_id,omitempty"` // Для запросов консьержа
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// RequiresAction уведомление ожидает ответа резидента (одобрить/отклонить)
func (n *Notification) RequiresAction() bool {
	return n.SessionID != nil && n.Status == NotificationStatusUnread
}
