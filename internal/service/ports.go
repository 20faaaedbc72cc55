package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/events"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/google/uuid"
)

// Хранилища. Get* возвращают nil, nil если запись не найдена.

type VisitStore interface {
	Create(ctx context.Context, v *model.Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Visit, error)
	GetByAccessCredential(ctx context.Context, code string) (*model.Visit, error)
	FindAdmissibleByPlate(ctx context.Context, plate string, now time.Time) (*model.Visit, error)
	CredentialExists(ctx context.Context, code string) (bool, error)
	// Update возвращает base.ErrVersionConflict, если версия устарела
	Update(ctx context.Context, v *model.Visit) error
	ListExpiredCandidates(ctx context.Context, now time.Time) ([]*model.Visit, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*model.Visit, error)
}

type SessionStore interface {
	Create(ctx context.Context, s *model.ApprovalSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ApprovalSession, error)
	Update(ctx context.Context, s *model.ApprovalSession) error
	ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]*model.ApprovalSession, error)
}

// Справочники

type ResidentDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.User, error)
}

type FamilyDirectory interface {
	FindByDepartment(ctx context.Context, unit string) (*model.Family, error)
}

type VehicleDirectory interface {
	FindByPlate(ctx context.Context, plate string) (*model.Vehicle, error)
	Create(ctx context.Context, v *model.Vehicle) error
}

// Внешние каналы доставки (best-effort)

type Notifier interface {
	Notify(ctx context.Context, n *model.Notification) error
}

type NotificationStore interface {
	MarkActionTaken(ctx context.Context, sessionID uuid.UUID) (int64, error)
	ExpireForSession(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// Broadcaster real-time канал по ключу (например, "session:<id>")
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, payload interface{}) error
}

type GateCommander interface {
	OpenGate(ctx context.Context, cmd events.GateCommand) error
}

// CredentialSender доставляет посетителю QR-доступ (SMS)
type CredentialSender interface {
	SendAccessCredential(ctx context.Context, phone string, v *model.Visit) error
}

// AgentCredentialIssuer выдаёт голосовому агенту короткоживущий токен сессии
type AgentCredentialIssuer interface {
	Issue(sessionID uuid.UUID) (token string, expiresAt time.Time, err error)
}

// SessionChannel ключ real-time канала сессии
func SessionChannel(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}
