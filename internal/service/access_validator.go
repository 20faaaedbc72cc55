package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Freeeeeet/visitor_gate/internal/events"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CredentialKind string

const (
	CredentialQR    CredentialKind = "qr"
	CredentialPlate CredentialKind = "plate"
)

// AccessDecision решение по пропуску на въезд
type AccessDecision struct {
	Valid   bool         `json:"valid"`
	Visit   *model.Visit `json:"visit,omitempty"`
	Message string       `json:"message"`
}

// Тексты для охраны
const (
	msgAccessGranted  = "Acceso autorizado"
	msgVisitNotFound  = "Visita no encontrada"
	msgVisitCancelled = "La visita fue cancelada"
	msgVisitCompleted = "La visita ya fue completada"
	msgVisitDenied    = "La visita fue rechazada por el residente"
	msgVisitExpired   = "La visita expiró"
	msgNotYetValid    = "La visita aún no está vigente"
	msgQuotaExhausted = "La visita alcanzó el máximo de usos"
)

var rejectedStatuses = map[model.VisitStatus]string{
	model.VisitStatusCancelled: msgVisitCancelled,
	model.VisitStatusCompleted: msgVisitCompleted,
	model.VisitStatusDenied:    msgVisitDenied,
	model.VisitStatusExpired:   msgVisitExpired,
}

type AccessValidator struct {
	visits *VisitService
	events events.Publisher
	logger *zap.Logger
}

func NewAccessValidator(visits *VisitService, publisher events.Publisher, logger *zap.Logger) *AccessValidator {
	return &AccessValidator{
		visits: visits,
		events: publisher,
		logger: logger,
	}
}

// ValidateAccess проверяет QR или номер машины и решает, пускать ли посетителя.
// Визит с истёкшим окном закрывается здесь же (через VisitService.Reconcile).
func (a *AccessValidator) ValidateAccess(ctx context.Context, identifier string, kind CredentialKind) (*AccessDecision, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, validationErrorf("identifier is required")
	}

	var (
		visit *model.Visit
		err   error
	)
	switch kind {
	case CredentialQR:
		visit, err = a.visits.FindByQRCode(ctx, identifier)
	case CredentialPlate:
		visit, err = a.visits.FindByPlate(ctx, identifier)
	default:
		return nil, validationErrorf("unknown credential kind %q", kind)
	}

	if errors.Is(err, ErrNotFound) {
		return a.decide(ctx, kind, identifier, &AccessDecision{Message: msgVisitNotFound}), nil
	}
	if err != nil {
		return nil, err
	}

	decision, err := a.evaluate(ctx, visit)
	if err != nil {
		return nil, err
	}

	return a.decide(ctx, kind, identifier, decision), nil
}

func (a *AccessValidator) evaluate(ctx context.Context, visit *model.Visit) (*AccessDecision, error) {
	now := a.visits.now()

	if msg, rejected := rejectedStatuses[visit.Status]; rejected {
		return &AccessDecision{Visit: visit, Message: msg}, nil
	}

	if now.Before(visit.ValidFrom) {
		return &AccessDecision{Visit: visit, Message: msgNotYetValid}, nil
	}

	if now.After(visit.ValidUntil) {
		reconciled, _, err := a.visits.Reconcile(ctx, visit.ID)
		if err != nil {
			return nil, fmt.Errorf("reconcile expired visit: %w", err)
		}
		return &AccessDecision{Visit: reconciled, Message: msgVisitExpired}, nil
	}

	if visit.Status == model.VisitStatusReady && visit.QuotaExhausted() {
		return &AccessDecision{Visit: visit, Message: msgQuotaExhausted}, nil
	}

	return &AccessDecision{Valid: true, Visit: visit, Message: msgAccessGranted}, nil
}

func (a *AccessValidator) decide(ctx context.Context, kind CredentialKind, identifier string, d *AccessDecision) *AccessDecision {
	var visitID *uuid.UUID
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.Bool("valid", d.Valid),
		zap.String("message", d.Message),
	}
	if d.Visit != nil {
		id := d.Visit.ID
		visitID = &id
		fields = append(fields, zap.String("visit_id", id.String()))
	}
	a.logger.Info("Access validated", fields...)

	// QR-токен не публикуем, номер машины можно
	published := identifier
	if kind == CredentialQR {
		published = ""
	}

	err := a.events.Publish(ctx, events.VisitAccessValidated, events.AccessValidatedEvent{
		VisitID:    visitID,
		Kind:       string(kind),
		Identifier: published,
		Valid:      d.Valid,
		Message:    d.Message,
		At:         a.visits.now(),
	})
	if err != nil {
		a.logger.Warn("Failed to publish access event", zap.Error(deliveryError("event bus", err)))
	}

	return d
}
