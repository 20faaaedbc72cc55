package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/events"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Сколько раз перечитываем визит при конфликте версий
const maxWriteAttempts = 3

// errUnchanged fn в mutate сообщает, что сохранять нечего
var errUnchanged = errors.New("unchanged")

type VisitService struct {
	visits   VisitStore
	users    ResidentDirectory
	vehicles VehicleDirectory
	notifier Notifier
	events   events.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewVisitService(
	visits VisitStore,
	users ResidentDirectory,
	vehicles VehicleDirectory,
	notifier Notifier,
	publisher events.Publisher,
	logger *zap.Logger,
) *VisitService {
	return &VisitService{
		visits:   visits,
		users:    users,
		vehicles: vehicles,
		notifier: notifier,
		events:   publisher,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock подменяет часы (для тестов)
func (s *VisitService) WithClock(now func() time.Time) *VisitService {
	s.now = now
	return s
}

// CreateVisitParams параметры создания визита
type CreateVisitParams struct {
	Type         model.VisitType
	VisitorName  string
	VisitorRUT   *string
	VisitorPhone *string
	Reason       *string
	ValidFrom    time.Time
	ValidUntil   time.Time
	HostID       uuid.UUID
	MaxUses      *int
	Status       *model.VisitStatus // по умолчанию pending
	Plate        *string
	VehicleBrand *string
	VehicleModel *string
	VehicleColor *string
}

// VisitPatch частичное обновление визита. nil = поле не меняется.
type VisitPatch struct {
	VisitorName  *string
	VisitorRUT   *string
	VisitorPhone *string
	Reason       *string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      *int
	HostID       *uuid.UUID
	Plate        *string
	VehicleBrand *string
	VehicleModel *string
	VehicleColor *string
}

// ============ Создание и поиск ============

// Create создаёт визит с новым QR-токеном
func (s *VisitService) Create(ctx context.Context, p CreateVisitParams) (*model.Visit, error) {
	if err := validateCreate(p); err != nil {
		return nil, err
	}

	host, err := s.users.GetByID(ctx, p.HostID)
	if err != nil {
		return nil, fmt.Errorf("get host: %w", err)
	}
	if host == nil {
		return nil, notFoundErrorf("host %s", p.HostID)
	}

	status := model.VisitStatusPending
	if p.Status != nil {
		status = *p.Status
	}

	visit := &model.Visit{
		ID:           uuid.New(),
		Type:         p.Type,
		Status:       status,
		VisitorName:  strings.TrimSpace(p.VisitorName),
		VisitorRUT:   p.VisitorRUT,
		VisitorPhone: p.VisitorPhone,
		Reason:       p.Reason,
		MaxUses:      p.MaxUses,
		ValidFrom:    p.ValidFrom,
		ValidUntil:   p.ValidUntil,
		HostID:       host.ID,
		FamilyID:     host.FamilyID,
	}

	if p.Plate != nil {
		vehicle, err := s.findOrCreateVehicle(ctx, *p.Plate, p.VehicleBrand, p.VehicleModel, p.VehicleColor)
		if err != nil {
			return nil, err
		}
		visit.VehicleID = &vehicle.ID
		visit.Vehicle = vehicle
	}

	visit.AccessCredential, err = s.generateAccessCredential(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate access credential: %w", err)
	}

	if err := s.visits.Create(ctx, visit); err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}

	s.logger.Info("Visit created",
		zap.String("visit_id", visit.ID.String()),
		zap.String("type", string(visit.Type)),
		zap.String("status", string(visit.Status)),
		zap.String("host_id", visit.HostID.String()),
		zap.Time("valid_until", visit.ValidUntil),
	)

	s.publish(ctx, events.VisitCreated, events.VisitCreatedEvent{
		VisitID:    visit.ID,
		Type:       string(visit.Type),
		Status:     string(visit.Status),
		HostID:     visit.HostID,
		ValidFrom:  visit.ValidFrom,
		ValidUntil: visit.ValidUntil,
		CreatedAt:  s.now(),
	})

	return visit, nil
}

func validateCreate(p CreateVisitParams) error {
	if !p.Type.IsValid() {
		return validationErrorf("invalid visit type %q", p.Type)
	}
	if strings.TrimSpace(p.VisitorName) == "" {
		return validationErrorf("visitor name is required")
	}
	if p.HostID == uuid.Nil {
		return validationErrorf("host is required")
	}
	if !p.ValidFrom.Before(p.ValidUntil) {
		return validationErrorf("valid_from must be before valid_until")
	}
	if p.MaxUses != nil && *p.MaxUses < 1 {
		return validationErrorf("max_uses must be positive")
	}
	if p.Type == model.VisitTypeVehicular && (p.Plate == nil || model.NormalizePlate(*p.Plate) == "") {
		return validationErrorf("vehicular visit requires a plate")
	}
	if p.Status != nil {
		if _, err := model.ParseVisitStatus(string(*p.Status)); err != nil {
			return validationErrorf("%v", err)
		}
	}
	return nil
}

// GetByID получает визит
func (s *VisitService) GetByID(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	visit, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get visit: %w", err)
	}
	if visit == nil {
		return nil, notFoundErrorf("visit %s", id)
	}
	return visit, nil
}

// FindByQRCode точный поиск по QR-токену
func (s *VisitService) FindByQRCode(ctx context.Context, code string) (*model.Visit, error) {
	visit, err := s.visits.GetByAccessCredential(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("find visit by qr: %w", err)
	}
	if visit == nil {
		return nil, notFoundErrorf("visit with credential")
	}
	return visit, nil
}

// FindByPlate ищет визит по номеру среди допустимых к въезду прямо сейчас
func (s *VisitService) FindByPlate(ctx context.Context, plate string) (*model.Visit, error) {
	normalized := model.NormalizePlate(plate)
	if normalized == "" {
		return nil, validationErrorf("plate is required")
	}

	visit, err := s.visits.FindAdmissibleByPlate(ctx, normalized, s.now())
	if err != nil {
		return nil, fmt.Errorf("find visit by plate: %w", err)
	}
	if visit == nil {
		return nil, notFoundErrorf("admissible visit for plate %s", normalized)
	}
	return visit, nil
}

// ============ Переходы ============

// CheckIn регистрирует вход посетителя
func (s *VisitService) CheckIn(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	visit, err := s.transition(ctx, id, model.VisitEventCheckIn)
	if err != nil {
		return nil, err
	}

	s.notifyHost(ctx, visit, model.NotificationVisitCheckIn, model.PriorityNormal,
		"Tu visita ingresó",
		fmt.Sprintf("%s ingresó al condominio (%s).", visit.VisitorName, visit.UsageLabel()),
	)

	return visit, nil
}

// CheckOut регистрирует выход посетителя
func (s *VisitService) CheckOut(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	visit, err := s.transition(ctx, id, model.VisitEventCheckOut)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("%s salió del condominio. La visita quedó completada.", visit.VisitorName)
	if visit.Status == model.VisitStatusReady {
		message = fmt.Sprintf("%s salió del condominio y puede volver a ingresar (%s).", visit.VisitorName, visit.UsageLabel())
	}
	s.notifyHost(ctx, visit, model.NotificationVisitCheckOut, model.PriorityNormal, "Tu visita salió", message)

	return visit, nil
}

// Cancel отменяет неиспользованный визит
func (s *VisitService) Cancel(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	return s.transition(ctx, id, model.VisitEventCancel)
}

// statusEvents статусы, в которые UpdateStatus ведёт через таблицу переходов
var statusEvents = map[model.VisitStatus]model.VisitEvent{
	model.VisitStatusDenied:    model.VisitEventDeny,
	model.VisitStatusCancelled: model.VisitEventCancel,
}

// UpdateStatus узкий обход для сырого статуса (используется консьержем для denied).
// denied и cancelled проходят через таблицу переходов, остальные выставляются как есть.
func (s *VisitService) UpdateStatus(ctx context.Context, id uuid.UUID, raw string) (*model.Visit, error) {
	status, err := model.ParseVisitStatus(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return nil, validationErrorf("%v", err)
	}

	if event, ok := statusEvents[status]; ok {
		return s.transition(ctx, id, event)
	}

	var from model.VisitStatus
	visit, err := s.mutate(ctx, id, func(v *model.Visit) error {
		from = v.Status
		if v.Status == status {
			return errUnchanged
		}
		v.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != status {
		s.logger.Warn("Visit status overridden",
			zap.String("visit_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(status)),
		)
		s.publishTransition(ctx, visit, "override", from)
	}

	return visit, nil
}

// transition применяет событие таблицы переходов с перечитыванием при конфликте
func (s *VisitService) transition(ctx context.Context, id uuid.UUID, event model.VisitEvent) (*model.Visit, error) {
	var from model.VisitStatus
	visit, err := s.mutate(ctx, id, func(v *model.Visit) error {
		from = v.Status
		return transitionError(v.Apply(event, s.now()))
	})
	if err != nil {
		s.logger.Info("Visit transition rejected",
			zap.String("visit_id", id.String()),
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Visit transitioned",
		zap.String("visit_id", id.String()),
		zap.String("event", string(event)),
		zap.String("from", string(from)),
		zap.String("to", string(visit.Status)),
		zap.Int("used_count", visit.UsedCount),
	)
	s.publishTransition(ctx, visit, string(event), from)

	return visit, nil
}

// Reconcile закрывает визит с истёкшим окном (expired или completed).
// Единая точка решения для валидатора доступа и фоновой очистки.
// Возвращает актуальный визит и признак того, что статус изменился.
func (s *VisitService) Reconcile(ctx context.Context, id uuid.UUID) (*model.Visit, bool, error) {
	var from model.VisitStatus
	changed := false

	visit, err := s.mutate(ctx, id, func(v *model.Visit) error {
		from = v.Status
		changed = v.Reconcile(s.now())
		if !changed {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return visit, false, nil
	}

	s.logger.Info("Visit closed by expiry",
		zap.String("visit_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(visit.Status)),
	)
	s.publishTransition(ctx, visit, string(model.VisitEventExpire), from)

	if visit.Status == model.VisitStatusCompleted {
		s.notifyHost(ctx, visit, model.NotificationVisitExpired, model.PriorityNormal,
			"Visita finalizada",
			fmt.Sprintf("La visita de %s terminó su periodo de validez y quedó completada.", visit.VisitorName),
		)
	} else {
		s.notifyHost(ctx, visit, model.NotificationVisitExpired, model.PriorityNormal,
			"Visita expirada",
			fmt.Sprintf("La visita de %s expiró sin ser utilizada.", visit.VisitorName),
		)
	}

	return visit, true, nil
}

// ============ Обновление ============

// Update частично обновляет визит. Смена хоста пересчитывает семью,
// номер машины привязывает (или создаёт) машину.
func (s *VisitService) Update(ctx context.Context, id uuid.UUID, patch VisitPatch) (*model.Visit, error) {
	if patch.VisitorName != nil && strings.TrimSpace(*patch.VisitorName) == "" {
		return nil, validationErrorf("visitor name cannot be empty")
	}
	if patch.MaxUses != nil && *patch.MaxUses < 1 {
		return nil, validationErrorf("max_uses must be positive")
	}

	var host *model.User
	if patch.HostID != nil {
		var err error
		if host, err = s.resolveHost(ctx, *patch.HostID); err != nil {
			return nil, err
		}
	}

	var vehicle *model.Vehicle
	if patch.Plate != nil {
		var err error
		vehicle, err = s.findOrCreateVehicle(ctx, *patch.Plate, patch.VehicleBrand, patch.VehicleModel, patch.VehicleColor)
		if err != nil {
			return nil, err
		}
	}

	var oldHost uuid.UUID
	visit, err := s.mutate(ctx, id, func(v *model.Visit) error {
		oldHost = v.HostID
		if patch.VisitorName != nil {
			v.VisitorName = strings.TrimSpace(*patch.VisitorName)
		}
		if patch.VisitorRUT != nil {
			v.VisitorRUT = patch.VisitorRUT
		}
		if patch.VisitorPhone != nil {
			v.VisitorPhone = patch.VisitorPhone
		}
		if patch.Reason != nil {
			v.Reason = patch.Reason
		}
		if patch.ValidFrom != nil {
			v.ValidFrom = *patch.ValidFrom
		}
		if patch.ValidUntil != nil {
			v.ValidUntil = *patch.ValidUntil
		}
		if !v.ValidFrom.Before(v.ValidUntil) {
			return validationErrorf("valid_from must be before valid_until")
		}
		if patch.MaxUses != nil {
			if *patch.MaxUses < v.UsedCount {
				return validationErrorf("max_uses %d is below used count %d", *patch.MaxUses, v.UsedCount)
			}
			v.MaxUses = patch.MaxUses
		}
		if host != nil {
			assignHost(v, host)
		}
		if vehicle != nil {
			v.VehicleID = &vehicle.ID
			v.Type = model.VisitTypeVehicular
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if vehicle != nil {
		visit.Vehicle = vehicle
	}

	s.logger.Info("Visit updated", zap.String("visit_id", id.String()))
	if host != nil && oldHost != host.ID {
		s.publish(ctx, events.VisitHostChanged, events.VisitHostChangedEvent{
			VisitID: visit.ID, OldHostID: oldHost, NewHostID: host.ID, At: s.now(),
		})
	}

	return visit, nil
}

// SetHost переназначает хоста визита (вторая фаза provisional host).
// Вызывается только после того, как статус визита уже сохранён.
func (s *VisitService) SetHost(ctx context.Context, id, hostID uuid.UUID) (*model.Visit, error) {
	return s.Update(ctx, id, VisitPatch{HostID: &hostID})
}

// assignHost хост и семья меняются только вместе
func assignHost(v *model.Visit, host *model.User) {
	v.HostID = host.ID
	v.FamilyID = host.FamilyID
}

func (s *VisitService) resolveHost(ctx context.Context, hostID uuid.UUID) (*model.User, error) {
	host, err := s.users.GetByID(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("get host: %w", err)
	}
	if host == nil {
		return nil, notFoundErrorf("host %s", hostID)
	}
	return host, nil
}

func (s *VisitService) findOrCreateVehicle(ctx context.Context, plate string, brand, vmodel, color *string) (*model.Vehicle, error) {
	normalized := model.NormalizePlate(plate)
	if normalized == "" {
		return nil, validationErrorf("plate cannot be empty")
	}

	vehicle, err := s.vehicles.FindByPlate(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("find vehicle: %w", err)
	}
	if vehicle != nil {
		return vehicle, nil
	}

	vehicle = &model.Vehicle{Plate: normalized, Brand: brand, Model: vmodel, Color: color}
	if err := s.vehicles.Create(ctx, vehicle); err != nil {
		return nil, fmt.Errorf("create vehicle: %w", err)
	}

	s.logger.Info("Vehicle registered", zap.String("plate", normalized))
	return vehicle, nil
}

// mutate загружает визит, применяет fn и сохраняет с проверкой версии.
// При конфликте версий перечитывает визит и повторяет fn.
func (s *VisitService) mutate(ctx context.Context, id uuid.UUID, fn func(v *model.Visit) error) (*model.Visit, error) {
	for attempt := 1; ; attempt++ {
		visit, err := s.visits.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get visit: %w", err)
		}
		if visit == nil {
			return nil, notFoundErrorf("visit %s", id)
		}

		if err := fn(visit); err != nil {
			if errors.Is(err, errUnchanged) {
				return visit, nil
			}
			return nil, err
		}

		err = s.visits.Update(ctx, visit)
		if err == nil {
			return visit, nil
		}
		if !errors.Is(err, base.ErrVersionConflict) {
			return nil, fmt.Errorf("save visit: %w", err)
		}
		if attempt >= maxWriteAttempts {
			return nil, conflictErrorf("visit %s modified concurrently", id)
		}

		s.logger.Debug("Visit version conflict, retrying",
			zap.String("visit_id", id.String()),
			zap.Int("attempt", attempt),
		)
	}
}

// ============ Побочные эффекты (best-effort) ============

func (s *VisitService) notifyHost(ctx context.Context, v *model.Visit, typ model.NotificationType, priority model.NotificationPriority, title, message string) {
	visitID := v.ID
	n := &model.Notification{
		UserID:   v.HostID,
		Type:     typ,
		Priority: priority,
		Title:    title,
		Message:  message,
		VisitID:  &visitID,
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		// Не возвращаем ошибку: переход уже сохранён
		s.logger.Warn("Failed to notify host",
			zap.String("visit_id", v.ID.String()),
			zap.String("host_id", v.HostID.String()),
			zap.String("type", string(typ)),
			zap.Error(deliveryError("notification", err)),
		)
	}
}

func (s *VisitService) publishTransition(ctx context.Context, v *model.Visit, event string, from model.VisitStatus) {
	s.publish(ctx, events.VisitTransitioned, events.VisitTransitionedEvent{
		VisitID:   v.ID,
		Event:     event,
		From:      string(from),
		To:        string(v.Status),
		UsedCount: v.UsedCount,
		At:        s.now(),
	})
}

func (s *VisitService) publish(ctx context.Context, subject string, payload interface{}) {
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(deliveryError("event bus", err)),
		)
	}
}

// generateAccessCredential генерирует уникальный QR-токен
func (s *VisitService) generateAccessCredential(ctx context.Context) (string, error) {
	const maxAttempts = 10

	for i := 0; i < maxAttempts; i++ {
		bytes := make([]byte, 15)
		if _, err := rand.Read(bytes); err != nil {
			return "", fmt.Errorf("generate random bytes: %w", err)
		}

		// 15 байт дают ровно 24 символа base32 без padding
		code := base32.StdEncoding.EncodeToString(bytes)

		exists, err := s.visits.CredentialExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check credential exists: %w", err)
		}

		if !exists {
			return code, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique credential after %d attempts", maxAttempts)
}
