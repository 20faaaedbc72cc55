package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/events"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ApprovalConfig тайминги сессии консьержа
type ApprovalConfig struct {
	SessionTimeout  time.Duration // абсолютный таймаут сессии
	VisitValidity   time.Duration // окно визита, созданного консьержем
	NotificationTTL time.Duration // срок жизни запроса резиденту
}

func DefaultApprovalConfig() ApprovalConfig {
	return ApprovalConfig{
		SessionTimeout:  15 * time.Minute,
		VisitValidity:   24 * time.Hour,
		NotificationTTL: 15 * time.Minute,
	}
}

// ApprovalDeps коллабораторы ApprovalService
type ApprovalDeps struct {
	Sessions      SessionStore
	Visits        *VisitService
	Users         ResidentDirectory
	Families      FamilyDirectory
	Notifier      Notifier
	Notifications NotificationStore
	Broadcaster   Broadcaster
	Gate          GateCommander
	Credentials   CredentialSender
	Agent         AgentCredentialIssuer
	Events        events.Publisher
}

// ApprovalService ведёт сессию консьержа: сбор данных посетителя агентом,
// запрос резидентам и финализацию визита по первому ответу.
type ApprovalService struct {
	sessions      SessionStore
	visits        *VisitService
	users         ResidentDirectory
	families      FamilyDirectory
	notifier      Notifier
	notifications NotificationStore
	broadcaster   Broadcaster
	gate          GateCommander
	credentials   CredentialSender
	agent         AgentCredentialIssuer
	events        events.Publisher
	cfg           ApprovalConfig
	logger        *zap.Logger
	now           func() time.Time

	// фоновые отправки SMS
	wg sync.WaitGroup
}

func NewApprovalService(deps ApprovalDeps, cfg ApprovalConfig, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		sessions:      deps.Sessions,
		visits:        deps.Visits,
		users:         deps.Users,
		families:      deps.Families,
		notifier:      deps.Notifier,
		notifications: deps.Notifications,
		broadcaster:   deps.Broadcaster,
		gate:          deps.Gate,
		credentials:   deps.Credentials,
		agent:         deps.Agent,
		events:        deps.Events,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock подменяет часы (для тестов)
func (s *ApprovalService) WithClock(now func() time.Time) *ApprovalService {
	s.now = now
	return s
}

// StartedSession ответ startSession для голосового агента
type StartedSession struct {
	SessionID  uuid.UUID `json:"session_id"`
	Credential string    `json:"ephemeral_credential"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionActivity результат проверки активности сессии
type SessionActivity struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

const (
	reasonResponded = "resident already responded"
	reasonTimeout   = "session timed out"
)

// RespondResult итог ответа резидента
type RespondResult struct {
	Session *model.ApprovalSession `json:"session"`
	Visit   *model.Visit           `json:"visit"`
}

// SessionDecision сообщение в real-time канал сессии
type SessionDecision struct {
	Type       string     `json:"type"`
	SessionID  uuid.UUID  `json:"session_id"`
	Approved   bool       `json:"approved"`
	VisitID    uuid.UUID  `json:"visit_id"`
	VisitState string     `json:"visit_status"`
	ResidentID *uuid.UUID `json:"resident_id,omitempty"`
	At         time.Time  `json:"at"`
}

// SessionClosed сообщение о завершении сессии
type SessionClosed struct {
	Type      string    `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// ============ Жизненный цикл сессии ============

// StartSession выдаёт агенту токен и открывает сессию
func (s *ApprovalService) StartSession(ctx context.Context) (*StartedSession, error) {
	session := &model.ApprovalSession{
		ID:                uuid.New(),
		Status:            model.SessionStatusActive,
		ResidentResponse:  model.ResponsePending,
		ResidentsNotified: []model.NotifiedResident{},
		ToolCalls:         []model.ToolCall{},
		StartTime:         s.now(),
	}

	token, expiresAt, err := s.agent.Issue(session.ID)
	if err != nil {
		return nil, fmt.Errorf("issue agent credential: %w", err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("Approval session started",
		zap.String("session_id", session.ID.String()),
		zap.Time("credential_expires_at", expiresAt),
	)
	s.publishLifecycle(ctx, events.SessionStarted, session)

	return &StartedSession{SessionID: session.ID, Credential: token, ExpiresAt: expiresAt}, nil
}

// GetSession получает сессию
func (s *ApprovalService) GetSession(ctx context.Context, id uuid.UUID) (*model.ApprovalSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, notFoundErrorf("session %s", id)
	}
	return session, nil
}

// IsSessionActive проверяет, что сессия может принять ответ резидента.
// Просроченная сессия при этом переводится в timeout.
func (s *ApprovalService) IsSessionActive(ctx context.Context, id uuid.UUID) (*SessionActivity, error) {
	_, activity, err := s.checkActive(ctx, id)
	return activity, err
}

func (s *ApprovalService) checkActive(ctx context.Context, id uuid.UUID) (*model.ApprovalSession, *SessionActivity, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if session.Status != model.SessionStatusActive {
		return session, &SessionActivity{Reason: fmt.Sprintf("session is %s", session.Status)}, nil
	}
	if !session.IsPending() {
		return session, &SessionActivity{Reason: reasonResponded}, nil
	}
	if s.now().Before(session.Deadline(s.cfg.SessionTimeout)) {
		return session, &SessionActivity{Active: true}, nil
	}

	session, err = s.timeoutSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return session, &SessionActivity{Reason: reasonTimeout}, nil
}

// timeoutSession переводит просроченную сессию в timeout
func (s *ApprovalService) timeoutSession(ctx context.Context, id uuid.UUID) (*model.ApprovalSession, error) {
	changed := false
	session, err := s.mutateSession(ctx, id, func(sess *model.ApprovalSession) error {
		changed = false
		if sess.Status != model.SessionStatusActive || !sess.IsPending() {
			return errUnchanged
		}
		if s.now().Before(sess.Deadline(s.cfg.SessionTimeout)) {
			return errUnchanged
		}
		end := s.now()
		sess.Status = model.SessionStatusTimeout
		sess.EndTime = &end
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return session, nil
	}

	s.logger.Info("Approval session timed out",
		zap.String("session_id", id.String()),
		zap.Time("started_at", session.StartTime),
	)
	s.expireNotifications(ctx, id)
	s.broadcast(ctx, id, SessionClosed{
		Type: "session_closed", SessionID: id, Status: string(session.Status), At: s.now(),
	})
	s.publishLifecycle(ctx, events.SessionEnded, session)

	return session, nil
}

// EndSession закрывает сессию (по умолчанию completed)
func (s *ApprovalService) EndSession(ctx context.Context, id uuid.UUID, finalStatus *model.SessionStatus) (*model.ApprovalSession, error) {
	status := model.SessionStatusCompleted
	if finalStatus != nil {
		status = *finalStatus
	}
	if !status.IsValid() || status == model.SessionStatusActive {
		return nil, validationErrorf("invalid final session status %q", status)
	}

	changed := false
	session, err := s.mutateSession(ctx, id, func(sess *model.ApprovalSession) error {
		changed = false
		if sess.Status != model.SessionStatusActive {
			return errUnchanged
		}
		end := s.now()
		sess.Status = status
		sess.EndTime = &end
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		s.logger.Debug("Session already closed",
			zap.String("session_id", id.String()),
			zap.String("status", string(session.Status)),
		)
		return session, nil
	}

	s.logger.Info("Approval session ended",
		zap.String("session_id", id.String()),
		zap.String("status", string(session.Status)),
		zap.String("resident_response", string(session.ResidentResponse)),
	)

	// Резидент так и не ответил: запросы больше не актуальны
	if session.IsPending() {
		s.expireNotifications(ctx, id)
	}
	s.broadcast(ctx, id, SessionClosed{
		Type: "session_closed", SessionID: id, Status: string(session.Status), At: s.now(),
	})
	s.publishLifecycle(ctx, events.SessionEnded, session)

	return session, nil
}

// ExpireStaleSessions переводит в timeout активные сессии старше таймаута.
// Без неё брошенная сессия висела бы в active до следующего обращения.
func (s *ApprovalService) ExpireStaleSessions(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.SessionTimeout)

	stale, err := s.sessions.ListActiveStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}

	expired := 0
	for _, sess := range stale {
		if !sess.IsPending() {
			// Ответ получен, агент просто не закрыл сессию
			if _, err := s.EndSession(ctx, sess.ID, nil); err != nil {
				s.logger.Error("Failed to close answered session", zap.String("session_id", sess.ID.String()), zap.Error(err))
			}
			continue
		}

		updated, err := s.timeoutSession(ctx, sess.ID)
		if err != nil {
			s.logger.Error("Failed to time out session", zap.String("session_id", sess.ID.String()), zap.Error(err))
			continue
		}
		if updated.Status == model.SessionStatusTimeout {
			expired++
		}
	}

	return expired, nil
}

// ============ Ответ резидента ============

// RespondToVisitor применяет решение резидента к визиту сессии.
// Порядок: сначала статус визита (checkIn или denied), затем смена хоста.
func (s *ApprovalService) RespondToVisitor(ctx context.Context, id uuid.UUID, approved bool, residentID *uuid.UUID) (*RespondResult, error) {
	session, activity, err := s.checkActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !activity.Active {
		return nil, conflictErrorf("session %s is not active: %s", id, activity.Reason)
	}
	if len(session.ResidentsNotified) == 0 || session.CreatedVisitID == nil {
		return nil, conflictErrorf("session %s has no pending visit request", id)
	}
	visitID := *session.CreatedVisitID

	// Резидент, которого не уведомляли, не становится хостом
	var responder *uuid.UUID
	if residentID != nil && session.WasNotified(*residentID) {
		responder = residentID
	} else if residentID != nil {
		s.logger.Warn("Response from resident outside notified list",
			zap.String("session_id", id.String()),
			zap.String("resident_id", residentID.String()),
		)
	}

	// Фаза 1: авторитетный статус визита
	var visit *model.Visit
	if approved {
		visit, err = s.visits.CheckIn(ctx, visitID)
	} else {
		visit, err = s.visits.UpdateStatus(ctx, visitID, string(model.VisitStatusDenied))
	}
	if err != nil {
		return nil, fmt.Errorf("apply resident response: %w", err)
	}

	response := model.ResponseDenied
	if approved {
		response = model.ResponseApproved
	}
	session, err = s.mutateSession(ctx, id, func(sess *model.ApprovalSession) error {
		if !sess.IsPending() {
			return conflictErrorf("session %s already has response %s", id, sess.ResidentResponse)
		}
		sess.ResidentResponse = response
		sess.RespondedBy = responder
		if responder != nil {
			sess.MarkResponded(*responder)
		}
		return nil
	})
	if err != nil {
		// Визит уже переведён, а сессия осталась pending: консьерж и шина
		// всё равно узнают о решении
		s.logger.Error("Visit decided but session response not saved",
			zap.String("session_id", id.String()),
			zap.String("visit_id", visitID.String()),
			zap.Bool("approved", approved),
			zap.String("visit_status", string(visit.Status)),
			zap.Error(err),
		)
		s.announceDecision(ctx, id, visit, approved, responder)
		return nil, err
	}

	s.logger.Info("Resident responded to visitor",
		zap.String("session_id", id.String()),
		zap.String("visit_id", visitID.String()),
		zap.Bool("approved", approved),
		zap.String("visit_status", string(visit.Status)),
	)

	// Фаза 2: хост переходит к ответившему резиденту
	if responder != nil && *responder != visit.HostID {
		rehosted, err := s.visits.SetHost(ctx, visitID, *responder)
		if err != nil {
			s.logger.Error("Failed to reassign visit host",
				zap.String("visit_id", visitID.String()),
				zap.String("resident_id", responder.String()),
				zap.Error(err),
			)
		} else {
			visit = rehosted
		}
	}

	if approved {
		s.sendCredentialAsync(ctx, session, visit)
	}

	if n, err := s.notifications.MarkActionTaken(ctx, id); err != nil {
		s.logger.Warn("Failed to mark notifications actioned",
			zap.String("session_id", id.String()),
			zap.Error(deliveryError("notifications", err)),
		)
	} else {
		s.logger.Debug("Notifications actioned", zap.String("session_id", id.String()), zap.Int64("count", n))
	}

	if approved && visit.Type == model.VisitTypeVehicular {
		s.openGate(ctx, session, visit)
	}

	s.announceDecision(ctx, id, visit, approved, responder)

	return &RespondResult{Session: session, Visit: visit}, nil
}

// announceDecision рассылает решение подписчикам сессии и в шину событий
func (s *ApprovalService) announceDecision(ctx context.Context, id uuid.UUID, visit *model.Visit, approved bool, responder *uuid.UUID) {
	s.broadcast(ctx, id, SessionDecision{
		Type:       "resident_response",
		SessionID:  id,
		Approved:   approved,
		VisitID:    visit.ID,
		VisitState: string(visit.Status),
		ResidentID: responder,
		At:         s.now(),
	})

	if err := s.events.Publish(ctx, events.SessionResponded, events.SessionRespondedEvent{
		SessionID:  id,
		VisitID:    visit.ID,
		Approved:   approved,
		ResidentID: responder,
		At:         s.now(),
	}); err != nil {
		s.logger.Warn("Failed to publish event", zap.Error(deliveryError("event bus", err)))
	}
}

// sendCredentialAsync отправляет посетителю QR-доступ, не блокируя ответ
func (s *ApprovalService) sendCredentialAsync(ctx context.Context, session *model.ApprovalSession, visit *model.Visit) {
	phone := ""
	if session.Visitor.Phone != nil {
		phone = *session.Visitor.Phone
	} else if visit.VisitorPhone != nil {
		phone = *visit.VisitorPhone
	}
	if phone == "" {
		return
	}

	// Контекст запроса закончится раньше отправки
	sendCtx := context.WithoutCancel(ctx)
	snapshot := *visit

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.credentials.SendAccessCredential(sendCtx, phone, &snapshot); err != nil {
			s.logger.Warn("Failed to send access credential",
				zap.String("visit_id", snapshot.ID.String()),
				zap.Error(deliveryError("sms", err)),
			)
			return
		}
		s.logger.Info("Access credential sent", zap.String("visit_id", snapshot.ID.String()))
	}()
}

// Wait дожидается фоновых отправок (graceful shutdown, тесты)
func (s *ApprovalService) Wait() {
	s.wg.Wait()
}

func (s *ApprovalService) openGate(ctx context.Context, session *model.ApprovalSession, visit *model.Visit) {
	sessionID := session.ID
	cmd := events.GateCommand{
		VisitID:   visit.ID,
		SessionID: &sessionID,
		Reason:    "resident_approved",
		IssuedAt:  s.now(),
	}
	if session.Visitor.Plate != nil {
		cmd.Plate = model.NormalizePlate(*session.Visitor.Plate)
	}

	if err := s.gate.OpenGate(ctx, cmd); err != nil {
		s.logger.Error("Failed to open gate",
			zap.String("visit_id", visit.ID.String()),
			zap.Error(deliveryError("gate", err)),
		)
		return
	}
	s.logger.Info("Gate open command sent", zap.String("visit_id", visit.ID.String()), zap.String("plate", cmd.Plate))
}

// ============ Вспомогательное ============

// mutateSession загружает сессию, применяет fn и сохраняет с проверкой версии
func (s *ApprovalService) mutateSession(ctx context.Context, id uuid.UUID, fn func(sess *model.ApprovalSession) error) (*model.ApprovalSession, error) {
	for attempt := 1; ; attempt++ {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(session); err != nil {
			if errors.Is(err, errUnchanged) {
				return session, nil
			}
			return nil, err
		}

		err = s.sessions.Update(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, base.ErrVersionConflict) {
			return nil, fmt.Errorf("save session: %w", err)
		}
		if attempt >= maxWriteAttempts {
			return nil, conflictErrorf("session %s modified concurrently", id)
		}

		s.logger.Debug("Session version conflict, retrying",
			zap.String("session_id", id.String()),
			zap.Int("attempt", attempt),
		)
	}
}

func (s *ApprovalService) expireNotifications(ctx context.Context, sessionID uuid.UUID) {
	n, err := s.notifications.ExpireForSession(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to expire session notifications",
			zap.String("session_id", sessionID.String()),
			zap.Error(deliveryError("notifications", err)),
		)
		return
	}
	s.logger.Debug("Session notifications expired", zap.String("session_id", sessionID.String()), zap.Int64("count", n))
}

func (s *ApprovalService) broadcast(ctx context.Context, sessionID uuid.UUID, payload interface{}) {
	if err := s.broadcaster.Broadcast(ctx, SessionChannel(sessionID), payload); err != nil {
		s.logger.Warn("Failed to broadcast session update",
			zap.String("session_id", sessionID.String()),
			zap.Error(deliveryError("realtime", err)),
		)
	}
}

func (s *ApprovalService) publishLifecycle(ctx context.Context, subject string, session *model.ApprovalSession) {
	err := s.events.Publish(ctx, subject, events.SessionLifecycleEvent{
		SessionID: session.ID,
		Status:    string(session.Status),
		At:        s.now(),
	})
	if err != nil {
		s.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(deliveryError("event bus", err)))
	}
}
