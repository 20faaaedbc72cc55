package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"go.uber.org/zap"
)

// Окно напоминания "скоро истекает": (now+from, now+to]
const (
	expiringSoonFrom = 60 * time.Minute
	expiringSoonTo   = 120 * time.Minute
)

// SweepService фоновая сверка визитов и сессий со временем
type SweepService struct {
	visits    VisitStore
	lifecycle *VisitService
	sessions  *ApprovalService
	notifier  Notifier
	logger    *zap.Logger
}

func NewSweepService(visits VisitStore, lifecycle *VisitService, sessions *ApprovalService, notifier Notifier, logger *zap.Logger) *SweepService {
	return &SweepService{
		visits:    visits,
		lifecycle: lifecycle,
		sessions:  sessions,
		notifier:  notifier,
		logger:    logger,
	}
}

// JobResult итог одного задания очистки
type JobResult struct {
	Processed int    `json:"processed"`
	Error     string `json:"error,omitempty"`
}

// SweepReport итог RunAllCleanups по заданиям
type SweepReport struct {
	ExpiredVisits   JobResult `json:"expired_visits"`
	ExpiringSoon    JobResult `json:"expiring_soon"`
	TimedOutSession JobResult `json:"timed_out_sessions"`
}

// Failed хотя бы одно задание завершилось ошибкой
func (r *SweepReport) Failed() bool {
	return r.ExpiredVisits.Error != "" || r.ExpiringSoon.Error != "" || r.TimedOutSession.Error != ""
}

// ExpireVisits закрывает визиты с истёкшим окном. Визиты в статусе active
// (посетитель внутри) сюда не попадают.
func (s *SweepService) ExpireVisits(ctx context.Context) (int, error) {
	now := s.lifecycle.now()

	candidates, err := s.visits.ListExpiredCandidates(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired visits: %w", err)
	}

	closed := 0
	for _, v := range candidates {
		if err := ctx.Err(); err != nil {
			return closed, err
		}

		_, changed, err := s.lifecycle.Reconcile(ctx, v.ID)
		if err != nil {
			s.logger.Error("Failed to expire visit", zap.String("visit_id", v.ID.String()), zap.Error(err))
			continue
		}
		if changed {
			closed++
		}
	}

	if closed > 0 {
		s.logger.Info("Expired visits closed", zap.Int("count", closed), zap.Int("candidates", len(candidates)))
	}
	return closed, nil
}

// NotifyExpiringSoonVisits напоминает хостам о визитах, истекающих через 1-2 часа.
// Флага "уже напомнили" нет: при сбитом расписании напоминание может повториться.
func (s *SweepService) NotifyExpiringSoonVisits(ctx context.Context) (int, error) {
	now := s.lifecycle.now()

	visits, err := s.visits.ListExpiringBetween(ctx, now.Add(expiringSoonFrom), now.Add(expiringSoonTo))
	if err != nil {
		return 0, fmt.Errorf("list expiring visits: %w", err)
	}

	sent := 0
	for _, v := range visits {
		visitID := v.ID
		left := v.ValidUntil.Sub(now).Round(time.Minute)

		err := s.notifier.Notify(ctx, &model.Notification{
			UserID:   v.HostID,
			Type:     model.NotificationVisitExpiring,
			Priority: model.PriorityNormal,
			Title:    "Visita por expirar",
			Message:  fmt.Sprintf("La visita de %s expira en %s.", v.VisitorName, formatDuration(left)),
			VisitID:  &visitID,
		})
		if err != nil {
			s.logger.Warn("Failed to send expiring reminder",
				zap.String("visit_id", v.ID.String()),
				zap.Error(deliveryError("notification", err)),
			)
			continue
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("Expiring visit reminders sent", zap.Int("count", sent))
	}
	return sent, nil
}

// ExpireStaleSessions переводит брошенные сессии консьержа в timeout
func (s *SweepService) ExpireStaleSessions(ctx context.Context) (int, error) {
	return s.sessions.ExpireStaleSessions(ctx)
}

// RunAllCleanups синхронно запускает все задания. Ошибка одного задания
// не мешает остальным.
func (s *SweepService) RunAllCleanups(ctx context.Context) *SweepReport {
	report := &SweepReport{}

	report.ExpiredVisits = s.runJob(ctx, "expire_visits", s.ExpireVisits)
	report.ExpiringSoon = s.runJob(ctx, "expiring_soon", s.NotifyExpiringSoonVisits)
	report.TimedOutSession = s.runJob(ctx, "expire_sessions", s.ExpireStaleSessions)

	return report
}

func (s *SweepService) runJob(ctx context.Context, name string, job func(context.Context) (int, error)) (result JobResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Cleanup job panicked", zap.String("job", name), zap.Any("panic", r))
			result.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	n, err := job(ctx)
	result.Processed = n
	if err != nil {
		s.logger.Error("Cleanup job failed", zap.String("job", name), zap.Error(err))
		result.Error = err.Error()
	}
	return result
}

// formatDuration "1 h 30 min" для уведомлений
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%d h %d min", h, m)
	case h > 0:
		return fmt.Sprintf("%d h", h)
	default:
		return fmt.Sprintf("%d min", m)
	}
}
