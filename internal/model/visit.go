package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type VisitType string

const (
	VisitTypeVehicular  VisitType = "vehicular"
	VisitTypePedestrian VisitType = "pedestrian"
)

// IsValid проверяет тип визита
func (t VisitType) IsValid() bool {
	return t == VisitTypeVehicular || t == VisitTypePedestrian
}

type VisitStatus string

const (
	VisitStatusPending   VisitStatus = "pending"   // Создан, ещё не было входа
	VisitStatusActive    VisitStatus = "active"    // Посетитель внутри
	VisitStatusReady     VisitStatus = "ready"     // Вышел, может войти повторно
	VisitStatusCompleted VisitStatus = "completed" // Использован до конца
	VisitStatusCancelled VisitStatus = "cancelled" // Отменён до первого входа
	VisitStatusExpired   VisitStatus = "expired"   // Окно истекло без использования
	VisitStatusDenied    VisitStatus = "denied"    // Резидент отказал
)

// VisitStatuses полный словарь статусов в порядке жизненного цикла
var VisitStatuses = []VisitStatus{
	VisitStatusPending,
	VisitStatusActive,
	VisitStatusReady,
	VisitStatusCompleted,
	VisitStatusCancelled,
	VisitStatusExpired,
	VisitStatusDenied,
}

// ParseVisitStatus проверяет сырое значение статуса по словарю
func ParseVisitStatus(raw string) (VisitStatus, error) {
	for _, s := range VisitStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown visit status %q", raw)
}

// IsAdmissible статусы, по которым возможен вход
func (s VisitStatus) IsAdmissible() bool {
	return s == VisitStatusPending || s == VisitStatusActive || s == VisitStatusReady
}

// IsFinal статусы, из которых визит уже не выходит
func (s VisitStatus) IsFinal() bool {
	switch s {
	case VisitStatusCompleted, VisitStatusCancelled, VisitStatusExpired, VisitStatusDenied:
		return true
	}
	return false
}

// Visit разрешение на доступ посетителя, привязанное к резиденту-хосту
type Visit struct {
	ID               uuid.UUID   `json:"id"`
	Type             VisitType   `json:"type"`
	Status           VisitStatus `json:"status"`
	VisitorName      string      `json:"visitor_name"`
	VisitorRUT       *string     `json:"visitor_rut,omitempty"`
	VisitorPhone     *string     `json:"visitor_phone,omitempty"`
	Reason           *string     `json:"reason,omitempty"`
	AccessCredential string      `json:"access_credential"`
	MaxUses          *int        `json:"max_uses,omitempty"` // nil = без ограничений
	UsedCount        int         `json:"used_count"`
	ValidFrom        time.Time   `json:"valid_from"`
	ValidUntil       time.Time   `json:"valid_until"`
	EntryTime        *time.Time  `json:"entry_time,omitempty"`
	ExitTime         *time.Time  `json:"exit_time,omitempty"`
	HostID           uuid.UUID   `json:"host_id"`
	FamilyID         *uuid.UUID  `json:"family_id,omitempty"` // всегда производное от хоста
	VehicleID        *uuid.UUID  `json:"vehicle_id,omitempty"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`

	// Дополнительные поля для удобства (не из БД)
	Vehicle *Vehicle `json:"vehicle,omitempty"`
}

// IsUnlimited визит без лимита использований
func (v *Visit) IsUnlimited() bool {
	return v.MaxUses == nil
}

// QuotaExhausted лимит входов исчерпан
func (v *Visit) QuotaExhausted() bool {
	return v.MaxUses != nil && v.UsedCount >= *v.MaxUses
}

// InWindow now внутри [ValidFrom, ValidUntil]
func (v *Visit) InWindow(now time.Time) bool {
	return !now.Before(v.ValidFrom) && !now.After(v.ValidUntil)
}

// WasUsed был ли хотя бы один вход
func (v *Visit) WasUsed() bool {
	return v.UsedCount > 0 || v.Status == VisitStatusReady
}

// UsageLabel счётчик использований для уведомлений
func (v *Visit) UsageLabel() string {
	if v.MaxUses == nil {
		return fmt.Sprintf("uso %d (sin límite)", v.UsedCount)
	}
	return fmt.Sprintf("uso %d de %d", v.UsedCount, *v.MaxUses)
}

// ============ Машина состояний ============

type VisitEvent string

const (
	VisitEventCheckIn  VisitEvent = "check_in"
	VisitEventCheckOut VisitEvent = "check_out"
	VisitEventCancel   VisitEvent = "cancel"
	VisitEventExpire   VisitEvent = "expire"
	VisitEventDeny     VisitEvent = "deny"
)

var (
	ErrIllegalTransition = errors.New("illegal visit transition")
	ErrOutsideWindow     = errors.New("visit is outside its validity window")
	ErrQuotaExhausted    = errors.New("visit usage quota exhausted")
	ErrAlreadyUsed       = errors.New("visit has already been used")
	ErrNotExpired        = errors.New("visit validity window has not passed")
)

// transition guard + мутация для пары (статус, событие)
type transition func(v *Visit, now time.Time) error

// visitTransitions единственная таблица переходов визита.
// Пара, которой нет в таблице, недопустима.
var visitTransitions = map[VisitStatus]map[VisitEvent]transition{
	VisitStatusPending: {
		VisitEventCheckIn: checkIn,
		VisitEventCancel:  cancel,
		VisitEventExpire:  expire,
		VisitEventDeny:    deny,
	},
	VisitStatusReady: {
		VisitEventCheckIn: checkIn,
		VisitEventCancel:  cancel,
		VisitEventExpire:  expire,
	},
	VisitStatusActive: {
		VisitEventCheckOut: checkOut,
		VisitEventCancel:   cancel,
		VisitEventExpire:   expire,
	},
	// Отмена закрытого неиспользованного визита разрешена, completed отменить нельзя
	VisitStatusExpired: {
		VisitEventCancel: cancel,
	},
	VisitStatusDenied: {
		VisitEventCancel: cancel,
	},
	VisitStatusCancelled: {
		VisitEventCancel: cancel,
	},
}

// CanApply проверяет наличие перехода без выполнения guard
func (v *Visit) CanApply(event VisitEvent) bool {
	_, ok := visitTransitions[v.Status][event]
	return ok
}

// Apply выполняет переход. При ошибке визит не изменяется.
func (v *Visit) Apply(event VisitEvent, now time.Time) error {
	t, ok := visitTransitions[v.Status][event]
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, event, v.Status)
	}
	return t(v, now)
}

func checkIn(v *Visit, now time.Time) error {
	if !v.InWindow(now) {
		return ErrOutsideWindow
	}
	if v.QuotaExhausted() {
		return ErrQuotaExhausted
	}
	v.UsedCount++
	entry := now
	v.EntryTime = &entry
	v.ExitTime = nil
	v.Status = VisitStatusActive
	return nil
}

func checkOut(v *Visit, now time.Time) error {
	exit := now
	v.ExitTime = &exit
	if v.QuotaExhausted() {
		v.Status = VisitStatusCompleted
	} else {
		v.Status = VisitStatusReady
	}
	return nil
}

func cancel(v *Visit, _ time.Time) error {
	if v.UsedCount > 0 {
		return ErrAlreadyUsed
	}
	v.Status = VisitStatusCancelled
	return nil
}

func expire(v *Visit, now time.Time) error {
	if !now.After(v.ValidUntil) {
		return ErrNotExpired
	}
	if v.WasUsed() {
		v.Status = VisitStatusCompleted
	} else {
		v.Status = VisitStatusExpired
	}
	return nil
}

func deny(v *Visit, _ time.Time) error {
	v.Status = VisitStatusDenied
	return nil
}

// Reconcile закрывает визит с истёкшим окном.
// Возвращает true, если статус изменился.
func (v *Visit) Reconcile(now time.Time) bool {
	if !v.CanApply(VisitEventExpire) {
		return false
	}
	return v.Apply(VisitEventExpire, now) == nil
}
