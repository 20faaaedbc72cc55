package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusTimeout   SessionStatus = "timeout"
)

// IsValid проверяет финальный статус сессии
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusCancelled, SessionStatusTimeout:
		return true
	}
	return false
}

type ResidentResponse string

const (
	ResponsePending  ResidentResponse = "pending"
	ResponseApproved ResidentResponse = "approved"
	ResponseDenied   ResidentResponse = "denied"
)

// NotifiedResident резидент, которому ушёл запрос на одобрение
type NotifiedResident struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Responded bool      `json:"responded"`
}

// ToolCall запись журнала вызовов инструментов агентом
type ToolCall struct {
	Name      string          `json:"name"`
	Params    json.RawMessage `json:"params"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// VisitorData данные посетителя, собранные агентом
type VisitorData struct {
	Name        *string `json:"name,omitempty"`
	RUT         *string `json:"rut,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Plate       *string `json:"plate,omitempty"`
	Reason      *string `json:"reason,omitempty"`
	Destination *string `json:"destination,omitempty"`
}

// ApprovalSession сессия консьержа: сбор данных посетителя и ожидание ответа резидента
type ApprovalSession struct {
	ID                uuid.UUID          `json:"id"`
	Status            SessionStatus      `json:"status"`
	Visitor           VisitorData        `json:"visitor"`
	ResidentsNotified []NotifiedResident `json:"residents_notified"`
	ResidentResponse  ResidentResponse   `json:"resident_response"`
	RespondedBy       *uuid.UUID         `json:"responded_by,omitempty"`
	CreatedVisitID    *uuid.UUID         `json:"created_visit_id,omitempty"`
	ToolCalls         []ToolCall         `json:"tool_calls"`
	StartTime         time.Time          `json:"start_time"`
	EndTime           *time.Time         `json:"end_time,omitempty"`
	Version           int64              `json:"version"`
}

// IsPending ответ резидента ещё не получен
func (s *ApprovalSession) IsPending() bool {
	return s.ResidentResponse == ResponsePending
}

// Deadline абсолютный таймаут сессии
func (s *ApprovalSession) Deadline(timeout time.Duration) time.Time {
	return s.StartTime.Add(timeout)
}

// WasNotified резидент входит в список уведомлённых
func (s *ApprovalSession) WasNotified(residentID uuid.UUID) bool {
	for _, r := range s.ResidentsNotified {
		if r.ID == residentID {
			return true
		}
	}
	return false
}

// MarkResponded отмечает ответившего резидента
func (s *ApprovalSession) MarkResponded(residentID uuid.UUID) {
	for i := range s.ResidentsNotified {
		if s.ResidentsNotified[i].ID == residentID {
			s.ResidentsNotified[i].Responded = true
		}
	}
}
