package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Инструменты голосового агента
const (
	ToolSaveVisitorData = "guardar_datos_visitante"
	ToolFindResident    = "buscar_residente"
	ToolNotifyResident  = "notificar_residente"
)

// ToolResult ответ агенту. Ошибка инструмента не является ошибкой вызова.
type ToolResult struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// sessionPatch изменение сессии по итогам инструмента. Может применяться
// повторно к перечитанной сессии, поэтому без побочных эффектов.
type sessionPatch func(sess *model.ApprovalSession) error

// toolOutcome итог инструмента: данные для агента, patch сессии и действия,
// которые выполняются только после сохранения patch
type toolOutcome struct {
	data        interface{}
	patch       sessionPatch
	afterCommit func(ctx context.Context)
}

type toolHandler func(ctx context.Context, sess *model.ApprovalSession, params json.RawMessage) (toolOutcome, error)

func (s *ApprovalService) tools() map[string]toolHandler {
	return map[string]toolHandler{
		ToolSaveVisitorData: s.saveVisitorData,
		ToolFindResident:    s.findResident,
		ToolNotifyResident:  s.notifyResident,
	}
}

// ExecuteTool выполняет вызов инструмента агентом. Любой вызов, успешный
// или нет, попадает в журнал сессии.
// Ошибки таксономии возвращаются как ToolResult с Success=false,
// Go-ошибка только при сбое хранилища.
func (s *ApprovalService) ExecuteTool(ctx context.Context, id uuid.UUID, name string, params json.RawMessage) (*ToolResult, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	session, activity, err := s.checkActive(ctx, id)
	if err != nil {
		return nil, err
	}

	handler, known := s.tools()[name]

	var (
		outcome toolOutcome
		toolErr error
	)
	switch {
	case !activity.Active && activity.Reason != reasonResponded:
		toolErr = conflictErrorf("session %s is not active: %s", id, activity.Reason)
	case !known:
		toolErr = validationErrorf("unknown tool %q", name)
	default:
		outcome, toolErr = handler(ctx, session, params)
	}

	call := model.ToolCall{
		Name:      name,
		Params:    params,
		Success:   toolErr == nil,
		Timestamp: s.now(),
	}
	if toolErr != nil {
		call.Error = toolErr.Error()
	} else if outcome.data != nil {
		if raw, err := json.Marshal(outcome.data); err == nil {
			call.Result = raw
		}
	}

	_, err = s.mutateSession(ctx, id, func(sess *model.ApprovalSession) error {
		if toolErr == nil && outcome.patch != nil {
			if err := outcome.patch(sess); err != nil {
				return err
			}
		}
		sess.ToolCalls = append(sess.ToolCalls, call)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record tool call: %w", err)
	}

	fields := []zap.Field{
		zap.String("session_id", id.String()),
		zap.String("tool", name),
		zap.Bool("success", call.Success),
	}
	if toolErr != nil {
		fields = append(fields, zap.Error(toolErr))
	}
	s.logger.Info("Tool executed", fields...)

	if toolErr != nil {
		if !errors.Is(toolErr, ErrValidation) && !errors.Is(toolErr, ErrNotFound) && !errors.Is(toolErr, ErrStateConflict) {
			return nil, toolErr
		}
		return &ToolResult{Success: false, Error: toolErr.Error()}, nil
	}

	// Сессия уже ссылается на результат инструмента
	if outcome.afterCommit != nil {
		outcome.afterCommit(ctx)
	}

	return &ToolResult{Success: true, Data: outcome.data}, nil
}

// ============ guardar_datos_visitante ============

type visitorDataParams struct {
	VisitorName  *string `json:"visitorName"`
	VisitorRUT   *string `json:"visitorRut"`
	VisitorPhone *string `json:"visitorPhone"`
	VehiclePlate *string `json:"vehiclePlate"`
	Reason       *string `json:"reason"`
	Destination  *string `json:"destination"`
}

func (s *ApprovalService) saveVisitorData(_ context.Context, sess *model.ApprovalSession, params json.RawMessage) (toolOutcome, error) {
	var p visitorDataParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolOutcome{}, validationErrorf("invalid params: %v", err)
	}

	fields := []struct {
		src *string
		dst func(v *model.VisitorData) **string
	}{
		{p.VisitorName, func(v *model.VisitorData) **string { return &v.Name }},
		{p.VisitorRUT, func(v *model.VisitorData) **string { return &v.RUT }},
		{p.VisitorPhone, func(v *model.VisitorData) **string { return &v.Phone }},
		{p.VehiclePlate, func(v *model.VisitorData) **string { return &v.Plate }},
		{p.Reason, func(v *model.VisitorData) **string { return &v.Reason }},
		{p.Destination, func(v *model.VisitorData) **string { return &v.Destination }},
	}

	provided := 0
	for _, f := range fields {
		if trimmed(f.src) != nil {
			provided++
		}
	}
	if provided == 0 {
		return toolOutcome{}, validationErrorf("no visitor fields provided")
	}

	merge := func(v *model.VisitorData) {
		for _, f := range fields {
			if val := trimmed(f.src); val != nil {
				*f.dst(v) = val
			}
		}
	}

	preview := sess.Visitor
	merge(&preview)

	patch := func(sess *model.ApprovalSession) error {
		merge(&sess.Visitor)
		return nil
	}
	return toolOutcome{data: preview, patch: patch}, nil
}

// ============ buscar_residente ============

type findResidentParams struct {
	Department string `json:"department"`
}

type residentInfo struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type findResidentData struct {
	Found      bool           `json:"found"`
	Family     string         `json:"family,omitempty"`
	Department string         `json:"department,omitempty"`
	Residents  []residentInfo `json:"residents,omitempty"`
	Message    string         `json:"message,omitempty"`
}

func (s *ApprovalService) findResident(ctx context.Context, sess *model.ApprovalSession, params json.RawMessage) (toolOutcome, error) {
	var p findResidentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolOutcome{}, validationErrorf("invalid params: %v", err)
	}

	unit := strings.TrimSpace(p.Department)
	if unit == "" && sess.Visitor.Destination != nil {
		unit = *sess.Visitor.Destination
	}
	if unit == "" {
		return toolOutcome{}, validationErrorf("department is required")
	}

	family, err := s.families.FindByDepartment(ctx, unit)
	if err != nil {
		return toolOutcome{}, fmt.Errorf("find family: %w", err)
	}

	patch := func(sess *model.ApprovalSession) error {
		if sess.Visitor.Destination == nil {
			dest := unit
			sess.Visitor.Destination = &dest
		}
		return nil
	}

	if family == nil || !family.IsActive {
		return toolOutcome{
			data: findResidentData{
				Found:   false,
				Message: fmt.Sprintf("No se encontró una familia activa en el departamento %s", unit),
			},
			patch: patch,
		}, nil
	}

	data := findResidentData{Found: true, Family: family.Name, Department: family.Department}
	for _, member := range family.Members {
		if !member.IsActive {
			continue
		}
		data.Residents = append(data.Residents, residentInfo{ID: member.ID, Name: member.FullName()})
	}
	if len(data.Residents) == 0 {
		data.Found = false
		data.Message = fmt.Sprintf("La familia %s no tiene residentes activos", family.Name)
	}

	return toolOutcome{data: data, patch: patch}, nil
}

// ============ notificar_residente ============

type notifyResidentParams struct {
	ResidentIDs []string `json:"residentIds"`
}

type notifyResidentData struct {
	VisitID   uuid.UUID      `json:"visit_id"`
	Notified  []residentInfo `json:"notified"`
	ExpiresIn string         `json:"expires_in"`
}

func (s *ApprovalService) notifyResident(ctx context.Context, sess *model.ApprovalSession, params json.RawMessage) (toolOutcome, error) {
	var p notifyResidentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolOutcome{}, validationErrorf("invalid params: %v", err)
	}
	if len(p.ResidentIDs) == 0 {
		return toolOutcome{}, validationErrorf("at least one resident id is required")
	}
	if sess.Visitor.Name == nil || sess.Visitor.Destination == nil {
		return toolOutcome{}, validationErrorf("visitor name and destination must be collected first")
	}
	if sess.CreatedVisitID != nil {
		return toolOutcome{}, conflictErrorf("residents already notified for visit %s", *sess.CreatedVisitID)
	}

	residents, err := s.resolveResidents(ctx, p.ResidentIDs)
	if err != nil {
		return toolOutcome{}, err
	}
	if len(residents) == 0 {
		return toolOutcome{}, notFoundErrorf("none of the residents could be resolved")
	}

	// Первый найденный резидент становится временным хостом
	now := s.now()
	visitType := model.VisitTypePedestrian
	if sess.Visitor.Plate != nil && model.NormalizePlate(*sess.Visitor.Plate) != "" {
		visitType = model.VisitTypeVehicular
	}
	maxUses := 1
	visit, err := s.visits.Create(ctx, CreateVisitParams{
		Type:         visitType,
		VisitorName:  *sess.Visitor.Name,
		VisitorRUT:   sess.Visitor.RUT,
		VisitorPhone: sess.Visitor.Phone,
		Reason:       sess.Visitor.Reason,
		ValidFrom:    now,
		ValidUntil:   now.Add(s.cfg.VisitValidity),
		HostID:       residents[0].ID,
		MaxUses:      &maxUses,
		Plate:        sess.Visitor.Plate,
	})
	if err != nil {
		return toolOutcome{}, fmt.Errorf("create visit: %w", err)
	}

	notified := make([]model.NotifiedResident, 0, len(residents))
	data := notifyResidentData{VisitID: visit.ID, ExpiresIn: s.cfg.NotificationTTL.String()}
	for _, r := range residents {
		notified = append(notified, model.NotifiedResident{ID: r.ID, Name: r.FullName()})
		data.Notified = append(data.Notified, residentInfo{ID: r.ID, Name: r.FullName()})
	}

	visitID := visit.ID
	patch := func(sess *model.ApprovalSession) error {
		if sess.CreatedVisitID != nil && *sess.CreatedVisitID != visitID {
			s.logger.Warn("Concurrent resident notification, visit left to expire",
				zap.String("session_id", sess.ID.String()),
				zap.String("visit_id", visitID.String()),
			)
			return conflictErrorf("residents already notified for visit %s", *sess.CreatedVisitID)
		}
		sess.ResidentsNotified = notified
		sess.CreatedVisitID = &visitID
		return nil
	}

	// Резидент может ответить, пока рассылка ещё идёт: к этому моменту
	// сессия уже должна ссылаться на визит
	fanOut := func(ctx context.Context) {
		for _, r := range residents {
			s.sendArrivalRequest(ctx, sess, visit, r, now)
		}
	}

	return toolOutcome{data: data, patch: patch, afterCommit: fanOut}, nil
}

// resolveResidents загружает резидентов в порядке запроса, пропуская ненайденных
func (s *ApprovalService) resolveResidents(ctx context.Context, raw []string) ([]*model.User, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(strings.TrimSpace(r))
		if err != nil {
			s.logger.Debug("Skipping invalid resident id", zap.String("resident_id", r))
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get residents: %w", err)
	}

	byID := make(map[uuid.UUID]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	ordered := make([]*model.User, 0, len(users))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok && !seen[id] {
			ordered = append(ordered, u)
			seen[id] = true
		}
	}
	return ordered, nil
}

func (s *ApprovalService) sendArrivalRequest(ctx context.Context, sess *model.ApprovalSession, visit *model.Visit, resident *model.User, now time.Time) {
	sessionID := sess.ID
	visitID := visit.ID
	expiresAt := now.Add(s.cfg.NotificationTTL)

	message := fmt.Sprintf("%s está en portería", visit.VisitorName)
	if sess.Visitor.Reason != nil {
		message += fmt.Sprintf(" (%s)", *sess.Visitor.Reason)
	}
	if sess.Visitor.Plate != nil {
		message += fmt.Sprintf(", patente %s", model.NormalizePlate(*sess.Visitor.Plate))
	}
	message += ". ¿Autorizas el ingreso?"

	err := s.notifier.Notify(ctx, &model.Notification{
		UserID:    resident.ID,
		Type:      model.NotificationVisitorArrival,
		Priority:  model.PriorityUrgent,
		Title:     "Visita en portería",
		Message:   message,
		VisitID:   &visitID,
		SessionID: &sessionID,
		ExpiresAt: &expiresAt,
	})
	if err != nil {
		s.logger.Warn("Failed to notify resident",
			zap.String("session_id", sessionID.String()),
			zap.String("resident_id", resident.ID.String()),
			zap.Error(deliveryError("notification", err)),
		)
	}
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
