package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `
	id, status, visitor, residents_notified, resident_response, responded_by,
	created_visit_id, tool_calls, start_time, end_time, version`

// SessionRepository хранит сессии консьержа. Данные посетителя, список
// уведомлённых резидентов и журнал вызовов лежат в jsonb.
type SessionRepository struct {
	*base.Repository
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{Repository: base.NewRepository(pool)}
}

func scanSession(row base.Scanner) (*model.ApprovalSession, error) {
	var (
		s                              model.ApprovalSession
		visitor, residents, toolCalls []byte
	)
	err := row.Scan(
		&s.ID,
		&s.Status,
		&visitor,
		&residents,
		&s.ResidentResponse,
		&s.RespondedBy,
		&s.CreatedVisitID,
		&toolCalls,
		&s.StartTime,
		&s.EndTime,
		&s.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(visitor, &s.Visitor); err != nil {
		return nil, fmt.Errorf("decode visitor: %w", err)
	}
	if err := json.Unmarshal(residents, &s.ResidentsNotified); err != nil {
		return nil, fmt.Errorf("decode residents: %w", err)
	}
	if err := json.Unmarshal(toolCalls, &s.ToolCalls); err != nil {
		return nil, fmt.Errorf("decode tool calls: %w", err)
	}

	return &s, nil
}

type sessionPayload struct {
	visitor, residents, toolCalls []byte
}

func encodeSession(s *model.ApprovalSession) (*sessionPayload, error) {
	residents := s.ResidentsNotified
	if residents == nil {
		residents = []model.NotifiedResident{}
	}
	toolCalls := s.ToolCalls
	if toolCalls == nil {
		toolCalls = []model.ToolCall{}
	}

	var (
		p   sessionPayload
		err error
	)
	if p.visitor, err = json.Marshal(s.Visitor); err != nil {
		return nil, fmt.Errorf("encode visitor: %w", err)
	}
	if p.residents, err = json.Marshal(residents); err != nil {
		return nil, fmt.Errorf("encode residents: %w", err)
	}
	if p.toolCalls, err = json.Marshal(toolCalls); err != nil {
		return nil, fmt.Errorf("encode tool calls: %w", err)
	}
	return &p, nil
}

// Create сохраняет новую сессию
func (r *SessionRepository) Create(ctx context.Context, s *model.ApprovalSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Version = 1

	p, err := encodeSession(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_sessions (
			id, status, visitor, residents_notified, resident_response, responded_by,
			created_visit_id, tool_calls, start_time, end_time, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.ExecAffected(
		ctx, query,
		s.ID,
		s.Status,
		p.visitor,
		p.residents,
		s.ResidentResponse,
		s.RespondedBy,
		s.CreatedVisitID,
		p.toolCalls,
		s.StartTime,
		s.EndTime,
		s.Version,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	return nil
}

// GetByID получает сессию по ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ApprovalSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM approval_sessions WHERE id = $1`

	s, err := scanSession(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return s, nil
}

// Update сохраняет сессию с проверкой версии
func (r *SessionRepository) Update(ctx context.Context, s *model.ApprovalSession) error {
	p, err := encodeSession(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_sessions
		SET status = $1, visitor = $2, residents_notified = $3, resident_response = $4,
		    responded_by = $5, created_visit_id = $6, tool_calls = $7, end_time = $8,
		    version = version + 1
		WHERE id = $9 AND version = $10
	`

	err = r.ExecVersioned(
		ctx, query,
		s.Status,
		p.visitor,
		p.residents,
		s.ResidentResponse,
		s.RespondedBy,
		s.CreatedVisitID,
		p.toolCalls,
		s.EndTime,
		s.ID,
		s.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	s.Version++
	return nil
}

// ListActiveStartedBefore активные сессии, начатые раньше cutoff (кандидаты на таймаут)
func (r *SessionRepository) ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]*model.ApprovalSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM approval_sessions
		WHERE status = 'active' AND start_time < $1
		ORDER BY start_time ASC
	`

	rows, err := r.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.ApprovalSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}
