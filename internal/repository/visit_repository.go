package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const visitColumns = `
	id, type, status, visitor_name, visitor_rut, visitor_phone, reason,
	access_credential, max_uses, used_count, valid_from, valid_until,
	entry_time, exit_time, host_id, family_id, vehicle_id, version,
	created_at, updated_at`

type VisitRepository struct {
	*base.Repository
}

func NewVisitRepository(pool *pgxpool.Pool) *VisitRepository {
	return &VisitRepository{Repository: base.NewRepository(pool)}
}

func scanVisit(row base.Scanner) (*model.Visit, error) {
	var v model.Visit
	err := row.Scan(
		&v.ID,
		&v.Type,
		&v.Status,
		&v.VisitorName,
		&v.VisitorRUT,
		&v.VisitorPhone,
		&v.Reason,
		&v.AccessCredential,
		&v.MaxUses,
		&v.UsedCount,
		&v.ValidFrom,
		&v.ValidUntil,
		&v.EntryTime,
		&v.ExitTime,
		&v.HostID,
		&v.FamilyID,
		&v.VehicleID,
		&v.Version,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Create сохраняет новый визит
func (r *VisitRepository) Create(ctx context.Context, v *model.Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.Version = 1

	query := `
		INSERT INTO visits (
			id, type, status, visitor_name, visitor_rut, visitor_phone, reason,
			access_credential, max_uses, used_count, valid_from, valid_until,
			entry_time, exit_time, host_id, family_id, vehicle_id, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		v.ID,
		v.Type,
		v.Status,
		v.VisitorName,
		v.VisitorRUT,
		v.VisitorPhone,
		v.Reason,
		v.AccessCredential,
		v.MaxUses,
		v.UsedCount,
		v.ValidFrom,
		v.ValidUntil,
		v.EntryTime,
		v.ExitTime,
		v.HostID,
		v.FamilyID,
		v.VehicleID,
		v.Version,
	).Scan(&v.CreatedAt, &v.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create visit: %w", err)
	}

	return nil
}

// GetByID получает визит по ID
func (r *VisitRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits WHERE id = $1`

	v, err := scanVisit(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get visit: %w", err)
	}

	return v, nil
}

// GetByAccessCredential точный поиск по QR-токену
func (r *VisitRepository) GetByAccessCredential(ctx context.Context, code string) (*model.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits WHERE access_credential = $1`

	v, err := scanVisit(r.QueryRow(ctx, query, code))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get visit by credential: %w", err)
	}

	return v, nil
}

// CredentialExists проверяет уникальность QR-токена
func (r *VisitRepository) CredentialExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM visits WHERE access_credential = $1)`

	var exists bool
	if err := r.QueryRow(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("check credential exists: %w", err)
	}

	return exists, nil
}

// FindAdmissibleByPlate ищет визит по номеру машины среди тех, по которым возможен въезд сейчас
func (r *VisitRepository) FindAdmissibleByPlate(ctx context.Context, plate string, now time.Time) (*model.Visit, error) {
	query := `
		SELECT ` + prefixed("v", visitColumns) + `
		FROM visits v
		JOIN vehicles vh ON vh.id = v.vehicle_id
		WHERE vh.plate = $1
		  AND v.status IN ('pending', 'active', 'ready')
		  AND v.valid_from <= $2
		  AND v.valid_until >= $2
		ORDER BY v.valid_until ASC
		LIMIT 1
	`

	v, err := scanVisit(r.QueryRow(ctx, query, model.NormalizePlate(plate), now))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find visit by plate: %w", err)
	}

	return v, nil
}

// Update сохраняет визит целиком с проверкой версии (optimistic lock)
func (r *VisitRepository) Update(ctx context.Context, v *model.Visit) error {
	query := `
		UPDATE visits
		SET type = $1, status = $2, visitor_name = $3, visitor_rut = $4, visitor_phone = $5,
		    reason = $6, max_uses = $7, used_count = $8, valid_from = $9, valid_until = $10,
		    entry_time = $11, exit_time = $12, host_id = $13, family_id = $14, vehicle_id = $15,
		    version = version + 1, updated_at = $16
		WHERE id = $17 AND version = $18
	`

	now := time.Now()
	err := r.ExecVersioned(
		ctx, query,
		v.Type,
		v.Status,
		v.VisitorName,
		v.VisitorRUT,
		v.VisitorPhone,
		v.Reason,
		v.MaxUses,
		v.UsedCount,
		v.ValidFrom,
		v.ValidUntil,
		v.EntryTime,
		v.ExitTime,
		v.HostID,
		v.FamilyID,
		v.VehicleID,
		now,
		v.ID,
		v.Version,
	)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}

	v.Version++
	v.UpdatedAt = now
	return nil
}

// active не выбирается: посетителя внутри не закрываем. denied терминален
// для expiry и иначе копился бы в каждом проходе.
var expiredCandidatesQuery = `
	SELECT ` + visitColumns + `
	FROM visits
	WHERE valid_until < $1
	  AND status NOT IN ('active', 'denied', 'expired', 'cancelled', 'completed')
	ORDER BY valid_until ASC
`

// ListExpiredCandidates визиты с истёкшим окном, которые ещё не закрыты
func (r *VisitRepository) ListExpiredCandidates(ctx context.Context, now time.Time) ([]*model.Visit, error) {
	return r.list(ctx, "list expired visits", expiredCandidatesQuery, now)
}

// ListExpiringBetween визиты, окно которых заканчивается в (from, to]
func (r *VisitRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*model.Visit, error) {
	query := `
		SELECT ` + visitColumns + `
		FROM visits
		WHERE valid_until > $1
		  AND valid_until <= $2
		  AND status NOT IN ('active', 'expired')
		ORDER BY valid_until ASC
	`

	return r.list(ctx, "list expiring visits", query, from, to)
}

func (r *VisitRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*model.Visit, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var visits []*model.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		visits = append(visits, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visits: %w", err)
	}

	return visits, nil
}
