package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type FamilyRepository struct {
	*base.Repository
	users *UserRepository
}

func NewFamilyRepository(pool *pgxpool.Pool, users *UserRepository) *FamilyRepository {
	return &FamilyRepository{Repository: base.NewRepository(pool), users: users}
}

var (
	departmentPrefix = regexp.MustCompile(`^(departamento|depto|dpto|dto|apartamento|apto|unidad|casa|nro\.?|n[°º]|no\.|#)\s*`)
	nonAlnum         = regexp.MustCompile(`[^a-z0-9]`)
)

// NormalizeDepartment приводит номер квартиры к сравнимому виду:
// "Depto. 302-B" -> "302b", "#302 b" -> "302b"
func NormalizeDepartment(unit string) string {
	s := strings.ToLower(strings.TrimSpace(unit))
	s = strings.TrimPrefix(s, ".")
	for {
		trimmed := strings.TrimSpace(departmentPrefix.ReplaceAllString(s, ""))
		trimmed = strings.TrimLeft(trimmed, ". ")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return nonAlnum.ReplaceAllString(s, "")
}

// GetByID получает семью по ID вместе с членами
func (r *FamilyRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Family, error) {
	query := `
		SELECT id, name, department, is_active, created_at
		FROM families
		WHERE id = $1
	`

	var family model.Family
	err := r.QueryRow(ctx, query, id).Scan(
		&family.ID,
		&family.Name,
		&family.Department,
		&family.IsActive,
		&family.CreatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get family: %w", err)
	}

	if family.Members, err = r.users.GetByFamily(ctx, family.ID); err != nil {
		return nil, err
	}

	return &family, nil
}

// FindByDepartment ищет активную семью по номеру квартиры с гибким сравнением
func (r *FamilyRepository) FindByDepartment(ctx context.Context, unit string) (*model.Family, error) {
	normalized := NormalizeDepartment(unit)
	if normalized == "" {
		return nil, nil
	}

	query := `
		SELECT id, name, department, is_active, created_at
		FROM families
		WHERE is_active
		  AND regexp_replace(
		        regexp_replace(lower(department), '^\s*(departamento|depto|dpto|dto|apartamento|apto|unidad|casa)', ''),
		        '[^a-z0-9]', '', 'g') = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var family model.Family
	err := r.QueryRow(ctx, query, normalized).Scan(
		&family.ID,
		&family.Name,
		&family.Department,
		&family.IsActive,
		&family.CreatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find family by department: %w", err)
	}

	if family.Members, err = r.users.GetByFamily(ctx, family.ID); err != nil {
		return nil, err
	}

	return &family, nil
}
