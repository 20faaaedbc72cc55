package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type VehicleRepository struct {
	*base.Repository
}

func NewVehicleRepository(pool *pgxpool.Pool) *VehicleRepository {
	return &VehicleRepository{Repository: base.NewRepository(pool)}
}

// FindByPlate ищет машину по нормализованному номеру
func (r *VehicleRepository) FindByPlate(ctx context.Context, plate string) (*model.Vehicle, error) {
	query := `
		SELECT id, plate, brand, model, color, owner_id, created_at
		FROM vehicles
		WHERE plate = $1
	`

	var v model.Vehicle
	err := r.QueryRow(ctx, query, model.NormalizePlate(plate)).Scan(
		&v.ID,
		&v.Plate,
		&v.Brand,
		&v.Model,
		&v.Color,
		&v.OwnerID,
		&v.CreatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find vehicle by plate: %w", err)
	}

	return &v, nil
}

// Create создаёт машину. Если номер уже есть (гонка двух запросов), возвращает существующую.
func (r *VehicleRepository) Create(ctx context.Context, v *model.Vehicle) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.Plate = model.NormalizePlate(v.Plate)

	query := `
		INSERT INTO vehicles (id, plate, brand, model, color, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (plate) DO UPDATE SET plate = EXCLUDED.plate
		RETURNING id, created_at
	`

	err := r.QueryRow(ctx, query, v.ID, v.Plate, v.Brand, v.Model, v.Color, v.OwnerID).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create vehicle: %w", err)
	}

	return nil
}
