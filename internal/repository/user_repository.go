package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, first_name, last_name, phone, role, family_id, telegram_id, is_active, created_at`

type UserRepository struct {
	*base.Repository
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{Repository: base.NewRepository(pool)}
}

func scanUser(row base.Scanner) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.Role,
		&user.FamilyID,
		&user.TelegramID,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByID получает пользователя по ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil // Пользователь не найден
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return user, nil
}

// GetByTelegramID получает пользователя по Telegram ID
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	user, err := scanUser(r.QueryRow(ctx, query, telegramID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by telegram id: %w", err)
	}

	return user, nil
}

// LinkTelegram привязывает Telegram к резиденту по номеру телефона.
// Сравниваются только цифры номера. Уже привязанный аккаунт не перезаписывается.
func (r *UserRepository) LinkTelegram(ctx context.Context, phoneDigits string, telegramID int64) (*model.User, error) {
	query := `
		UPDATE users
		SET telegram_id = $2
		WHERE regexp_replace(phone, '[^0-9]', '', 'g') = $1
		  AND is_active
		  AND (telegram_id IS NULL OR telegram_id = $2)
		RETURNING ` + userColumns

	user, err := scanUser(r.QueryRow(ctx, query, phoneDigits, telegramID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("link telegram: %w", err)
	}

	return user, nil
}

// GetByIDs получает активных пользователей по списку ID.
// Ненайденные ID просто отсутствуют в результате.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.User, error) {
	if len(ids) == 0 {
		return []*model.User{}, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1) AND is_active`

	return r.list(ctx, "get users by ids", query, ids)
}

// GetByFamily получает активных членов семьи
func (r *UserRepository) GetByFamily(ctx context.Context, familyID uuid.UUID) ([]*model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE family_id = $1 AND is_active
		ORDER BY created_at
	`

	return r.list(ctx, "get family members", query, familyID)
}

// GetByRole получает пользователей с ролью (например, охрану для оповещений)
func (r *UserRepository) GetByRole(ctx context.Context, role string) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 AND is_active ORDER BY first_name`

	return r.list(ctx, "get users by role", query, role)
}

func (r *UserRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*model.User, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}
