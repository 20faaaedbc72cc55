package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID         uuid.UUID  `json:"id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Phone      *string    `json:"phone,omitempty"`
	Role       string     `json:"role"`
	FamilyID   *uuid.UUID `json:"family_id,omitempty"`
	TelegramID *int64     `json:"telegram_id,omitempty"` // Для push-уведомлений через бота
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
}

const (
	RoleResident = "resident"
	RoleGuard    = "guard"
	RoleAdmin    = "admin"
)

// FullName имя для уведомлений и ответа агенту
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
