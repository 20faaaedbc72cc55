package model

import (
	"time"

	"github.com/google/uuid"
)

// Family семья, проживающая в квартире (department) комплекса
type Family struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`

	Members []*User `json:"members,omitempty"`
}
