package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Vehicle struct {
	ID        uuid.UUID  `json:"id"`
	Plate     string     `json:"plate"`
	Brand     *string    `json:"brand,omitempty"`
	Model     *string    `json:"model,omitempty"`
	Color     *string    `json:"color,omitempty"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NormalizePlate приводит номер к виду, в котором его отдаёт камера: "AB-CD 12" -> "ABCD12"
func NormalizePlate(plate string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(plate) {
		if r == ' ' || r == '-' || r == '.' || r == '·' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
