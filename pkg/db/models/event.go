package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event groups wish-list items under an organizer.
type Event struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerUserID uuid.UUID `gorm:"column:owner_user_id;type:uuid;not null;index:events_owner_user_id_idx"`
	Title       string    `gorm:"column:title;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *Event) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
