package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Contribution is an immutable confirmed payment toward an item.
type Contribution struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ItemID            uuid.UUID `gorm:"column:item_id;type:uuid;not null;index:contributions_item_id_idx"`
	AmountCents       int64     `gorm:"column:amount_cents;not null"`
	ExternalReference string    `gorm:"column:external_reference;not null;uniqueIndex:contributions_external_reference_key"`
	ContributorName   string    `gorm:"column:contributor_name;not null"`
	ContributorEmail  *string   `gorm:"column:contributor_email"`
	ConfirmedAt       time.Time `gorm:"column:confirmed_at;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (c *Contribution) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
