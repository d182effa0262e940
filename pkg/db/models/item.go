package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Item is a wish-list entry that accumulates contributions until redeemed.
type Item struct {
	ID                     uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID                uuid.UUID  `gorm:"column:event_id;type:uuid;not null;index:items_event_id_idx"`
	Title                  string     `gorm:"column:title;not null"`
	PriceCents             int64      `gorm:"column:price_cents;not null"`
	AccumulatedAmountCents int64      `gorm:"column:accumulated_amount_cents;not null;default:0"`
	Fulfilled              bool       `gorm:"column:fulfilled;not null;default:false"`
	FulfilledAt            *time.Time `gorm:"column:fulfilled_at"`
	CreatedAt              time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *Item) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// RemainingCents is how much is still missing before the item is fully funded.
func (i Item) RemainingCents() int64 {
	if i.AccumulatedAmountCents >= i.PriceCents {
		return 0
	}
	return i.PriceCents - i.AccumulatedAmountCents
}

// Eligible reports whether the item may be redeemed right now.
func (i Item) Eligible() bool {
	return !i.Fulfilled && i.PriceCents > 0 && i.AccumulatedAmountCents >= i.PriceCents
}
