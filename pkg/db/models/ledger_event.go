package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event tied to an item.
type LedgerEvent struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ItemID         uuid.UUID             `gorm:"column:item_id;type:uuid;not null"`
	FulfillmentID  *uuid.UUID            `gorm:"column:fulfillment_id;type:uuid"`
	ContributionID *uuid.UUID            `gorm:"column:contribution_id;type:uuid"`
	ActorUserID    *uuid.UUID            `gorm:"column:actor_user_id;type:uuid"`
	Type           enums.LedgerEventType `gorm:"column:type;not null"`
	AmountCents    int64                 `gorm:"column:amount_cents;not null"`
	Metadata       json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (l *LedgerEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
