package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/enums"
)

// Fulfillment is a single attempt to move an item's accumulated funds to the
// organizer's payout account.
type Fulfillment struct {
	ID                  uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ItemID              uuid.UUID               `gorm:"column:item_id;type:uuid;not null;index:fulfillments_item_id_idx"`
	EventID             uuid.UUID               `gorm:"column:event_id;type:uuid;not null"`
	RequestedByUserID   uuid.UUID               `gorm:"column:requested_by_user_id;type:uuid;not null"`
	GrossAmountCents    int64                   `gorm:"column:gross_amount_cents;not null"`
	PlatformFeeCents    int64                   `gorm:"column:platform_fee_cents;not null"`
	NetAmountCents      int64                   `gorm:"column:net_amount_cents;not null"`
	Method              enums.FulfillmentMethod `gorm:"column:method;not null"`
	Note                *string                 `gorm:"column:note"`
	IdempotencyKey      string                  `gorm:"column:idempotency_key;not null;uniqueIndex:fulfillments_idempotency_key_key"`
	TransferReference   *string                 `gorm:"column:transfer_reference"`
	Status              enums.FulfillmentStatus `gorm:"column:status;not null"`
	ProcessingStartedAt *time.Time              `gorm:"column:processing_started_at"`
	CompletedAt         *time.Time              `gorm:"column:completed_at"`
	FailedAt            *time.Time              `gorm:"column:failed_at"`
	FailureCode         *string                 `gorm:"column:failure_code"`
	FailureReason       *string                 `gorm:"column:failure_reason"`
	CreatedAt           time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *Fulfillment) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}
