package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/wishpot/wishpot-backend/pkg/enums"
)

// ContributionAppliedEvent reports a confirmed payment landing on an item.
type ContributionAppliedEvent struct {
	ContributionID         uuid.UUID `json:"contribution_id"`
	ItemID                 uuid.UUID `json:"item_id"`
	AmountCents            int64     `json:"amount_cents"`
	AccumulatedAmountCents int64     `json:"accumulated_amount_cents"`
	PriceCents             int64     `json:"price_cents"`
	ExternalReference      string    `json:"external_reference"`
	FullyFunded            bool      `json:"fully_funded"`
}

// FulfillmentRequestedEvent is emitted when a redemption is reserved.
type FulfillmentRequestedEvent struct {
	FulfillmentID    uuid.UUID `json:"fulfillment_id"`
	ItemID           uuid.UUID `json:"item_id"`
	EventID          uuid.UUID `json:"event_id"`
	RequestedBy      uuid.UUID `json:"requested_by"`
	GrossAmountCents int64     `json:"gross_amount_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	NetAmountCents   int64     `json:"net_amount_cents"`
}

// PayoutInitiatedEvent is emitted once the processor accepted the transfer.
type PayoutInitiatedEvent struct {
	FulfillmentID     uuid.UUID `json:"fulfillment_id"`
	ItemID            uuid.UUID `json:"item_id"`
	TransferReference string    `json:"transfer_reference"`
	NetAmountCents    int64     `json:"net_amount_cents"`
}

// FulfillmentSettledEvent reports a terminal fulfillment state.
type FulfillmentSettledEvent struct {
	FulfillmentID     uuid.UUID               `json:"fulfillment_id"`
	ItemID            uuid.UUID               `json:"item_id"`
	EventID           uuid.UUID               `json:"event_id"`
	Status            enums.FulfillmentStatus `json:"status"`
	NetAmountCents    int64                   `json:"net_amount_cents"`
	TransferReference *string                 `json:"transfer_reference,omitempty"`
	FailureCode       *string                 `json:"failure_code,omitempty"`
	FailureReason     *string                 `json:"failure_reason,omitempty"`
	SettledAt         time.Time               `json:"settled_at"`
}
