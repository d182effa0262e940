package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
)

// Service records the money lifecycle of items: contributions in, payouts out.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	HasFulfillmentEvent(ctx context.Context, fulfillmentID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
	ListItemEvents(ctx context.Context, itemID uuid.UUID) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	ItemID         uuid.UUID             `json:"item_id"`
	FulfillmentID  *uuid.UUID            `json:"fulfillment_id,omitempty"`
	ContributionID *uuid.UUID            `json:"contribution_id,omitempty"`
	ActorUserID    *uuid.UUID            `json:"actor_user_id,omitempty"`
	Type           enums.LedgerEventType `json:"type"`
	AmountCents    int64                 `json:"amount_cents"`
	Metadata       json.RawMessage       `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.ItemID == uuid.Nil {
		return nil, fmt.Errorf("item id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.AmountCents < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	switch input.Type {
	case enums.LedgerEventTypeContributionApplied:
		if input.ContributionID == nil {
			return nil, fmt.Errorf("contribution id is required for %s", input.Type)
		}
	default:
		if input.FulfillmentID == nil {
			return nil, fmt.Errorf("fulfillment id is required for %s", input.Type)
		}
	}

	event := &models.LedgerEvent{
		ItemID:         input.ItemID,
		FulfillmentID:  input.FulfillmentID,
		ContributionID: input.ContributionID,
		ActorUserID:    input.ActorUserID,
		Type:           input.Type,
		AmountCents:    input.AmountCents,
		Metadata:       input.Metadata,
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) HasFulfillmentEvent(ctx context.Context, fulfillmentID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if fulfillmentID == uuid.Nil {
		return false, fmt.Errorf("fulfillment id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}

	events, err := s.repo.ListByFulfillmentID(ctx, fulfillmentID)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) ListItemEvents(ctx context.Context, itemID uuid.UUID) ([]models.LedgerEvent, error) {
	if itemID == uuid.Nil {
		return nil, fmt.Errorf("item id is required")
	}
	return s.repo.ListByItemID(ctx, itemID)
}
