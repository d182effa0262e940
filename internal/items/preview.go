package items

import (
	"context"

	"github.com/google/uuid"

	"github.com/wishpot/wishpot-backend/internal/fees"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
)

// Preview blockers, in the order the reservation guard evaluates them.
const (
	BlockerAlreadyFulfilled      = "already_fulfilled"
	BlockerInsufficientFunding   = "insufficient_funding"
	BlockerFulfillmentInProgress = "fulfillment_in_progress"
)

// ActiveFulfillmentFinder reports the pending/processing fulfillment of an item, if any.
type ActiveFulfillmentFinder interface {
	FindActiveByItem(ctx context.Context, itemID uuid.UUID) (*models.Fulfillment, error)
}

// RedemptionPreview is what an organizer would receive if they redeemed now.
type RedemptionPreview struct {
	ItemID                 uuid.UUID      `json:"itemId"`
	EventID                uuid.UUID      `json:"eventId"`
	Title                  string         `json:"title"`
	PriceCents             int64          `json:"priceCents"`
	AccumulatedAmountCents int64          `json:"accumulatedAmountCents"`
	RemainingCents         int64          `json:"remainingCents"`
	Eligible               bool           `json:"eligible"`
	Blocker                string         `json:"blocker,omitempty"`
	ActiveFulfillmentID    *uuid.UUID     `json:"activeFulfillmentId,omitempty"`
	FeeRatePercent         string         `json:"feeRatePercent"`
	Breakdown              fees.Breakdown `json:"breakdown"`
}

type PreviewService struct {
	repo       Repository
	active     ActiveFulfillmentFinder
	calculator *fees.Calculator
}

func NewPreviewService(repo Repository, active ActiveFulfillmentFinder, calculator *fees.Calculator) *PreviewService {
	return &PreviewService{repo: repo, active: active, calculator: calculator}
}

// Preview computes eligibility and the fee split without reserving anything.
// The breakdown uses the accumulated amount, the same gross a redemption would lock in.
func (s *PreviewService) Preview(ctx context.Context, requesterID, eventID, itemID uuid.UUID) (*RedemptionPreview, error) {
	item, err := s.repo.FindInEvent(ctx, eventID, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load item")
	}
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeItemNotFound, "item not found")
	}
	event, err := s.repo.FindEvent(ctx, eventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load event")
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeItemNotFound, "item not found")
	}
	if event.OwnerUserID != requesterID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "event is owned by another user")
	}

	preview := &RedemptionPreview{
		ItemID:                 item.ID,
		EventID:                event.ID,
		Title:                  item.Title,
		PriceCents:             item.PriceCents,
		AccumulatedAmountCents: item.AccumulatedAmountCents,
		RemainingCents:         item.RemainingCents(),
		FeeRatePercent:         s.calculator.RatePercent(),
		Breakdown:              s.calculator.Compute(item.AccumulatedAmountCents),
	}

	switch {
	case item.Fulfilled:
		preview.Blocker = BlockerAlreadyFulfilled
	case item.AccumulatedAmountCents < item.PriceCents:
		preview.Blocker = BlockerInsufficientFunding
	case s.active != nil:
		active, err := s.active.FindActiveByItem(ctx, item.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active fulfillment")
		}
		if active != nil {
			preview.Blocker = BlockerFulfillmentInProgress
			preview.ActiveFulfillmentID = &active.ID
		}
	}
	preview.Eligible = preview.Blocker == ""
	return preview, nil
}
