package fulfillments

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/internal/fees"
	"github.com/wishpot/wishpot-backend/internal/items"
	"github.com/wishpot/wishpot-backend/pkg/db"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/outbox"
	"github.com/wishpot/wishpot-backend/pkg/outbox/payloads"
)

const MaxNoteLength = 500

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,}$`)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ReserveInput struct {
	ItemID         uuid.UUID
	EventID        uuid.UUID
	RequestedBy    uuid.UUID
	Method         enums.FulfillmentMethod
	Note           *string
	IdempotencyKey string
}

// Reservation is a freshly inserted pending fulfillment plus the rows it was
// checked against.
type Reservation struct {
	Fulfillment *models.Fulfillment
	Item        *models.Item
	Event       *models.Event
	Breakdown   fees.Breakdown
}

// duplicateKeyError carries the fulfillment that already owns an idempotency key.
type duplicateKeyError struct {
	existing *models.Fulfillment
}

func (e *duplicateKeyError) Error() string {
	return fmt.Sprintf("idempotency key already used by fulfillment %s", e.existing.ID)
}

// DuplicateOf returns the existing fulfillment behind a DuplicateIdempotencyKey error.
func DuplicateOf(err error) *models.Fulfillment {
	var dup *duplicateKeyError
	if errors.As(err, &dup) {
		return dup.existing
	}
	return nil
}

func newDuplicateKeyError(existing *models.Fulfillment) error {
	return pkgerrors.Wrap(pkgerrors.CodeDuplicateIdempotency, &duplicateKeyError{existing: existing}, "idempotency key already used").
		WithDetails(map[string]any{
			"fulfillmentId": existing.ID,
			"status":        existing.Status,
		})
}

// errConcurrentReservation marks a unique index violation raised by a writer
// that committed between our checks and our insert.
var errConcurrentReservation = errors.New("concurrent reservation")

// Guard serializes redemption requests per item.
type Guard struct {
	tx         txRunner
	items      items.Repository
	repo       Repository
	calculator *fees.Calculator
	outbox     outbox.Emitter
}

func NewGuard(tx txRunner, itemRepo items.Repository, repo Repository, calculator *fees.Calculator, emitter outbox.Emitter) (*Guard, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if itemRepo == nil {
		return nil, fmt.Errorf("item repository required")
	}
	if repo == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if calculator == nil {
		return nil, fmt.Errorf("fee calculator required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Guard{tx: tx, items: itemRepo, repo: repo, calculator: calculator, outbox: emitter}, nil
}

// ValidateReserveInput checks request shape before any storage access.
func ValidateReserveInput(input ReserveInput) error {
	switch {
	case input.ItemID == uuid.Nil || input.EventID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "itemId and eventId are required")
	case input.RequestedBy == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "requester required")
	case !input.Method.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported fulfillment method %q", input.Method))
	case !idempotencyKeyPattern.MatchString(input.IdempotencyKey):
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotencyKey must be at least 16 characters of [A-Za-z0-9_-]")
	case input.Note != nil && len([]rune(*input.Note)) > MaxNoteLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("note must be at most %d characters", MaxNoteLength))
	}
	return nil
}

// Reserve checks ownership, idempotency, fulfillment state, funding and
// in-flight work in that order while holding the item row lock, then
// inserts a pending fulfillment whose gross is the accumulated amount.
func (g *Guard) Reserve(ctx context.Context, input ReserveInput) (*Reservation, error) {
	if err := ValidateReserveInput(input); err != nil {
		return nil, err
	}

	var note *string
	if input.Note != nil {
		if trimmed := strings.TrimSpace(*input.Note); trimmed != "" {
			note = &trimmed
		}
	}

	var reservation *Reservation
	err := g.tx.WithTx(ctx, func(tx *gorm.DB) error {
		itemRepo := g.items.WithTx(tx)
		repo := g.repo.WithTx(tx)

		item, err := itemRepo.FindInEventForUpdate(ctx, input.EventID, input.ItemID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock item")
		}
		if item == nil {
			return pkgerrors.New(pkgerrors.CodeItemNotFound, "item not found")
		}
		event, err := itemRepo.FindEvent(ctx, input.EventID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load event")
		}
		if event == nil {
			return pkgerrors.New(pkgerrors.CodeItemNotFound, "item not found")
		}
		if event.OwnerUserID != input.RequestedBy {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the event organizer can redeem its items")
		}

		existing, err := repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check idempotency key")
		}
		if existing != nil {
			return newDuplicateKeyError(existing)
		}

		if item.Fulfilled {
			return pkgerrors.New(pkgerrors.CodeAlreadyFulfilled, "item has already been fulfilled")
		}
		if item.AccumulatedAmountCents < item.PriceCents {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunding, "item is not fully funded").
				WithDetails(map[string]int64{
					"current":   item.AccumulatedAmountCents,
					"required":  item.PriceCents,
					"remaining": item.RemainingCents(),
				})
		}

		active, err := repo.FindActiveByItem(ctx, item.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check active fulfillment")
		}
		if active != nil {
			return inProgressError(active.ID)
		}

		breakdown := g.calculator.Compute(item.AccumulatedAmountCents)
		fulfillment := &models.Fulfillment{
			ItemID:            item.ID,
			EventID:           event.ID,
			RequestedByUserID: input.RequestedBy,
			GrossAmountCents:  breakdown.GrossCents,
			PlatformFeeCents:  breakdown.FeeCents,
			NetAmountCents:    breakdown.NetCents,
			Method:            input.Method,
			Note:              note,
			IdempotencyKey:    input.IdempotencyKey,
			Status:            enums.FulfillmentStatusPending,
		}
		if err := repo.Create(ctx, fulfillment); err != nil {
			if db.IsUniqueViolation(err, idempotencyKeyConstraint) || db.IsUniqueViolation(err, activeItemConstraint) {
				return fmt.Errorf("%w: %v", errConcurrentReservation, err)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert fulfillment")
		}

		if err := g.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentRequested,
			AggregateType: enums.AggregateFulfillment,
			AggregateID:   fulfillment.ID,
			Actor:         &outbox.ActorRef{UserID: input.RequestedBy, Source: "organizer"},
			Data: payloads.FulfillmentRequestedEvent{
				FulfillmentID:    fulfillment.ID,
				ItemID:           item.ID,
				EventID:          event.ID,
				RequestedBy:      input.RequestedBy,
				GrossAmountCents: breakdown.GrossCents,
				PlatformFeeCents: breakdown.FeeCents,
				NetAmountCents:   breakdown.NetCents,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit fulfillment requested")
		}

		reservation = &Reservation{Fulfillment: fulfillment, Item: item, Event: event, Breakdown: breakdown}
		return nil
	})
	if errors.Is(err, errConcurrentReservation) {
		return nil, g.classifyConflict(ctx, input)
	}
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// classifyConflict runs after the aborted transaction rolled back: a row with
// our key means a duplicate, anything else is the active-item index.
func (g *Guard) classifyConflict(ctx context.Context, input ReserveInput) error {
	existing, err := g.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check idempotency key")
	}
	if existing != nil {
		return newDuplicateKeyError(existing)
	}
	active, err := g.repo.FindActiveByItem(ctx, input.ItemID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check active fulfillment")
	}
	if active != nil {
		return inProgressError(active.ID)
	}
	return pkgerrors.New(pkgerrors.CodeFulfillmentInProgress, "a fulfillment for this item is already in progress")
}

func inProgressError(activeID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeFulfillmentInProgress, "a fulfillment for this item is already in progress").
		WithDetails(map[string]any{"fulfillmentId": activeID})
}
