package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wishpot/wishpot-backend/api/middleware"
	"github.com/wishpot/wishpot-backend/api/responses"
	"github.com/wishpot/wishpot-backend/api/validators"
	"github.com/wishpot/wishpot-backend/internal/fulfillments"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
)

const arrivalDateLayout = "2006-01-02"

type FulfillmentService interface {
	CreateFulfillment(ctx context.Context, input fulfillments.CreateInput) (*fulfillments.Result, error)
	GetFulfillment(ctx context.Context, requester, id uuid.UUID) (*fulfillments.Result, error)
}

type fulfillmentCreateRequest struct {
	ItemID         string  `json:"itemId" validate:"required,uuid"`
	EventID        string  `json:"eventId" validate:"required,uuid"`
	Method         string  `json:"method" validate:"required"`
	Note           *string `json:"note" validate:"omitempty,max=500"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

func (r fulfillmentCreateRequest) toInput(requester uuid.UUID, headerKey string) (fulfillments.CreateInput, error) {
	itemID, err := uuid.Parse(r.ItemID)
	if err != nil {
		return fulfillments.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid itemId")
	}
	eventID, err := uuid.Parse(r.EventID)
	if err != nil {
		return fulfillments.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid eventId")
	}

	key := strings.TrimSpace(r.IdempotencyKey)
	if key == "" {
		key = headerKey
	} else if headerKey != "" && headerKey != key {
		return fulfillments.CreateInput{}, pkgerrors.New(pkgerrors.CodeValidation, "idempotencyKey does not match the Idempotency-Key header")
	}

	input := fulfillments.CreateInput{
		ItemID:         itemID,
		EventID:        eventID,
		RequestedBy:    requester,
		Method:         enums.FulfillmentMethod(strings.TrimSpace(r.Method)),
		Note:           r.Note,
		IdempotencyKey: key,
	}
	if err := fulfillments.ValidateReserveInput(input); err != nil {
		return fulfillments.CreateInput{}, err
	}
	return input, nil
}

type refDTO struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

type fulfillmentResponse struct {
	FulfillmentID        uuid.UUID `json:"fulfillmentId"`
	Status               string    `json:"status"`
	GrossAmountCents     int64     `json:"grossAmountCents"`
	PlatformFeeCents     int64     `json:"platformFeeCents"`
	NetAmountCents       int64     `json:"netAmountCents"`
	TransferReference    *string   `json:"transferReference"`
	EstimatedArrivalDate string    `json:"estimatedArrivalDate"`
	FailureCode          *string   `json:"failureCode,omitempty"`
	FailureReason        *string   `json:"failureReason,omitempty"`
	CompletedAt          *string   `json:"completedAt,omitempty"`
	Item                 refDTO    `json:"item"`
	Event                refDTO    `json:"event"`
}

func newFulfillmentResponse(res *fulfillments.Result) fulfillmentResponse {
	f := res.Fulfillment
	out := fulfillmentResponse{
		FulfillmentID:        f.ID,
		Status:               string(f.Status),
		GrossAmountCents:     res.Breakdown.GrossCents,
		PlatformFeeCents:     res.Breakdown.FeeCents,
		NetAmountCents:       res.Breakdown.NetCents,
		TransferReference:    f.TransferReference,
		EstimatedArrivalDate: res.EstimatedArrival.UTC().Format(arrivalDateLayout),
		FailureCode:          f.FailureCode,
		FailureReason:        f.FailureReason,
		Item:                 refDTO{ID: res.Item.ID, Title: res.Item.Title},
		Event:                refDTO{ID: res.Event.ID, Title: res.Event.Title},
	}
	if f.CompletedAt != nil {
		completed := f.CompletedAt.UTC().Format(time.RFC3339)
		out.CompletedAt = &completed
	}
	return out
}

// FulfillmentCreate redeems an item's funds into a bank transfer.
func FulfillmentCreate(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var body fulfillmentCreateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		headerKey := validators.SanitizeString(r.Header.Get(middleware.IdempotencyHeader), 255)
		input, err := body.toInput(userID, headerKey)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithItemID(ctx, input.ItemID.String())
		}
		result, err := svc.CreateFulfillment(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newFulfillmentResponse(result))
	}
}

// FulfillmentGet returns one of the caller's fulfillments.
func FulfillmentGet(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		id, err := validators.PathUUID(r, "fulfillmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.GetFulfillment(r.Context(), userID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newFulfillmentResponse(result))
	}
}
