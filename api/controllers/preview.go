package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wishpot/wishpot-backend/api/middleware"
	"github.com/wishpot/wishpot-backend/api/responses"
	"github.com/wishpot/wishpot-backend/api/validators"
	"github.com/wishpot/wishpot-backend/internal/items"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
)

type RedemptionPreviewer interface {
	Preview(ctx context.Context, requesterID, eventID, itemID uuid.UUID) (*items.RedemptionPreview, error)
}

// RedemptionPreview shows the fee split and eligibility without reserving anything.
func RedemptionPreview(svc RedemptionPreviewer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "preview service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		eventID, err := validators.PathUUID(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.PathUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		preview, err := svc.Preview(r.Context(), userID, eventID, itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}
