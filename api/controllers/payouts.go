package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wishpot/wishpot-backend/api/middleware"
	"github.com/wishpot/wishpot-backend/api/responses"
	"github.com/wishpot/wishpot-backend/internal/payouts"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
)

type PayoutAccountService interface {
	Status(ctx context.Context, userID uuid.UUID) (*payouts.AccountStatus, error)
	StartOnboarding(ctx context.Context, input payouts.StartOnboardingInput) (*payouts.OnboardingResult, error)
}

func PayoutAccountStatus(svc PayoutAccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		status, err := svc.Status(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// PayoutOnboardingStart creates the processor account when needed and returns
// the hosted onboarding link.
func PayoutOnboardingStart(svc PayoutAccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		result, err := svc.StartOnboarding(r.Context(), payouts.StartOnboardingInput{
			UserID: userID,
			Email:  middleware.EmailFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
