// Package payouts talks to the payment processor on behalf of organizers:
// account readiness, onboarding and the transfers that settle fulfillments.
package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
)

// Provider failure codes that do not come from the processor itself.
const (
	CodeProcessorUnavailable = "processor_unavailable"
	CodeInitiationAbandoned  = "initiation_abandoned"
	CodeTransferReversed     = "transfer_reversed"
)

// Connector is the payout capability the fulfillment flow depends on.
type Connector interface {
	CheckReadiness(ctx context.Context, externalAccountID string) (Readiness, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	// LookupTransfer returns nil when the processor has no matching transfer.
	LookupTransfer(ctx context.Context, lookup TransferLookup) (*TransferStatus, error)
}

// AccountProvisioner creates connected accounts and onboarding links.
type AccountProvisioner interface {
	CreateAccount(ctx context.Context, input CreateAccountInput) (string, error)
	CreateOnboardingLink(ctx context.Context, externalAccountID string) (*OnboardingLink, error)
}

type Readiness struct {
	OnboardingCompleted bool
	ChargesEnabled      bool
	PayoutsEnabled      bool
	TransfersEnabled    bool
	DisabledReason      string
}

func (r Readiness) Ready() bool {
	return r.OnboardingCompleted && r.ChargesEnabled && r.PayoutsEnabled && r.TransfersEnabled
}

type TransferRequest struct {
	ExternalAccountID string
	AmountCents       int64
	IdempotencyKey    string
	FulfillmentID     uuid.UUID
	Metadata          map[string]string
}

type TransferResult struct {
	Reference string
	CreatedAt time.Time
}

// TransferLookup selects a transfer by processor reference, or by the
// fulfillment it was created for when the reference was never stored.
type TransferLookup struct {
	Reference     string
	FulfillmentID uuid.UUID
}

type TransferStatus struct {
	Reference           string
	AmountCents         int64
	ReversedAmountCents int64
	Reversed            bool
	CreatedAt           time.Time
}

type CreateAccountInput struct {
	UserID uuid.UUID
	Email  string
}

type OnboardingLink struct {
	URL       string
	ExpiresAt time.Time
}

// TransferRejection is attached as details to TransferRejected errors.
type TransferRejection struct {
	Code    string `json:"providerCode"`
	Message string `json:"providerMessage"`
}

// NewTransferRejected builds the error returned when the processor refuses a transfer.
func NewTransferRejected(code, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeTransferRejected, "transfer rejected: "+message).
		WithDetails(TransferRejection{Code: code, Message: message})
}

// RejectionOf extracts the provider code and message from a TransferRejected error.
func RejectionOf(err error) (TransferRejection, bool) {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeTransferRejected {
		return TransferRejection{}, false
	}
	rejection, ok := typed.Details().(TransferRejection)
	return rejection, ok
}
