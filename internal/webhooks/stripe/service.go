package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/wishpot/wishpot-backend/internal/contributions"
	"github.com/wishpot/wishpot-backend/internal/fulfillments"
	"github.com/wishpot/wishpot-backend/internal/payouts"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
)

// Connect transfer events not exported as constants by stripe-go.
const (
	eventTransferPaid   stripe.EventType = "transfer.paid"
	eventTransferFailed stripe.EventType = "transfer.failed"
)

const (
	metaItemID           = "item_id"
	metaContributorName  = "contributor_name"
	metaContributorEmail = "contributor_email"
	metaFulfillmentID    = "fulfillment_id"

	failureTransferFailed = "transfer_failed"
)

type contributionLedger interface {
	ApplyConfirmedPayment(ctx context.Context, input contributions.ApplyPaymentInput) (*contributions.ApplyResult, error)
}

type fulfillmentSettler interface {
	CompleteFulfillment(ctx context.Context, in fulfillments.SettlementInput) (*models.Fulfillment, error)
	FailFulfillment(ctx context.Context, in fulfillments.SettlementInput) (*models.Fulfillment, error)
}

type accountSyncer interface {
	SyncReadiness(ctx context.Context, externalAccountID string, readiness payouts.Readiness) error
}

type ServiceParams struct {
	Contributions contributionLedger
	Fulfillments  fulfillmentSettler
	Accounts      accountSyncer
	Logger        *logger.Logger
}

// Service routes verified Stripe events into the ledger, the settlement
// transitions and the payout account cache.
type Service struct {
	contributions contributionLedger
	fulfillments  fulfillmentSettler
	accounts      accountSyncer
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Contributions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "contribution ledger required")
	}
	if params.Fulfillments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout account service required")
	}
	return &Service{
		contributions: params.Contributions,
		fulfillments:  params.Fulfillments,
		accounts:      params.Accounts,
		logg:          params.Logger,
	}, nil
}

// HandleEvent applies one event. Errors that a redelivery cannot fix are
// logged and swallowed so Stripe stops retrying.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})
	}

	var err error
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if decodeErr := json.Unmarshal(event.Data.Raw, &intent); decodeErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, decodeErr, "decode payment intent")
		}
		err = s.applyPayment(ctx, &intent, time.Unix(event.Created, 0).UTC())
	case stripe.EventTypeTransferCreated, eventTransferPaid:
		var transfer stripe.Transfer
		if decodeErr := json.Unmarshal(event.Data.Raw, &transfer); decodeErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, decodeErr, "decode transfer")
		}
		if transfer.Reversed {
			err = s.failTransfer(ctx, &transfer, payouts.CodeTransferReversed, "transfer reversed by processor")
		} else {
			_, err = s.fulfillments.CompleteFulfillment(ctx, settlementFor(&transfer))
		}
	case stripe.EventTypeTransferReversed:
		var transfer stripe.Transfer
		if decodeErr := json.Unmarshal(event.Data.Raw, &transfer); decodeErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, decodeErr, "decode transfer")
		}
		err = s.failTransfer(ctx, &transfer, payouts.CodeTransferReversed, "transfer reversed by processor")
	case eventTransferFailed:
		var transfer stripe.Transfer
		if decodeErr := json.Unmarshal(event.Data.Raw, &transfer); decodeErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, decodeErr, "decode transfer")
		}
		err = s.failTransfer(ctx, &transfer, failureTransferFailed, "transfer failed at processor")
	case stripe.EventTypeAccountUpdated:
		var account stripe.Account
		if decodeErr := json.Unmarshal(event.Data.Raw, &account); decodeErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, decodeErr, "decode account")
		}
		err = s.accounts.SyncReadiness(ctx, account.ID, payouts.ReadinessFromAccount(&account))
	default:
		return nil
	}
	return s.settle(ctx, err)
}

func (s *Service) applyPayment(ctx context.Context, intent *stripe.PaymentIntent, confirmedAt time.Time) error {
	itemID, err := uuid.Parse(strings.TrimSpace(intent.Metadata[metaItemID]))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment intent is missing item_id metadata")
	}
	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}

	var email *string
	if raw := strings.TrimSpace(intent.Metadata[metaContributorEmail]); raw != "" {
		email = &raw
	}
	res, err := s.contributions.ApplyConfirmedPayment(ctx, contributions.ApplyPaymentInput{
		ItemID:            itemID,
		AmountCents:       amount,
		ExternalReference: intent.ID,
		ContributorName:   intent.Metadata[metaContributorName],
		ContributorEmail:  email,
		ConfirmedAt:       confirmedAt,
	})
	if err != nil {
		return err
	}
	if !res.Applied && s.logg != nil {
		s.logg.Info(ctx, "payment already recorded")
	}
	return nil
}

func (s *Service) failTransfer(ctx context.Context, transfer *stripe.Transfer, code, reason string) error {
	in := settlementFor(transfer)
	in.FailureCode = code
	in.FailureReason = reason
	_, err := s.fulfillments.FailFulfillment(ctx, in)
	return err
}

// settle decides whether a handler error should make Stripe redeliver.
func (s *Service) settle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return err
	}
	switch typed.Code() {
	case pkgerrors.CodeStateConflict,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeItemNotFound,
		pkgerrors.CodeValidation,
		pkgerrors.CodeInvalidAmount:
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error_code", string(typed.Code())), "stripe event ignored: "+typed.Message())
		}
		return nil
	default:
		return err
	}
}

func settlementFor(transfer *stripe.Transfer) fulfillments.SettlementInput {
	in := fulfillments.SettlementInput{TransferReference: transfer.ID}
	raw := transfer.Metadata[metaFulfillmentID]
	if raw == "" {
		raw = transfer.TransferGroup
	}
	if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
		in.FulfillmentID = id
	}
	return in
}
