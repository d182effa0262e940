// Package fulfillments turns a fully funded item into a bank transfer and
// settles the result. The reservation guard, the orchestrator and the
// settlement transitions all share one Repository.
package fulfillments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/internal/fees"
	"github.com/wishpot/wishpot-backend/internal/items"
	"github.com/wishpot/wishpot-backend/internal/ledger"
	"github.com/wishpot/wishpot-backend/internal/payouts"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
	"github.com/wishpot/wishpot-backend/pkg/metrics"
	"github.com/wishpot/wishpot-backend/pkg/outbox"
)

const outcomeOK = "ok"

type CreateInput = ReserveInput

// Ref is the id/title pair echoed back for the item and the event.
type Ref struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

// Result is a fulfillment as shown to its requester.
type Result struct {
	Fulfillment      *models.Fulfillment
	Breakdown        fees.Breakdown
	EstimatedArrival time.Time
	Item             Ref
	Event            Ref
}

// payoutAccounts is the slice of payouts.AccountService the orchestrator uses.
type payoutAccounts interface {
	FindForUser(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
	RefreshReadiness(ctx context.Context, account *models.PayoutAccount) (payouts.Readiness, error)
}

type ServiceParams struct {
	Tx               txRunner
	Guard            *Guard
	Repo             Repository
	Items            items.Repository
	Accounts         payoutAccounts
	Connector        payouts.Connector
	Ledger           ledger.Service
	Outbox           outbox.Emitter
	EstimatedArrival time.Duration
	Metrics          *metrics.FulfillmentMetrics
	Logger           *logger.Logger
	Now              func() time.Time
}

// Service is the fulfillment orchestrator.
type Service struct {
	tx        txRunner
	guard     *Guard
	repo      Repository
	items     items.Repository
	accounts  payoutAccounts
	connector payouts.Connector
	ledger    ledger.Service
	outbox    outbox.Emitter
	arrival   time.Duration
	metrics   *metrics.FulfillmentMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Guard == nil:
		return nil, fmt.Errorf("reservation guard required")
	case params.Repo == nil:
		return nil, fmt.Errorf("fulfillment repository required")
	case params.Items == nil:
		return nil, fmt.Errorf("item repository required")
	case params.Accounts == nil:
		return nil, fmt.Errorf("payout accounts required")
	case params.Connector == nil:
		return nil, fmt.Errorf("payout connector required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:        params.Tx,
		guard:     params.Guard,
		repo:      params.Repo,
		items:     params.Items,
		accounts:  params.Accounts,
		connector: params.Connector,
		ledger:    params.Ledger,
		outbox:    params.Outbox,
		arrival:   params.EstimatedArrival,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// CreateFulfillment reserves the item, verifies the organizer can be paid and
// initiates the transfer. Retrying with the same idempotency key resumes a
// pending fulfillment or returns the one already in flight.
func (s *Service) CreateFulfillment(ctx context.Context, input CreateInput) (result *Result, err error) {
	defer func() { s.observeRequest(err) }()

	fulfillment, err := s.reserveOrResume(ctx, input)
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithFulfillmentID(ctx, fulfillment.ID.String())
		ctx = s.logg.WithItemID(ctx, fulfillment.ItemID.String())
	}
	if fulfillment.Status != enums.FulfillmentStatusPending {
		return s.describe(ctx, fulfillment)
	}

	account, err := s.accounts.FindForUser(ctx, input.RequestedBy)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodePayoutSetupRequired, "connect a payout account before redeeming").
			WithAction(pkgerrors.ActionOnboard)
	}
	readiness, err := s.accounts.RefreshReadiness(ctx, account)
	if err != nil {
		s.failAfterReadiness(ctx, fulfillment.ID, err)
		return nil, err
	}
	if !readiness.Ready() {
		return nil, pkgerrors.New(pkgerrors.CodePayoutSetupRequired, "finish payout account onboarding before redeeming").
			WithAction(pkgerrors.ActionRefreshOnboarding)
	}

	transfer, err := s.connector.InitiateTransfer(ctx, payouts.TransferRequest{
		ExternalAccountID: account.ExternalAccountID,
		AmountCents:       fulfillment.NetAmountCents,
		IdempotencyKey:    fulfillment.IdempotencyKey,
		FulfillmentID:     fulfillment.ID,
		Metadata: map[string]string{
			"item_id":  fulfillment.ItemID.String(),
			"event_id": fulfillment.EventID.String(),
		},
	})
	if err != nil {
		rejection, rejected := payouts.RejectionOf(err)
		if !rejected {
			// Outcome unknown: the row stays pending for a retry or the reconcile job.
			if s.logg != nil {
				s.logg.Warn(ctx, "transfer outcome unknown, fulfillment left pending")
			}
			return nil, err
		}
		if _, failErr := s.FailFulfillment(ctx, SettlementInput{
			FulfillmentID: fulfillment.ID,
			FailureCode:   rejection.Code,
			FailureReason: rejection.Message,
		}); failErr != nil && s.logg != nil {
			s.logg.Error(ctx, "record rejected transfer", failErr)
		}
		return nil, err
	}

	updated, err := s.markProcessing(ctx, fulfillment.ID, transfer.Reference)
	if err != nil {
		return nil, err
	}
	s.metrics.AddPayoutCents(updated.NetAmountCents)
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "transfer_reference", transfer.Reference), "payout initiated")
	}
	return s.describe(ctx, updated)
}

// failAfterReadiness releases the item when the payout account cannot be
// checked. Only PayoutSetupRequired keeps the reservation pending.
func (s *Service) failAfterReadiness(ctx context.Context, id uuid.UUID, cause error) {
	if pkgerrors.HasCode(cause, pkgerrors.CodePayoutSetupRequired) {
		return
	}
	code, reason := string(pkgerrors.CodeDependency), cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		code, reason = string(typed.Code()), typed.Message()
	}
	if _, err := s.FailFulfillment(ctx, SettlementInput{
		FulfillmentID: id,
		FailureCode:   code,
		FailureReason: reason,
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "record failed readiness check", err)
	}
}

func (s *Service) reserveOrResume(ctx context.Context, input CreateInput) (*models.Fulfillment, error) {
	reservation, err := s.guard.Reserve(ctx, input)
	if err == nil {
		return reservation.Fulfillment, nil
	}
	existing := DuplicateOf(err)
	if existing == nil || existing.RequestedByUserID != input.RequestedBy || existing.ItemID != input.ItemID {
		return nil, err
	}
	switch existing.Status {
	case enums.FulfillmentStatusPending, enums.FulfillmentStatusProcessing, enums.FulfillmentStatusCompleted:
		return existing, nil
	default:
		return nil, err
	}
}

// markProcessing stores the transfer reference. A settlement webhook may have
// beaten us here, in which case the row already carries the same reference.
// A row failed while the transfer was in flight keeps its status but records
// the reference, and the caller gets StateConflict.
func (s *Service) markProcessing(ctx context.Context, id uuid.UUID, reference string) (*models.Fulfillment, error) {
	var (
		out      *models.Fulfillment
		orphaned bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock fulfillment")
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment not found")
		}
		if current.Status != enums.FulfillmentStatusPending {
			if current.TransferReference != nil && *current.TransferReference == reference {
				out = current
				return nil
			}
			if current.Status == enums.FulfillmentStatusFailed && current.TransferReference == nil {
				if err := s.recordOrphanedTransfer(ctx, tx, current, reference); err != nil {
					return err
				}
				out, orphaned = current, true
				return nil
			}
			return stateConflict(current.Status, enums.FulfillmentStatusProcessing)
		}
		updated, err := s.applyProcessing(ctx, tx, current, reference)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	if orphaned {
		conflict := stateConflict(out.Status, enums.FulfillmentStatusProcessing)
		if s.logg != nil {
			alertCtx := s.logg.WithFields(ctx, map[string]any{
				"transfer_reference": reference,
				"failure_code":       derefString(out.FailureCode),
			})
			s.logg.Error(alertCtx, "transfer sent for a fulfillment that was already failed", conflict)
		}
		return nil, conflict
	}
	return out, nil
}

// recordOrphanedTransfer keeps the reference of money that left after the row
// was failed so settlement and support can find it.
func (s *Service) recordOrphanedTransfer(ctx context.Context, tx *gorm.DB, current *models.Fulfillment, reference string) error {
	ok, err := s.repo.WithTx(tx).Transition(ctx, current.ID, current.Status, current.Status, map[string]any{
		"transfer_reference": reference,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transfer reference")
	}
	if !ok {
		return stateConflict(current.Status, enums.FulfillmentStatusProcessing)
	}
	current.TransferReference = &reference
	return s.recordLedger(ctx, tx, current, enums.LedgerEventTypePayoutInitiated, map[string]any{
		"transfer_reference": reference,
		"after_failure":      true,
	})
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// GetFulfillment returns a fulfillment to the user who requested it.
func (s *Service) GetFulfillment(ctx context.Context, requester, id uuid.UUID) (*Result, error) {
	fulfillment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment")
	}
	if fulfillment == nil || fulfillment.RequestedByUserID != requester {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment not found")
	}
	return s.describe(ctx, fulfillment)
}

func (s *Service) describe(ctx context.Context, fulfillment *models.Fulfillment) (*Result, error) {
	item, err := s.items.FindByID(ctx, fulfillment.ItemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load item")
	}
	event, err := s.items.FindEvent(ctx, fulfillment.EventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load event")
	}

	start := s.now()
	if fulfillment.ProcessingStartedAt != nil {
		start = *fulfillment.ProcessingStartedAt
	}
	result := &Result{
		Fulfillment: fulfillment,
		Breakdown: fees.Breakdown{
			GrossCents: fulfillment.GrossAmountCents,
			FeeCents:   fulfillment.PlatformFeeCents,
			NetCents:   fulfillment.NetAmountCents,
		},
		EstimatedArrival: start.Add(s.arrival),
		Item:             Ref{ID: fulfillment.ItemID},
		Event:            Ref{ID: fulfillment.EventID},
	}
	if item != nil {
		result.Item.Title = item.Title
	}
	if event != nil {
		result.Event.Title = event.Title
	}
	return result, nil
}

func (s *Service) observeRequest(err error) {
	if err == nil {
		s.metrics.ObserveRequest(outcomeOK)
		return
	}
	if typed := pkgerrors.As(err); typed != nil {
		s.metrics.ObserveRequest(string(typed.Code()))
		return
	}
	s.metrics.ObserveRequest(string(pkgerrors.CodeInternal))
}

func stateConflict(from, to enums.FulfillmentStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move fulfillment from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

func ledgerMetadata(fields map[string]any) json.RawMessage {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return raw
}
