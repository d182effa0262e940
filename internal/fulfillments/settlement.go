package fulfillments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/internal/ledger"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/outbox"
	"github.com/wishpot/wishpot-backend/pkg/outbox/payloads"
)

// SettlementInput identifies a fulfillment by id or by transfer reference.
// When both are set the id wins and the reference is recorded if missing.
type SettlementInput struct {
	FulfillmentID     uuid.UUID
	TransferReference string
	FailureCode       string
	FailureReason     string
}

// CompleteFulfillment settles processing -> completed and marks the item
// fulfilled. Completing an already completed row is a no-op. A pending row
// with a known transfer reference passes through processing first.
func (s *Service) CompleteFulfillment(ctx context.Context, in SettlementInput) (*models.Fulfillment, error) {
	var out *models.Fulfillment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.lockForSettlement(ctx, tx, in)
		if err != nil {
			return err
		}

		switch current.Status {
		case enums.FulfillmentStatusCompleted:
			out = current
			return nil
		case enums.FulfillmentStatusPending:
			if in.TransferReference == "" {
				return stateConflict(current.Status, enums.FulfillmentStatusCompleted)
			}
			current, err = s.applyProcessing(ctx, tx, current, in.TransferReference)
			if err != nil {
				return err
			}
		case enums.FulfillmentStatusFailed:
			return stateConflict(current.Status, enums.FulfillmentStatusCompleted)
		}

		out, err = s.applyCompleted(ctx, tx, current)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logSettled(ctx, out)
	return out, nil
}

// FailFulfillment settles pending|processing -> failed.
func (s *Service) FailFulfillment(ctx context.Context, in SettlementInput) (*models.Fulfillment, error) {
	var out *models.Fulfillment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.lockForSettlement(ctx, tx, in)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(enums.FulfillmentStatusFailed) {
			return stateConflict(current.Status, enums.FulfillmentStatusFailed)
		}

		now := s.now()
		fields := map[string]any{
			"failed_at":      now,
			"failure_code":   nonEmpty(in.FailureCode, "unknown"),
			"failure_reason": nonEmpty(in.FailureReason, "transfer failed"),
		}
		if current.TransferReference == nil && in.TransferReference != "" {
			fields["transfer_reference"] = in.TransferReference
		}
		if err := s.transition(ctx, tx, current, enums.FulfillmentStatusFailed, fields); err != nil {
			return err
		}

		if err := s.recordLedger(ctx, tx, current, enums.LedgerEventTypePayoutFailed, map[string]any{
			"failure_code":   *current.FailureCode,
			"failure_reason": *current.FailureReason,
		}); err != nil {
			return err
		}
		if err := s.emitSettled(ctx, tx, current, enums.EventFulfillmentFailed, now); err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logSettled(ctx, out)
	return out, nil
}

func (s *Service) lockForSettlement(ctx context.Context, tx *gorm.DB, in SettlementInput) (*models.Fulfillment, error) {
	repo := s.repo.WithTx(tx)

	var (
		current *models.Fulfillment
		err     error
	)
	switch {
	case in.FulfillmentID != uuid.Nil:
		current, err = repo.FindByIDForUpdate(ctx, in.FulfillmentID)
	case in.TransferReference != "":
		current, err = repo.FindByTransferReferenceForUpdate(ctx, in.TransferReference)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fulfillment id or transfer reference required")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock fulfillment")
	}
	if current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment not found")
	}
	if in.TransferReference != "" && current.TransferReference != nil && *current.TransferReference != in.TransferReference {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transfer reference does not match fulfillment")
	}
	return current, nil
}

func (s *Service) applyProcessing(ctx context.Context, tx *gorm.DB, current *models.Fulfillment, reference string) (*models.Fulfillment, error) {
	now := s.now()
	if err := s.transition(ctx, tx, current, enums.FulfillmentStatusProcessing, map[string]any{
		"transfer_reference":    reference,
		"processing_started_at": now,
	}); err != nil {
		return nil, err
	}

	if err := s.recordLedger(ctx, tx, current, enums.LedgerEventTypePayoutInitiated, map[string]any{
		"transfer_reference": reference,
	}); err != nil {
		return nil, err
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutInitiated,
		AggregateType: enums.AggregateFulfillment,
		AggregateID:   current.ID,
		OccurredAt:    now,
		Data: payloads.PayoutInitiatedEvent{
			FulfillmentID:     current.ID,
			ItemID:            current.ItemID,
			TransferReference: reference,
			NetAmountCents:    current.NetAmountCents,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payout initiated")
	}
	return current, nil
}

func (s *Service) applyCompleted(ctx context.Context, tx *gorm.DB, current *models.Fulfillment) (*models.Fulfillment, error) {
	now := s.now()
	if err := s.transition(ctx, tx, current, enums.FulfillmentStatusCompleted, map[string]any{
		"completed_at": now,
	}); err != nil {
		return nil, err
	}

	if err := s.items.WithTx(tx).MarkFulfilled(ctx, current.ItemID, now); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "item is already fulfilled")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark item fulfilled")
	}

	if err := s.recordLedger(ctx, tx, current, enums.LedgerEventTypePayoutCompleted, nil); err != nil {
		return nil, err
	}
	if err := s.emitSettled(ctx, tx, current, enums.EventFulfillmentCompleted, now); err != nil {
		return nil, err
	}
	return current, nil
}

// transition writes the status change and mirrors it onto current.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, current *models.Fulfillment, to enums.FulfillmentStatus, fields map[string]any) error {
	if !current.Status.CanTransitionTo(to) {
		return stateConflict(current.Status, to)
	}
	ok, err := s.repo.WithTx(tx).Transition(ctx, current.ID, current.Status, to, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update fulfillment status")
	}
	if !ok {
		return stateConflict(current.Status, to)
	}

	current.Status = to
	for column, value := range fields {
		applyField(current, column, value)
	}
	s.metrics.ObserveTransition(string(to))
	return nil
}

func applyField(f *models.Fulfillment, column string, value any) {
	switch v := value.(type) {
	case string:
		switch column {
		case "transfer_reference":
			f.TransferReference = &v
		case "failure_code":
			f.FailureCode = &v
		case "failure_reason":
			f.FailureReason = &v
		}
	case time.Time:
		switch column {
		case "processing_started_at":
			f.ProcessingStartedAt = &v
		case "completed_at":
			f.CompletedAt = &v
		case "failed_at":
			f.FailedAt = &v
		}
	}
}

func (s *Service) recordLedger(ctx context.Context, tx *gorm.DB, f *models.Fulfillment, eventType enums.LedgerEventType, meta map[string]any) error {
	fulfillmentID := f.ID
	actor := f.RequestedByUserID
	input := ledger.RecordLedgerEventInput{
		ItemID:        f.ItemID,
		FulfillmentID: &fulfillmentID,
		ActorUserID:   &actor,
		Type:          eventType,
		AmountCents:   f.NetAmountCents,
	}
	if meta != nil {
		input.Metadata = ledgerMetadata(meta)
	}
	if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, input); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record ledger event")
	}
	return nil
}

func (s *Service) emitSettled(ctx context.Context, tx *gorm.DB, f *models.Fulfillment, eventType enums.OutboxEventType, at time.Time) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateFulfillment,
		AggregateID:   f.ID,
		OccurredAt:    at,
		Data: payloads.FulfillmentSettledEvent{
			FulfillmentID:     f.ID,
			ItemID:            f.ItemID,
			EventID:           f.EventID,
			Status:            f.Status,
			NetAmountCents:    f.NetAmountCents,
			TransferReference: f.TransferReference,
			FailureCode:       f.FailureCode,
			FailureReason:     f.FailureReason,
			SettledAt:         at,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit settlement event")
	}
	return nil
}

func (s *Service) logSettled(ctx context.Context, f *models.Fulfillment) {
	if s.logg == nil || f == nil {
		return
	}
	ctx = s.logg.WithFulfillmentID(ctx, f.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "status", f.Status), "fulfillment settled")
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
