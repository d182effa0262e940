package fulfillments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wishpot/wishpot-backend/pkg/enums"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
)

func TestCompleteFulfillment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.readyAccount()
	item := h.item(10000, 12000)
	f := h.processing(item, "complete-key-000001")

	done, err := h.svc.CompleteFulfillment(ctx, SettlementInput{TransferReference: *f.TransferReference})
	require.NoError(t, err)
	require.Equal(t, enums.FulfillmentStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	stored := h.reloadItem(item.ID)
	require.True(t, stored.Fulfilled)
	require.NotNil(t, stored.FulfilledAt)
	require.EqualValues(t, 12000, stored.AccumulatedAmountCents)

	require.ElementsMatch(t, []enums.LedgerEventType{
		enums.LedgerEventTypePayoutInitiated,
		enums.LedgerEventTypePayoutCompleted,
	}, h.ledgerTypes(f.ID))
	require.Contains(t, h.outboxTypes(f.ID), enums.EventFulfillmentCompleted)

	again, err := h.svc.CompleteFulfillment(ctx, SettlementInput{FulfillmentID: f.ID})
	require.NoError(t, err)
	require.Equal(t, enums.FulfillmentStatusCompleted, again.Status)
	require.Len(t, h.ledgerTypes(f.ID), 2)

	_, err = h.svc.FailFulfillment(ctx, SettlementInput{FulfillmentID: f.ID, FailureCode: "late"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestCompletePendingWithReferencePassesThroughProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.item(500, 500)
	res, err := h.guard.Reserve(ctx, h.input(item, "early-webhook-00001"))
	require.NoError(t, err)

	done, err := h.svc.CompleteFulfillment(ctx, SettlementInput{
		FulfillmentID:     res.Fulfillment.ID,
		TransferReference: "tr_early",
	})
	require.NoError(t, err)
	require.Equal(t, enums.FulfillmentStatusCompleted, done.Status)
	require.Equal(t, "tr_early", *done.TransferReference)
	require.NotNil(t, done.ProcessingStartedAt)
	require.ElementsMatch(t, []enums.LedgerEventType{
		enums.LedgerEventTypePayoutInitiated,
		enums.LedgerEventTypePayoutCompleted,
	}, h.ledgerTypes(done.ID))

	// The orchestrator arriving late with the same reference is tolerated.
	same, err := h.svc.markProcessing(ctx, done.ID, "tr_early")
	require.NoError(t, err)
	require.Equal(t, enums.FulfillmentStatusCompleted, same.Status)

	_, err = h.svc.markProcessing(ctx, done.ID, "tr_other")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestCompleteFulfillmentConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.item(500, 500)
	res, err := h.guard.Reserve(ctx, h.input(item, "conflict-key-000001"))
	require.NoError(t, err)
	id := res.Fulfillment.ID

	_, err = h.svc.CompleteFulfillment(ctx, SettlementInput{FulfillmentID: id})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, enums.FulfillmentStatusPending, h.reloadFulfillment(id).Status)

	_, err = h.svc.CompleteFulfillment(ctx, SettlementInput{FulfillmentID: uuid.New()})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = h.svc.CompleteFulfillment(ctx, SettlementInput{TransferReference: "tr_unknown"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = h.svc.CompleteFulfillment(ctx, SettlementInput{})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.FailFulfillment(ctx, SettlementInput{FulfillmentID: id})
	require.NoError(t, err)
	_, err = h.svc.CompleteFulfillment(ctx, SettlementInput{FulfillmentID: id, TransferReference: "tr_late"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestSettlementRejectsMismatchedReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.readyAccount()
	item := h.item(500, 500)
	f := h.processing(item, "mismatch-key-000001")

	_, err := h.svc.CompleteFulfillment(ctx, SettlementInput{FulfillmentID: f.ID, TransferReference: "tr_someone_else"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, enums.FulfillmentStatusProcessing, h.reloadFulfillment(f.ID).Status)
}

func TestFailFulfillment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.readyAccount()
	item := h.item(500, 500)
	f := h.processing(item, "fail-key-0000000001")

	failed, err := h.svc.FailFulfillment(ctx, SettlementInput{
		TransferReference: *f.TransferReference,
		FailureCode:       "transfer_reversed",
	})
	require.NoError(t, err)
	require.Equal(t, enums.FulfillmentStatusFailed, failed.Status)
	require.Equal(t, "transfer_reversed", *failed.FailureCode)
	require.Equal(t, "transfer failed", *failed.FailureReason)
	require.Equal(t, fixedNow, failed.FailedAt.UTC())

	require.False(t, h.reloadItem(item.ID).Fulfilled)
	require.ElementsMatch(t, []enums.LedgerEventType{
		enums.LedgerEventTypePayoutInitiated,
		enums.LedgerEventTypePayoutFailed,
	}, h.ledgerTypes(f.ID))
	require.Contains(t, h.outboxTypes(f.ID), enums.EventFulfillmentFailed)

	_, err = h.svc.FailFulfillment(ctx, SettlementInput{FulfillmentID: f.ID})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	// The item is free for a new redemption.
	next, err := h.svc.CreateFulfillment(ctx, h.input(item, "fail-key-0000000002"))
	require.NoError(t, err)
	require.Equal(t, enums.FulfillmentStatusProcessing, next.Fulfillment.Status)
}

func TestFailPendingRecordsReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.item(500, 500)
	res, err := h.guard.Reserve(ctx, h.input(item, "fail-pending-key-01"))
	require.NoError(t, err)

	failed, err := h.svc.FailFulfillment(ctx, SettlementInput{
		FulfillmentID:     res.Fulfillment.ID,
		TransferReference: "tr_failed",
		FailureCode:       "initiation_abandoned",
		FailureReason:     "no transfer found",
	})
	require.NoError(t, err)
	stored := h.reloadFulfillment(failed.ID)
	require.Equal(t, "tr_failed", *stored.TransferReference)
	require.Equal(t, "initiation_abandoned", *stored.FailureCode)
	require.Equal(t, "no transfer found", *stored.FailureReason)
}
