package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/wishpot/wishpot-backend/internal/contributions"
	"github.com/wishpot/wishpot-backend/internal/fulfillments"
	"github.com/wishpot/wishpot-backend/internal/payouts"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
)

func TestHandlePaymentIntentSucceededAppliesContribution(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)
	itemID := uuid.New()
	intent := stripe.PaymentIntent{
		ID:             "pi_123",
		Amount:         2500,
		AmountReceived: 2500,
		Metadata: map[string]string{
			metaItemID:           itemID.String(),
			metaContributorName:  "Aunt May",
			metaContributorEmail: "may@example.com",
		},
	}
	event := buildEvent(t, stripe.EventTypePaymentIntentSucceeded, intent)
	event.Created = 1767225600

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(ledger.inputs) != 1 {
		t.Fatalf("expected one contribution, got %d", len(ledger.inputs))
	}
	got := ledger.inputs[0]
	if got.ItemID != itemID || got.AmountCents != 2500 || got.ExternalReference != "pi_123" {
		t.Fatalf("unexpected input %+v", got)
	}
	if got.ContributorName != "Aunt May" || got.ContributorEmail == nil || *got.ContributorEmail != "may@example.com" {
		t.Fatalf("unexpected contributor %+v", got)
	}
	if !got.ConfirmedAt.Equal(time.Unix(1767225600, 0)) {
		t.Fatalf("unexpected confirmedAt %s", got.ConfirmedAt)
	}
}

func TestHandlePaymentIntentWithoutItemIsAcknowledged(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)
	event := buildEvent(t, stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{ID: "pi_orphan", Amount: 100})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected orphan payment to be acknowledged, got %v", err)
	}
	if len(ledger.inputs) != 0 {
		t.Fatalf("ledger should not be called")
	}
}

func TestHandleTransferEventsSettleFulfillment(t *testing.T) {
	fulfillmentID := uuid.New()
	transfer := stripe.Transfer{
		ID:            "tr_1",
		TransferGroup: fulfillmentID.String(),
		Metadata:      map[string]string{metaFulfillmentID: fulfillmentID.String()},
	}

	cases := []struct {
		name       string
		eventType  stripe.EventType
		reversed   bool
		wantFailed string
	}{
		{name: "created", eventType: stripe.EventTypeTransferCreated},
		{name: "paid", eventType: eventTransferPaid},
		{name: "created but reversed", eventType: stripe.EventTypeTransferCreated, reversed: true, wantFailed: payouts.CodeTransferReversed},
		{name: "reversed", eventType: stripe.EventTypeTransferReversed, reversed: true, wantFailed: payouts.CodeTransferReversed},
		{name: "failed", eventType: eventTransferFailed, wantFailed: failureTransferFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, settler, _ := newTestService(t)
			payload := transfer
			payload.Reversed = tc.reversed
			if err := svc.HandleEvent(context.Background(), buildEvent(t, tc.eventType, payload)); err != nil {
				t.Fatalf("handle event: %v", err)
			}

			var in fulfillments.SettlementInput
			switch {
			case tc.wantFailed != "":
				if len(settler.failed) != 1 || len(settler.completed) != 0 {
					t.Fatalf("expected one failure, got failed=%d completed=%d", len(settler.failed), len(settler.completed))
				}
				in = settler.failed[0]
				if in.FailureCode != tc.wantFailed {
					t.Fatalf("failure code %q, want %q", in.FailureCode, tc.wantFailed)
				}
			default:
				if len(settler.completed) != 1 || len(settler.failed) != 0 {
					t.Fatalf("expected one completion, got failed=%d completed=%d", len(settler.failed), len(settler.completed))
				}
				in = settler.completed[0]
			}
			if in.FulfillmentID != fulfillmentID || in.TransferReference != "tr_1" {
				t.Fatalf("unexpected settlement input %+v", in)
			}
		})
	}
}

func TestHandleTransferFallsBackToTransferGroup(t *testing.T) {
	svc, _, settler, _ := newTestService(t)
	fulfillmentID := uuid.New()
	event := buildEvent(t, stripe.EventTypeTransferCreated, stripe.Transfer{ID: "tr_2", TransferGroup: fulfillmentID.String()})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if settler.completed[0].FulfillmentID != fulfillmentID {
		t.Fatalf("expected fulfillment id from transfer group")
	}
}

func TestHandleTransferSettlementErrors(t *testing.T) {
	event := func(t *testing.T) *stripe.Event {
		return buildEvent(t, stripe.EventTypeTransferCreated, stripe.Transfer{ID: "tr_3"})
	}

	svc, _, settler, _ := newTestService(t)
	settler.err = pkgerrors.New(pkgerrors.CodeStateConflict, "already failed")
	if err := svc.HandleEvent(context.Background(), event(t)); err != nil {
		t.Fatalf("state conflicts should be acknowledged, got %v", err)
	}

	settler.err = pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment not found")
	if err := svc.HandleEvent(context.Background(), event(t)); err != nil {
		t.Fatalf("unknown transfers should be acknowledged, got %v", err)
	}

	settler.err = errors.New("connection refused")
	if err := svc.HandleEvent(context.Background(), event(t)); err == nil {
		t.Fatal("expected infrastructure errors to be returned for redelivery")
	}
}

func TestHandleAccountUpdatedSyncsReadiness(t *testing.T) {
	svc, _, _, accounts := newTestService(t)
	account := stripe.Account{
		ID:               "acct_9",
		DetailsSubmitted: true,
		ChargesEnabled:   true,
		PayoutsEnabled:   true,
		Capabilities:     &stripe.AccountCapabilities{Transfers: stripe.AccountCapabilityStatusActive},
	}
	if err := svc.HandleEvent(context.Background(), buildEvent(t, stripe.EventTypeAccountUpdated, account)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	got, ok := accounts.synced["acct_9"]
	if !ok {
		t.Fatal("expected readiness sync")
	}
	if !got.Ready() {
		t.Fatalf("expected ready account, got %+v", got)
	}
}

func TestHandleIgnoresUnrelatedEvents(t *testing.T) {
	svc, ledger, settler, accounts := newTestService(t)
	if err := svc.HandleEvent(context.Background(), buildEvent(t, stripe.EventTypeCustomerCreated, map[string]string{"id": "cus_1"})); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(ledger.inputs)+len(settler.completed)+len(settler.failed)+len(accounts.synced) != 0 {
		t.Fatal("unrelated events must not reach any service")
	}
	if err := svc.HandleEvent(context.Background(), &stripe.Event{}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty event, got %v", err)
	}
}

func newTestService(t *testing.T) (*Service, *fakeLedger, *fakeSettler, *fakeAccounts) {
	t.Helper()
	ledger := &fakeLedger{}
	settler := &fakeSettler{}
	accounts := &fakeAccounts{synced: map[string]payouts.Readiness{}}
	svc, err := NewService(ServiceParams{Contributions: ledger, Fulfillments: settler, Accounts: accounts})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return svc, ledger, settler, accounts
}

func buildEvent(t *testing.T, eventType stripe.EventType, object any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

type fakeLedger struct {
	inputs []contributions.ApplyPaymentInput
}

func (f *fakeLedger) ApplyConfirmedPayment(ctx context.Context, input contributions.ApplyPaymentInput) (*contributions.ApplyResult, error) {
	f.inputs = append(f.inputs, input)
	return &contributions.ApplyResult{Applied: true}, nil
}

type fakeSettler struct {
	completed []fulfillments.SettlementInput
	failed    []fulfillments.SettlementInput
	err       error
}

func (f *fakeSettler) CompleteFulfillment(ctx context.Context, in fulfillments.SettlementInput) (*models.Fulfillment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.completed = append(f.completed, in)
	return &models.Fulfillment{ID: in.FulfillmentID}, nil
}

func (f *fakeSettler) FailFulfillment(ctx context.Context, in fulfillments.SettlementInput) (*models.Fulfillment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.failed = append(f.failed, in)
	return &models.Fulfillment{ID: in.FulfillmentID}, nil
}

type fakeAccounts struct {
	synced map[string]payouts.Readiness
}

func (f *fakeAccounts) SyncReadiness(ctx context.Context, externalAccountID string, readiness payouts.Readiness) error {
	f.synced[externalAccountID] = readiness
	return nil
}
