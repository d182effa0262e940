package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/db/dbtest"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
)

type fakeRepository struct {
	createFn func(ctx context.Context, event *models.LedgerEvent) error
	events   []models.LedgerEvent
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, event *models.LedgerEvent) error {
	if f.createFn != nil {
		return f.createFn(ctx, event)
	}
	return nil
}

func (f *fakeRepository) ListByItemID(ctx context.Context, itemID uuid.UUID) ([]models.LedgerEvent, error) {
	return f.events, nil
}

func (f *fakeRepository) ListByFulfillmentID(ctx context.Context, fulfillmentID uuid.UUID) ([]models.LedgerEvent, error) {
	return f.events, nil
}

func TestService_RecordEvent(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	fulfillmentID := uuid.New()
	actor := uuid.New()
	metadata := json.RawMessage(`{"transfer_reference":"tr_123"}`)
	input := RecordLedgerEventInput{
		ItemID:        uuid.New(),
		FulfillmentID: &fulfillmentID,
		ActorUserID:   &actor,
		Type:          enums.LedgerEventTypePayoutInitiated,
		AmountCents:   9500,
		Metadata:      metadata,
	}

	var created *models.LedgerEvent
	repo.createFn = func(ctx context.Context, event *models.LedgerEvent) error {
		created = event
		return nil
	}

	got, err := svc.RecordEvent(context.Background(), input)
	if err != nil {
		t.Fatalf("RecordEvent error: %v", err)
	}
	if created == nil {
		t.Fatal("expected ledger event to be created")
	}
	if created.ItemID != input.ItemID || created.Type != input.Type || created.AmountCents != input.AmountCents {
		t.Fatalf("unexpected ledger event data: %+v", created)
	}
	if created.FulfillmentID == nil || *created.FulfillmentID != fulfillmentID {
		t.Fatalf("missing fulfillment reference: %+v", created)
	}
	if string(created.Metadata) != string(metadata) {
		t.Fatalf("metadata mismatch: %s", created.Metadata)
	}
	if got != created {
		t.Fatalf("service should return created event")
	}
}

func TestService_RecordEventValidation(t *testing.T) {
	svc, err := NewService(&fakeRepository{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	fulfillmentID := uuid.New()

	tests := []struct {
		name  string
		input RecordLedgerEventInput
	}{
		{
			name:  "missing item id",
			input: RecordLedgerEventInput{FulfillmentID: &fulfillmentID, Type: enums.LedgerEventTypePayoutCompleted},
		},
		{
			name:  "contribution without contribution id",
			input: RecordLedgerEventInput{ItemID: uuid.New(), Type: enums.LedgerEventTypeContributionApplied, AmountCents: 100},
		},
		{
			name:  "payout without fulfillment id",
			input: RecordLedgerEventInput{ItemID: uuid.New(), Type: enums.LedgerEventTypePayoutFailed},
		},
		{
			name:  "negative amount",
			input: RecordLedgerEventInput{ItemID: uuid.New(), FulfillmentID: &fulfillmentID, Type: enums.LedgerEventTypePayoutInitiated, AmountCents: -1},
		},
		{
			name:  "invalid type",
			input: RecordLedgerEventInput{ItemID: uuid.New(), FulfillmentID: &fulfillmentID, Type: enums.LedgerEventType("not_real")},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.RecordEvent(context.Background(), tc.input); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestService_RecordEventRepoError(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	expectedErr := errors.New("boom")
	repo.createFn = func(ctx context.Context, event *models.LedgerEvent) error {
		return expectedErr
	}

	contributionID := uuid.New()
	if _, err := svc.RecordEvent(context.Background(), RecordLedgerEventInput{
		ItemID:         uuid.New(),
		ContributionID: &contributionID,
		Type:           enums.LedgerEventTypeContributionApplied,
		AmountCents:    100,
	}); !errors.Is(err, expectedErr) {
		t.Fatalf("expected repo error to bubble up, got %v", err)
	}
}

func TestService_HasFulfillmentEvent(t *testing.T) {
	fulfillmentID := uuid.New()
	repo := &fakeRepository{events: []models.LedgerEvent{
		{FulfillmentID: &fulfillmentID, Type: enums.LedgerEventTypePayoutInitiated},
	}}
	svc, _ := NewService(repo)

	ok, err := svc.HasFulfillmentEvent(context.Background(), fulfillmentID, enums.LedgerEventTypePayoutInitiated)
	if err != nil || !ok {
		t.Fatalf("expected payout_initiated to be found, ok=%v err=%v", ok, err)
	}
	ok, err = svc.HasFulfillmentEvent(context.Background(), fulfillmentID, enums.LedgerEventTypePayoutCompleted)
	if err != nil || ok {
		t.Fatalf("did not expect payout_completed, ok=%v err=%v", ok, err)
	}
}

func TestRepository_PersistsAndLists(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	ctx := context.Background()
	itemID := uuid.New()
	contributionID := uuid.New()
	fulfillmentID := uuid.New()

	if _, err := svc.RecordEvent(ctx, RecordLedgerEventInput{
		ItemID: itemID, ContributionID: &contributionID,
		Type: enums.LedgerEventTypeContributionApplied, AmountCents: 2500,
	}); err != nil {
		t.Fatalf("record contribution: %v", err)
	}
	err = conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.WithTx(tx).RecordEvent(ctx, RecordLedgerEventInput{
			ItemID: itemID, FulfillmentID: &fulfillmentID,
			Type: enums.LedgerEventTypePayoutInitiated, AmountCents: 2375,
		})
		return err
	})
	if err != nil {
		t.Fatalf("record payout in tx: %v", err)
	}

	events, err := svc.ListItemEvents(ctx, itemID)
	if err != nil {
		t.Fatalf("list item events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	ok, err := svc.HasFulfillmentEvent(ctx, fulfillmentID, enums.LedgerEventTypePayoutInitiated)
	if err != nil || !ok {
		t.Fatalf("expected stored payout event, ok=%v err=%v", ok, err)
	}
}
