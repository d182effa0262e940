package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/db/models"
)

// SeedEvent inserts an event owned by owner.
func SeedEvent(t *testing.T, conn *gorm.DB, owner uuid.UUID, title string) models.Event {
	t.Helper()
	event := models.Event{OwnerUserID: owner, Title: title}
	if err := conn.Create(&event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

// SeedItem inserts an item under eventID with the given price and funding.
func SeedItem(t *testing.T, conn *gorm.DB, eventID uuid.UUID, title string, priceCents, accumulatedCents int64) models.Item {
	t.Helper()
	item := models.Item{
		EventID:                eventID,
		Title:                  title,
		PriceCents:             priceCents,
		AccumulatedAmountCents: accumulatedCents,
	}
	if err := conn.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

// SeedPayoutAccount links user to a processor account with the given readiness.
func SeedPayoutAccount(t *testing.T, conn *gorm.DB, user uuid.UUID, externalID string, ready bool) models.PayoutAccount {
	t.Helper()
	account := models.PayoutAccount{
		UserID:              user,
		ExternalAccountID:   externalID,
		OnboardingCompleted: ready,
		ChargesEnabled:      ready,
		PayoutsEnabled:      ready,
		TransfersEnabled:    ready,
	}
	if err := conn.Create(&account).Error; err != nil {
		t.Fatalf("seed payout account: %v", err)
	}
	return account
}
