package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayoutAccount links an organizer to their connected account at the payment processor.
type PayoutAccount struct {
	ID                  uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID              uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:payout_accounts_user_id_key"`
	ExternalAccountID   string     `gorm:"column:external_account_id;not null;uniqueIndex:payout_accounts_external_account_id_key"`
	OnboardingCompleted bool       `gorm:"column:onboarding_completed;not null;default:false"`
	ChargesEnabled      bool       `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled      bool       `gorm:"column:payouts_enabled;not null;default:false"`
	TransfersEnabled    bool       `gorm:"column:transfers_enabled;not null;default:false"`
	RefreshedAt         *time.Time `gorm:"column:refreshed_at"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PayoutAccount) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Ready reports whether funds can be transferred to this account.
func (p PayoutAccount) Ready() bool {
	return p.OnboardingCompleted && p.ChargesEnabled && p.PayoutsEnabled && p.TransfersEnabled
}
