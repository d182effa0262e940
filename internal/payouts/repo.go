package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/internal/repo"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
)

// AccountRepository persists organizer payout accounts.
type AccountRepository interface {
	WithTx(tx *gorm.DB) AccountRepository
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
	FindByExternalID(ctx context.Context, externalAccountID string) (*models.PayoutAccount, error)
	Create(ctx context.Context, account *models.PayoutAccount) error
	UpdateReadiness(ctx context.Context, accountID uuid.UUID, readiness Readiness, at time.Time) error
}

type accountRepository struct {
	repo.Base
}

func NewAccountRepository(conn *gorm.DB) AccountRepository {
	return &accountRepository{Base: repo.NewBase(conn)}
}

func (r *accountRepository) WithTx(tx *gorm.DB) AccountRepository {
	return &accountRepository{Base: r.Rebind(tx)}
}

func (r *accountRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	return r.first(r.DB(ctx).Where("user_id = ?", userID))
}

func (r *accountRepository) FindByExternalID(ctx context.Context, externalAccountID string) (*models.PayoutAccount, error) {
	return r.first(r.DB(ctx).Where("external_account_id = ?", externalAccountID))
}

func (r *accountRepository) first(q *gorm.DB) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	if err := q.First(&account).Error; err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *models.PayoutAccount) error {
	return r.DB(ctx).Create(account).Error
}

func (r *accountRepository) UpdateReadiness(ctx context.Context, accountID uuid.UUID, readiness Readiness, at time.Time) error {
	return r.DB(ctx).Model(&models.PayoutAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"onboarding_completed": readiness.OnboardingCompleted,
			"charges_enabled":      readiness.ChargesEnabled,
			"payouts_enabled":      readiness.PayoutsEnabled,
			"transfers_enabled":    readiness.TransfersEnabled,
			"refreshed_at":         at,
			"updated_at":           at,
		}).Error
}
