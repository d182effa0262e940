package contributions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wishpot/wishpot-backend/internal/repo"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
)

// Repository persists immutable contribution rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, contribution *models.Contribution) (bool, error)
	FindByExternalReference(ctx context.Context, reference string) (*models.Contribution, error)
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.Contribution, error)
}

type repository struct {
	repo.Base
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Rebind(tx)}
}

// InsertIfAbsent runs INSERT ... ON CONFLICT (external_reference) DO NOTHING and
// reports whether a row was written.
func (r *repository) InsertIfAbsent(ctx context.Context, contribution *models.Contribution) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_reference"}},
			DoNothing: true,
		}).
		Create(contribution)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByExternalReference(ctx context.Context, reference string) (*models.Contribution, error) {
	var contribution models.Contribution
	if err := r.DB(ctx).Where("external_reference = ?", reference).First(&contribution).Error; err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &contribution, nil
}

func (r *repository) ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.Contribution, error) {
	var rows []models.Contribution
	if err := r.DB(ctx).
		Where("item_id = ?", itemID).
		Order("confirmed_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
