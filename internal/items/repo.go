package items

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/internal/repo"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
)

// Repository reads and mutates items and their owning events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, itemID uuid.UUID) (*models.Item, error)
	FindByIDForUpdate(ctx context.Context, itemID uuid.UUID) (*models.Item, error)
	FindInEvent(ctx context.Context, eventID, itemID uuid.UUID) (*models.Item, error)
	FindInEventForUpdate(ctx context.Context, eventID, itemID uuid.UUID) (*models.Item, error)
	FindEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error)
	AddToAccumulated(ctx context.Context, itemID uuid.UUID, amountCents int64) error
	MarkFulfilled(ctx context.Context, itemID uuid.UUID, at time.Time) error
}

type repository struct {
	repo.Base
}

// NewRepository binds an item repository to conn.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Rebind(tx)}
}

func (r *repository) FindByID(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	return firstItem(r.DB(ctx).Where("id = ?", itemID))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	return firstItem(r.Locked(ctx).Where("id = ?", itemID))
}

func (r *repository) FindInEvent(ctx context.Context, eventID, itemID uuid.UUID) (*models.Item, error) {
	return firstItem(r.DB(ctx).Where("id = ? AND event_id = ?", itemID, eventID))
}

func (r *repository) FindInEventForUpdate(ctx context.Context, eventID, itemID uuid.UUID) (*models.Item, error) {
	return firstItem(r.Locked(ctx).Where("id = ? AND event_id = ?", itemID, eventID))
}

func (r *repository) FindEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.DB(ctx).Where("id = ?", eventID).First(&event).Error; err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// AddToAccumulated increments in SQL so the stored value never goes through a
// read-modify-write in Go.
func (r *repository) AddToAccumulated(ctx context.Context, itemID uuid.UUID, amountCents int64) error {
	res := r.DB(ctx).Model(&models.Item{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"accumulated_amount_cents": gorm.Expr("accumulated_amount_cents + ?", amountCents),
			"updated_at":               time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) MarkFulfilled(ctx context.Context, itemID uuid.UUID, at time.Time) error {
	res := r.DB(ctx).Model(&models.Item{}).
		Where("id = ? AND fulfilled = ?", itemID, false).
		Updates(map[string]any{
			"fulfilled":    true,
			"fulfilled_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func firstItem(q *gorm.DB) (*models.Item, error) {
	var item models.Item
	if err := q.First(&item).Error; err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}
