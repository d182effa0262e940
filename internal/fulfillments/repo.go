package fulfillments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/internal/repo"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
)

// Constraint names the reservation guard maps back to domain errors.
const (
	idempotencyKeyConstraint = "fulfillments_idempotency_key_key"
	activeItemConstraint     = "fulfillments_active_item_key"
)

// Repository persists fulfillments. Status changes go through Transition so
// every write states the status it expects to replace.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, fulfillment *models.Fulfillment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Fulfillment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Fulfillment, error)
	FindByTransferReferenceForUpdate(ctx context.Context, reference string) (*models.Fulfillment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Fulfillment, error)
	FindActiveByItem(ctx context.Context, itemID uuid.UUID) (*models.Fulfillment, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.FulfillmentStatus, fields map[string]any) (bool, error)
	ListByStatusUpdatedBefore(ctx context.Context, status enums.FulfillmentStatus, before time.Time, limit int) ([]models.Fulfillment, error)
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

func (r *repository) Create(ctx context.Context, fulfillment *models.Fulfillment) error {
	return r.DB(ctx).Create(fulfillment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Fulfillment, error) {
	return first(r.DB(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Fulfillment, error) {
	return first(r.Locked(ctx).Where("id = ?", id))
}

func (r *repository) FindByTransferReferenceForUpdate(ctx context.Context, reference string) (*models.Fulfillment, error) {
	return first(r.Locked(ctx).Where("transfer_reference = ?", reference))
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Fulfillment, error) {
	return first(r.DB(ctx).Where("idempotency_key = ?", key))
}

func (r *repository) FindActiveByItem(ctx context.Context, itemID uuid.UUID) (*models.Fulfillment, error) {
	return first(r.DB(ctx).
		Where("item_id = ? AND status IN ?", itemID, enums.ActiveFulfillmentStatuses).
		Order("created_at DESC"))
}

// Transition moves id from one status to another and applies fields in the
// same UPDATE. It reports false when the row was not in the expected status.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.FulfillmentStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.DB(ctx).Model(&models.Fulfillment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByStatusUpdatedBefore(ctx context.Context, status enums.FulfillmentStatus, before time.Time, limit int) ([]models.Fulfillment, error) {
	var rows []models.Fulfillment
	q := r.DB(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func first(q *gorm.DB) (*models.Fulfillment, error) {
	var fulfillment models.Fulfillment
	if err := q.First(&fulfillment).Error; err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &fulfillment, nil
}
