// Package contributions applies confirmed payments to item funding exactly once.
package contributions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/internal/items"
	"github.com/wishpot/wishpot-backend/internal/ledger"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
	"github.com/wishpot/wishpot-backend/pkg/metrics"
	"github.com/wishpot/wishpot-backend/pkg/outbox"
	"github.com/wishpot/wishpot-backend/pkg/outbox/payloads"
)

// AnonymousContributor is stored when the payment carried no display name.
const AnonymousContributor = "Anonymous"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the contribution ledger.
type Service interface {
	ApplyConfirmedPayment(ctx context.Context, input ApplyPaymentInput) (*ApplyResult, error)
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.Contribution, error)
}

// ApplyPaymentInput describes one confirmed payment from the processor.
type ApplyPaymentInput struct {
	ItemID            uuid.UUID
	AmountCents       int64
	ExternalReference string
	ContributorName   string
	ContributorEmail  *string
	ConfirmedAt       time.Time
}

// ApplyResult carries the stored contribution and the item after the call.
// Applied is false when the reference had already been recorded.
type ApplyResult struct {
	Contribution *models.Contribution
	Applied      bool
	Item         *models.Item
}

type ServiceParams struct {
	Tx      txRunner
	Repo    Repository
	Items   items.Repository
	Ledger  ledger.Service
	Outbox  outbox.Emitter
	Metrics *metrics.FulfillmentMetrics
	Logger  *logger.Logger
}

type service struct {
	tx      txRunner
	repo    Repository
	items   items.Repository
	ledger  ledger.Service
	outbox  outbox.Emitter
	metrics *metrics.FulfillmentMetrics
	logg    *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("contribution repository required")
	}
	if params.Items == nil {
		return nil, fmt.Errorf("item repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		tx:      params.Tx,
		repo:    params.Repo,
		items:   params.Items,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

func (s *service) ApplyConfirmedPayment(ctx context.Context, input ApplyPaymentInput) (*ApplyResult, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "contribution amount must be positive")
	}
	reference := strings.TrimSpace(input.ExternalReference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	if input.ItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	name := strings.TrimSpace(input.ContributorName)
	if name == "" {
		name = AnonymousContributor
	}
	confirmedAt := input.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = time.Now()
	}

	var result *ApplyResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		itemRepo := s.items.WithTx(tx)
		contributionRepo := s.repo.WithTx(tx)

		item, err := itemRepo.FindByIDForUpdate(ctx, input.ItemID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock item")
		}
		if item == nil {
			return pkgerrors.New(pkgerrors.CodeItemNotFound, "item not found")
		}

		contribution := &models.Contribution{
			ItemID:            item.ID,
			AmountCents:       input.AmountCents,
			ExternalReference: reference,
			ContributorName:   name,
			ContributorEmail:  input.ContributorEmail,
			ConfirmedAt:       confirmedAt.UTC(),
		}
		inserted, err := contributionRepo.InsertIfAbsent(ctx, contribution)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert contribution")
		}
		if !inserted {
			existing, err := contributionRepo.FindByExternalReference(ctx, reference)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load recorded contribution")
			}
			if existing == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "contribution conflict without stored row")
			}
			result = &ApplyResult{Contribution: existing, Item: item}
			return nil
		}

		if err := itemRepo.AddToAccumulated(ctx, item.ID, input.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update accumulated amount")
		}
		item.AccumulatedAmountCents += input.AmountCents

		metadata, err := json.Marshal(map[string]any{
			"external_reference":       reference,
			"accumulated_amount_cents": item.AccumulatedAmountCents,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode ledger metadata")
		}
		if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			ItemID:         item.ID,
			ContributionID: &contribution.ID,
			Type:           enums.LedgerEventTypeContributionApplied,
			AmountCents:    input.AmountCents,
			Metadata:       metadata,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record ledger event")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventContributionApplied,
			AggregateType: enums.AggregateItem,
			AggregateID:   item.ID,
			Data: payloads.ContributionAppliedEvent{
				ContributionID:         contribution.ID,
				ItemID:                 item.ID,
				AmountCents:            input.AmountCents,
				AccumulatedAmountCents: item.AccumulatedAmountCents,
				PriceCents:             item.PriceCents,
				ExternalReference:      reference,
				FullyFunded:            item.AccumulatedAmountCents >= item.PriceCents,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit contribution event")
		}

		result = &ApplyResult{Contribution: contribution, Applied: true, Item: item}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveContribution(result.Applied)
	if s.logg != nil {
		ctx = s.logg.WithItemID(ctx, result.Item.ID.String())
		ctx = s.logg.WithFields(ctx, map[string]any{
			"external_reference": reference,
			"applied":            result.Applied,
		})
		s.logg.Info(ctx, "confirmed payment processed")
	}
	return result, nil
}

func (s *service) ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.Contribution, error) {
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	return s.repo.ListByItem(ctx, itemID)
}
