package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/wishpot/wishpot-backend/internal/fulfillments"
	"github.com/wishpot/wishpot-backend/internal/payouts"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
)

const (
	defaultReconcileLimit     = 100
	defaultReconcileLookback  = 30 * time.Minute
	defaultStalePendingAfter  = 24 * time.Hour
	reversedFailureReason     = "transfer reversed by processor"
	abandonedFailureReason    = "no transfer was created for this fulfillment"
	reconcileOutcomeCompleted = "completed"
	reconcileOutcomeFailed    = "failed"
	reconcileOutcomeSkipped   = "skipped"
)

// FulfillmentReconcileJobParams configures the settlement sweep.
type FulfillmentReconcileJobParams struct {
	Logger            *logger.Logger
	Fulfillments      fulfillmentLister
	Settler           fulfillmentSettler
	Connector         transferLookup
	Limit             int
	Lookback          time.Duration
	StalePendingAfter time.Duration
	Now               func() time.Time
}

type fulfillmentLister interface {
	ListByStatusUpdatedBefore(ctx context.Context, status enums.FulfillmentStatus, before time.Time, limit int) ([]models.Fulfillment, error)
}

type fulfillmentSettler interface {
	CompleteFulfillment(ctx context.Context, in fulfillments.SettlementInput) (*models.Fulfillment, error)
	FailFulfillment(ctx context.Context, in fulfillments.SettlementInput) (*models.Fulfillment, error)
}

type transferLookup interface {
	LookupTransfer(ctx context.Context, lookup payouts.TransferLookup) (*payouts.TransferStatus, error)
}

// NewFulfillmentReconcileJob settles fulfillments whose webhook never
// arrived. Stale pending rows are matched to a transfer by transfer group;
// processing rows are checked by transfer reference.
func NewFulfillmentReconcileJob(params FulfillmentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Fulfillments == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("fulfillment settler required")
	}
	if params.Connector == nil {
		return nil, fmt.Errorf("payout connector required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	stale := params.StalePendingAfter
	if stale <= 0 {
		stale = defaultStalePendingAfter
	}
	return &fulfillmentReconcileJob{
		logg:      params.Logger,
		repo:      params.Fulfillments,
		settler:   params.Settler,
		connector: params.Connector,
		now:       now,
		limit:     limit,
		lookback:  lookback,
		stale:     stale,
	}, nil
}

type fulfillmentReconcileJob struct {
	logg      *logger.Logger
	repo      fulfillmentLister
	settler   fulfillmentSettler
	connector transferLookup
	now       func() time.Time
	limit     int
	lookback  time.Duration
	stale     time.Duration
}

func (j *fulfillmentReconcileJob) Name() string { return "fulfillment-reconcile" }

func (j *fulfillmentReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	counts := map[string]int{}
	var errs error

	pending, err := j.repo.ListByStatusUpdatedBefore(ctx, enums.FulfillmentStatusPending, now.Add(-j.stale), j.limit)
	if err != nil {
		return fmt.Errorf("list stale pending fulfillments: %w", err)
	}
	for i := range pending {
		outcome, err := j.reconcilePending(ctx, &pending[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("fulfillment %s: %w", pending[i].ID, err))
			continue
		}
		counts[outcome]++
	}

	processing, err := j.repo.ListByStatusUpdatedBefore(ctx, enums.FulfillmentStatusProcessing, now.Add(-j.lookback), j.limit)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("list processing fulfillments: %w", err))
	}
	for i := range processing {
		outcome, err := j.reconcileProcessing(ctx, &processing[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("fulfillment %s: %w", processing[i].ID, err))
			continue
		}
		counts[outcome]++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"pending_candidates":    len(pending),
		"processing_candidates": len(processing),
		"completed":             counts[reconcileOutcomeCompleted],
		"failed":                counts[reconcileOutcomeFailed],
		"skipped":               counts[reconcileOutcomeSkipped],
		"errors":                len(multierr.Errors(errs)),
	})
	j.logg.Info(reportCtx, "fulfillment reconcile loop complete")
	return errs
}

// reconcilePending resolves a row whose transfer call never returned.
func (j *fulfillmentReconcileJob) reconcilePending(ctx context.Context, f *models.Fulfillment) (string, error) {
	status, err := j.connector.LookupTransfer(ctx, payouts.TransferLookup{FulfillmentID: f.ID})
	if err != nil {
		return "", err
	}
	if status == nil {
		return j.fail(ctx, fulfillments.SettlementInput{
			FulfillmentID: f.ID,
			FailureCode:   payouts.CodeInitiationAbandoned,
			FailureReason: abandonedFailureReason,
		})
	}
	return j.settle(ctx, f, status)
}

func (j *fulfillmentReconcileJob) reconcileProcessing(ctx context.Context, f *models.Fulfillment) (string, error) {
	lookup := payouts.TransferLookup{FulfillmentID: f.ID}
	if f.TransferReference != nil {
		lookup.Reference = *f.TransferReference
	}
	status, err := j.connector.LookupTransfer(ctx, lookup)
	if err != nil {
		return "", err
	}
	if status == nil {
		logCtx := j.logg.WithFulfillmentID(ctx, f.ID.String())
		j.logg.Warn(logCtx, "processing fulfillment has no transfer at the processor")
		return reconcileOutcomeSkipped, nil
	}
	return j.settle(ctx, f, status)
}

func (j *fulfillmentReconcileJob) settle(ctx context.Context, f *models.Fulfillment, status *payouts.TransferStatus) (string, error) {
	in := fulfillments.SettlementInput{FulfillmentID: f.ID, TransferReference: status.Reference}
	if status.Reversed {
		in.FailureCode = payouts.CodeTransferReversed
		in.FailureReason = reversedFailureReason
		return j.fail(ctx, in)
	}
	if _, err := j.settler.CompleteFulfillment(ctx, in); err != nil {
		return ignoreSettled(err)
	}
	return reconcileOutcomeCompleted, nil
}

func (j *fulfillmentReconcileJob) fail(ctx context.Context, in fulfillments.SettlementInput) (string, error) {
	if _, err := j.settler.FailFulfillment(ctx, in); err != nil {
		return ignoreSettled(err)
	}
	return reconcileOutcomeFailed, nil
}

// ignoreSettled treats a row a webhook settled concurrently as done.
func ignoreSettled(err error) (string, error) {
	if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		return reconcileOutcomeSkipped, nil
	}
	return "", err
}
