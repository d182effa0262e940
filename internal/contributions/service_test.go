package contributions

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"pgregory.net/rapid"

	"github.com/wishpot/wishpot-backend/internal/items"
	"github.com/wishpot/wishpot-backend/internal/ledger"
	"github.com/wishpot/wishpot-backend/pkg/db"
	"github.com/wishpot/wishpot-backend/pkg/db/dbtest"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/metrics"
	"github.com/wishpot/wishpot-backend/pkg/outbox"
)

type harness struct {
	svc    Service
	client *db.Client
	conn   *gorm.DB
	event  models.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Tx:      client,
		Repo:    NewRepository(conn),
		Items:   items.NewRepository(conn),
		Ledger:  ledgerSvc,
		Outbox:  outbox.NewService(outbox.NewRepository(conn), nil),
		Metrics: metrics.NewFulfillmentMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	return &harness{
		svc:    svc,
		client: client,
		conn:   conn,
		event:  dbtest.SeedEvent(t, conn, uuid.New(), "Wedding"),
	}
}

func (h *harness) reload(t require.TestingT, itemID uuid.UUID) models.Item {
	var item models.Item
	require.NoError(t, h.conn.Where("id = ?", itemID).First(&item).Error)
	return item
}

func (h *harness) count(t require.TestingT, table, column string, value any) int64 {
	var n int64
	require.NoError(t, h.conn.Table(table).Where(column+" = ?", value).Count(&n).Error)
	return n
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestApplyConfirmedPaymentValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, h.event.ID, "Blender", 5000, 0)

	_, err := h.svc.ApplyConfirmedPayment(ctx, ApplyPaymentInput{ItemID: item.ID, AmountCents: 0, ExternalReference: "pi_1"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidAmount))

	_, err = h.svc.ApplyConfirmedPayment(ctx, ApplyPaymentInput{ItemID: item.ID, AmountCents: -10, ExternalReference: "pi_1"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidAmount))

	_, err = h.svc.ApplyConfirmedPayment(ctx, ApplyPaymentInput{ItemID: item.ID, AmountCents: 100, ExternalReference: "  "})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.ApplyConfirmedPayment(ctx, ApplyPaymentInput{ItemID: uuid.New(), AmountCents: 100, ExternalReference: "pi_2"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeItemNotFound))

	require.EqualValues(t, 0, h.reload(t, item.ID).AccumulatedAmountCents)
}

// Two contributions fund an item exactly; the second one flips eligibility.
func TestApplyConfirmedPaymentFundsItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, h.event.ID, "Espresso machine", 10000, 0)
	email := "ana@example.com"

	first, err := h.svc.ApplyConfirmedPayment(ctx, ApplyPaymentInput{
		ItemID:            item.ID,
		AmountCents:       6000,
		ExternalReference: "pi_first",
		ContributorName:   "Ana",
		ContributorEmail:  &email,
	})
	require.NoError(t, err)
	require.True(t, first.Applied)
	require.EqualValues(t, 6000, first.Item.AccumulatedAmountCents)
	require.False(t, first.Item.Eligible())

	second, err := h.svc.ApplyConfirmedPayment(ctx, ApplyPaymentInput{
		ItemID:            item.ID,
		AmountCents:       4000,
		ExternalReference: "pi_second",
	})
	require.NoError(t, err)
	require.True(t, second.Applied)
	require.Equal(t, AnonymousContributor, second.Contribution.ContributorName)

	stored := h.reload(t, item.ID)
	require.EqualValues(t, 10000, stored.AccumulatedAmountCents)
	require.True(t, stored.Eligible())

	require.EqualValues(t, 2, h.count(t, "ledger_events", "item_id", item.ID))
	require.EqualValues(t, 2, h.count(t, "outbox_events", "aggregate_id", item.ID))

	rows, err := h.svc.ListByItem(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestApplyConfirmedPaymentReplayIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, h.event.ID, "Tent", 8000, 0)
	input := ApplyPaymentInput{ItemID: item.ID, AmountCents: 2500, ExternalReference: "pi_replay"}

	first, err := h.svc.ApplyConfirmedPayment(ctx, input)
	require.NoError(t, err)
	require.True(t, first.Applied)

	replay, err := h.svc.ApplyConfirmedPayment(ctx, input)
	require.NoError(t, err)
	require.False(t, replay.Applied)
	require.Equal(t, first.Contribution.ID, replay.Contribution.ID)
	require.EqualValues(t, 2500, replay.Item.AccumulatedAmountCents)

	require.EqualValues(t, 2500, h.reload(t, item.ID).AccumulatedAmountCents)
	require.EqualValues(t, 1, h.count(t, "contributions", "external_reference", "pi_replay"))
	require.EqualValues(t, 1, h.count(t, "ledger_events", "item_id", item.ID))
	require.EqualValues(t, 1, h.count(t, "outbox_events", "aggregate_id", item.ID))
}

func TestApplyConfirmedPaymentReplayKTimesProperty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		item := dbtest.SeedItem(t, h.conn, h.event.ID, "Gift", 1_000_000, 0)
		payments := rapid.IntRange(1, 5).Draw(rt, "payments")
		var want int64

		for p := 0; p < payments; p++ {
			amount := rapid.Int64Range(1, 50_000).Draw(rt, fmt.Sprintf("amount%d", p))
			replays := rapid.IntRange(1, 4).Draw(rt, fmt.Sprintf("replays%d", p))
			input := ApplyPaymentInput{
				ItemID:            item.ID,
				AmountCents:       amount,
				ExternalReference: uuid.NewString(),
			}
			applied := 0
			for k := 0; k < replays; k++ {
				res, err := h.svc.ApplyConfirmedPayment(ctx, input)
				if err != nil {
					rt.Fatalf("apply: %v", err)
				}
				if res.Applied {
					applied++
				}
			}
			if applied != 1 {
				rt.Fatalf("payment applied %d times", applied)
			}
			want += amount
		}

		if got := h.reload(rt, item.ID).AccumulatedAmountCents; got != want {
			rt.Fatalf("accumulated %d, want %d", got, want)
		}
		if n := h.count(rt, "ledger_events", "item_id", item.ID); n != int64(payments) {
			rt.Fatalf("ledger rows %d, want %d", n, payments)
		}
	})
}

func TestApplyConfirmedPaymentWritesLedgerAndOutbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, h.event.ID, "Camera", 3000, 0)

	res, err := h.svc.ApplyConfirmedPayment(ctx, ApplyPaymentInput{ItemID: item.ID, AmountCents: 3000, ExternalReference: "pi_cam"})
	require.NoError(t, err)

	var ledgerRow models.LedgerEvent
	require.NoError(t, h.conn.Where("item_id = ?", item.ID).First(&ledgerRow).Error)
	require.Equal(t, enums.LedgerEventTypeContributionApplied, ledgerRow.Type)
	require.Equal(t, res.Contribution.ID, *ledgerRow.ContributionID)
	require.EqualValues(t, 3000, ledgerRow.AmountCents)

	var outboxRow models.OutboxEvent
	require.NoError(t, h.conn.Where("aggregate_id = ?", item.ID).First(&outboxRow).Error)
	require.Equal(t, enums.EventContributionApplied, outboxRow.EventType)
	require.Equal(t, enums.AggregateItem, outboxRow.AggregateType)
	require.Contains(t, string(outboxRow.Payload), `"fully_funded":true`)
}
