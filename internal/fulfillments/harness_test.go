package fulfillments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/internal/fees"
	"github.com/wishpot/wishpot-backend/internal/items"
	"github.com/wishpot/wishpot-backend/internal/ledger"
	"github.com/wishpot/wishpot-backend/internal/payouts"
	"github.com/wishpot/wishpot-backend/internal/payouts/payoutstest"
	"github.com/wishpot/wishpot-backend/pkg/db"
	"github.com/wishpot/wishpot-backend/pkg/db/dbtest"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	"github.com/wishpot/wishpot-backend/pkg/metrics"
	"github.com/wishpot/wishpot-backend/pkg/outbox"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t         *testing.T
	client    *db.Client
	conn      *gorm.DB
	repo      Repository
	guard     *Guard
	svc       *Service
	connector *payoutstest.Connector
	accounts  *payouts.AccountService
	owner     uuid.UUID
	event     models.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)

	calc, err := fees.NewCalculator(5)
	require.NoError(t, err)
	itemRepo := items.NewRepository(conn)
	repo := NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)

	guard, err := NewGuard(client, itemRepo, repo, calc, emitter)
	require.NoError(t, err)

	connector := payoutstest.NewReady()
	accounts, err := payouts.NewAccountService(payouts.NewAccountRepository(conn), connector, connector, nil)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Tx:               client,
		Guard:            guard,
		Repo:             repo,
		Items:            itemRepo,
		Accounts:         accounts,
		Connector:        connector,
		Ledger:           ledgerSvc,
		Outbox:           emitter,
		EstimatedArrival: 72 * time.Hour,
		Metrics:          metrics.NewFulfillmentMetrics(prometheus.NewRegistry()),
		Now:              func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	owner := uuid.New()
	return &harness{
		t:         t,
		client:    client,
		conn:      conn,
		repo:      repo,
		guard:     guard,
		svc:       svc,
		connector: connector,
		accounts:  accounts,
		owner:     owner,
		event:     dbtest.SeedEvent(t, conn, owner, "Our wedding"),
	}
}

func (h *harness) item(price, accumulated int64) models.Item {
	return dbtest.SeedItem(h.t, h.conn, h.event.ID, "Dishwasher", price, accumulated)
}

func (h *harness) readyAccount() models.PayoutAccount {
	return dbtest.SeedPayoutAccount(h.t, h.conn, h.owner, h.connector.AccountID, true)
}

func (h *harness) input(item models.Item, key string) CreateInput {
	return CreateInput{
		ItemID:         item.ID,
		EventID:        h.event.ID,
		RequestedBy:    h.owner,
		Method:         enums.FulfillmentMethodBankTransfer,
		IdempotencyKey: key,
	}
}

func (h *harness) reloadFulfillment(id uuid.UUID) models.Fulfillment {
	var f models.Fulfillment
	require.NoError(h.t, h.conn.Where("id = ?", id).First(&f).Error)
	return f
}

func (h *harness) reloadItem(id uuid.UUID) models.Item {
	var item models.Item
	require.NoError(h.t, h.conn.Where("id = ?", id).First(&item).Error)
	return item
}

func (h *harness) ledgerTypes(fulfillmentID uuid.UUID) []enums.LedgerEventType {
	var rows []models.LedgerEvent
	require.NoError(h.t, h.conn.Where("fulfillment_id = ?", fulfillmentID).Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.LedgerEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Type)
	}
	return out
}

func (h *harness) outboxTypes(fulfillmentID uuid.UUID) []enums.OutboxEventType {
	var rows []models.OutboxEvent
	require.NoError(h.t, h.conn.Where("aggregate_id = ?", fulfillmentID).Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func (h *harness) countFulfillments(itemID uuid.UUID) int64 {
	var n int64
	require.NoError(h.t, h.conn.Model(&models.Fulfillment{}).Where("item_id = ?", itemID).Count(&n).Error)
	return n
}

// processing reserves and initiates a transfer, returning the processing row.
func (h *harness) processing(item models.Item, key string) *models.Fulfillment {
	res, err := h.svc.CreateFulfillment(context.Background(), h.input(item, key))
	require.NoError(h.t, err)
	require.Equal(h.t, enums.FulfillmentStatusProcessing, res.Fulfillment.Status)
	return res.Fulfillment
}

func itemsRepoFor(h *harness) items.Repository {
	return items.NewRepository(h.conn)
}
