package items

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/db/dbtest"
)

func TestRepositoryFindInEventScopesByEvent(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	event := dbtest.SeedEvent(t, conn, uuid.New(), "Wedding")
	other := dbtest.SeedEvent(t, conn, uuid.New(), "Birthday")
	item := dbtest.SeedItem(t, conn, event.ID, "Stand mixer", 10000, 0)

	found, err := repo.FindInEvent(ctx, event.ID, item.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "Stand mixer", found.Title)

	missing, err := repo.FindInEvent(ctx, other.ID, item.ID)
	require.NoError(t, err)
	require.Nil(t, missing)

	locked, err := repo.FindInEventForUpdate(ctx, event.ID, item.ID)
	require.NoError(t, err)
	require.Equal(t, item.ID, locked.ID)
}

func TestRepositoryAddToAccumulated(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	event := dbtest.SeedEvent(t, conn, uuid.New(), "Wedding")
	item := dbtest.SeedItem(t, conn, event.ID, "Kettle", 5000, 1000)

	require.NoError(t, repo.AddToAccumulated(ctx, item.ID, 2500))
	require.NoError(t, repo.AddToAccumulated(ctx, item.ID, 500))

	reloaded, err := repo.FindByID(ctx, item.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4000, reloaded.AccumulatedAmountCents)

	err = repo.AddToAccumulated(ctx, uuid.New(), 100)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryMarkFulfilledOnce(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	event := dbtest.SeedEvent(t, conn, uuid.New(), "Wedding")
	item := dbtest.SeedItem(t, conn, event.ID, "Kettle", 5000, 5000)
	at := time.Now().UTC()

	require.NoError(t, repo.MarkFulfilled(ctx, item.ID, at))
	require.ErrorIs(t, repo.MarkFulfilled(ctx, item.ID, at), gorm.ErrRecordNotFound)

	reloaded, err := repo.FindByID(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Fulfilled)
	require.NotNil(t, reloaded.FulfilledAt)
}

func TestRepositoryWithTxSeesUncommittedRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, conn, uuid.New(), "Wedding")

	err := conn.Transaction(func(tx *gorm.DB) error {
		item := dbtest.SeedItem(t, tx, event.ID, "Toaster", 3000, 0)
		found, err := repo.WithTx(tx).FindByIDForUpdate(ctx, item.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		return nil
	})
	require.NoError(t, err)
}
