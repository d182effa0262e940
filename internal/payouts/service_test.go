package payouts_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wishpot/wishpot-backend/internal/payouts"
	"github.com/wishpot/wishpot-backend/internal/payouts/payoutstest"
	"github.com/wishpot/wishpot-backend/pkg/db/dbtest"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
)

func newAccountService(t *testing.T) (*payouts.AccountService, payouts.AccountRepository, *payoutstest.Connector) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := payouts.NewAccountRepository(conn)
	connector := payoutstest.NewReady()
	svc, err := payouts.NewAccountService(repo, connector, connector, nil)
	require.NoError(t, err)
	return svc, repo, connector
}

func TestStatusWithoutAccount(t *testing.T) {
	svc, _, _ := newAccountService(t)

	status, err := svc.Status(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, status.Connected)
	require.False(t, status.OnboardingCompleted)
}

func TestStartOnboardingCreatesAccountOnce(t *testing.T) {
	svc, repo, connector := newAccountService(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.StartOnboarding(ctx, payouts.StartOnboardingInput{UserID: userID, Email: "org@example.com"})
	require.NoError(t, err)
	require.Equal(t, pkgerrors.ActionOnboard, first.Action)
	require.Equal(t, connector.LinkURL, first.URL)

	stored, err := repo.FindByUserID(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, connector.AccountID, stored.ExternalAccountID)

	second, err := svc.StartOnboarding(ctx, payouts.StartOnboardingInput{UserID: userID})
	require.NoError(t, err)
	require.Equal(t, pkgerrors.ActionRefreshOnboarding, second.Action)

	status, err := svc.Status(ctx, userID)
	require.NoError(t, err)
	require.True(t, status.Connected)
	require.False(t, status.OnboardingCompleted)
}

func TestRefreshAndSyncReadiness(t *testing.T) {
	svc, repo, connector := newAccountService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.StartOnboarding(ctx, payouts.StartOnboardingInput{UserID: userID})
	require.NoError(t, err)

	account, err := svc.FindForUser(ctx, userID)
	require.NoError(t, err)
	readiness, err := svc.RefreshReadiness(ctx, account)
	require.NoError(t, err)
	require.True(t, readiness.Ready())
	require.True(t, account.Ready())
	require.NotNil(t, account.RefreshedAt)

	require.NoError(t, svc.SyncReadiness(ctx, connector.AccountID, payouts.Readiness{OnboardingCompleted: true}))
	stored, err := repo.FindByUserID(ctx, userID)
	require.NoError(t, err)
	require.True(t, stored.OnboardingCompleted)
	require.False(t, stored.PayoutsEnabled)

	require.NoError(t, svc.SyncReadiness(ctx, "acct_unknown", payouts.Readiness{}))

	ready, err := svc.StartOnboarding(ctx, payouts.StartOnboardingInput{UserID: userID})
	require.NoError(t, err)
	require.Equal(t, pkgerrors.ActionRefreshOnboarding, ready.Action)
}

func TestStartOnboardingRequiresUser(t *testing.T) {
	svc, _, _ := newAccountService(t)
	_, err := svc.StartOnboarding(context.Background(), payouts.StartOnboardingInput{})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}
