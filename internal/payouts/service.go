package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wishpot/wishpot-backend/pkg/db"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
)

// AccountStatus answers "can this organizer receive payouts".
type AccountStatus struct {
	Connected           bool       `json:"connected"`
	OnboardingCompleted bool       `json:"onboardingCompleted"`
	Ready               bool       `json:"ready"`
	RefreshedAt         *time.Time `json:"refreshedAt,omitempty"`
}

type StartOnboardingInput struct {
	UserID uuid.UUID
	Email  string
}

type OnboardingResult struct {
	ExternalAccountID string           `json:"-"`
	Action            pkgerrors.Action `json:"action,omitempty"`
	URL               string           `json:"url"`
	ExpiresAt         time.Time        `json:"expiresAt"`
}

// AccountService manages payout accounts on top of the processor.
type AccountService struct {
	repo        AccountRepository
	connector   Connector
	provisioner AccountProvisioner
	logg        *logger.Logger
	now         func() time.Time
}

func NewAccountService(repo AccountRepository, connector Connector, provisioner AccountProvisioner, logg *logger.Logger) (*AccountService, error) {
	if repo == nil {
		return nil, fmt.Errorf("payout account repository required")
	}
	if connector == nil {
		return nil, fmt.Errorf("payout connector required")
	}
	if provisioner == nil {
		return nil, fmt.Errorf("account provisioner required")
	}
	return &AccountService{
		repo:        repo,
		connector:   connector,
		provisioner: provisioner,
		logg:        logg,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Status reports stored readiness without calling the processor.
func (s *AccountService) Status(ctx context.Context, userID uuid.UUID) (*AccountStatus, error) {
	account, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout account")
	}
	if account == nil {
		return &AccountStatus{}, nil
	}
	return &AccountStatus{
		Connected:           true,
		OnboardingCompleted: account.OnboardingCompleted,
		Ready:               account.Ready(),
		RefreshedAt:         account.RefreshedAt,
	}, nil
}

// StartOnboarding creates the processor account when absent and returns a
// hosted onboarding link.
func (s *AccountService) StartOnboarding(ctx context.Context, input StartOnboardingInput) (*OnboardingResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}

	account, err := s.repo.FindByUserID(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout account")
	}

	action := pkgerrors.ActionRefreshOnboarding
	if account == nil {
		action = pkgerrors.ActionOnboard
		account, err = s.createAccount(ctx, input)
		if err != nil {
			return nil, err
		}
	} else if account.Ready() {
		action = ""
	}

	link, err := s.provisioner.CreateOnboardingLink(ctx, account.ExternalAccountID)
	if err != nil {
		return nil, err
	}
	return &OnboardingResult{
		ExternalAccountID: account.ExternalAccountID,
		Action:            action,
		URL:               link.URL,
		ExpiresAt:         link.ExpiresAt,
	}, nil
}

func (s *AccountService) createAccount(ctx context.Context, input StartOnboardingInput) (*models.PayoutAccount, error) {
	externalID, err := s.provisioner.CreateAccount(ctx, CreateAccountInput(input))
	if err != nil {
		return nil, err
	}

	account := &models.PayoutAccount{UserID: input.UserID, ExternalAccountID: externalID}
	if err := s.repo.Create(ctx, account); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payout account")
		}
		// A concurrent onboarding stored the row first.
		existing, findErr := s.repo.FindByUserID(ctx, input.UserID)
		if findErr != nil || existing == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payout account")
		}
		return existing, nil
	}

	if s.logg != nil {
		ctx = s.logg.WithUserID(ctx, input.UserID.String())
		s.logg.Info(ctx, "payout account created")
	}
	return account, nil
}

// FindForUser returns the stored account or nil.
func (s *AccountService) FindForUser(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	account, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout account")
	}
	return account, nil
}

// RefreshReadiness asks the processor for current flags and stores them.
func (s *AccountService) RefreshReadiness(ctx context.Context, account *models.PayoutAccount) (Readiness, error) {
	readiness, err := s.connector.CheckReadiness(ctx, account.ExternalAccountID)
	if err != nil {
		return Readiness{}, err
	}
	if err := s.store(ctx, account, readiness); err != nil {
		return Readiness{}, err
	}
	return readiness, nil
}

// SyncReadiness applies flags pushed by the processor. Unknown accounts are ignored.
func (s *AccountService) SyncReadiness(ctx context.Context, externalAccountID string, readiness Readiness) error {
	account, err := s.repo.FindByExternalID(ctx, externalAccountID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout account")
	}
	if account == nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "external_account_id", externalAccountID), "readiness update for unknown payout account")
		}
		return nil
	}
	return s.store(ctx, account, readiness)
}

func (s *AccountService) store(ctx context.Context, account *models.PayoutAccount, readiness Readiness) error {
	now := s.now()
	if err := s.repo.UpdateReadiness(ctx, account.ID, readiness, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payout readiness")
	}
	account.OnboardingCompleted = readiness.OnboardingCompleted
	account.ChargesEnabled = readiness.ChargesEnabled
	account.PayoutsEnabled = readiness.PayoutsEnabled
	account.TransfersEnabled = readiness.TransfersEnabled
	account.RefreshedAt = &now
	return nil
}
